// Package transport terminates the long-lived duplex sockets the hub and
// clients speak over, using github.com/coder/websocket as the framed
// transport. Conn is shared by both sides: accept options, read limit,
// write timeout, ping keepalive, and close-error classification.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"starhub/protocol"
)

// Subprotocol is the WebSocket subprotocol both the hub and every client
// negotiate, pinning the wire contract version.
const Subprotocol = "star.hub.v1"

const defaultWriteTimeout = 5 * time.Second

// Close codes the hub sends when it rejects or prunes a connection.
const (
	CloseNormal              = int(websocket.StatusNormalClosure)
	CloseShutdownOrHeartbeat = int(websocket.StatusGoingAway)     // 1001: "Server shutdown" / "Heartbeat timeout"
	CloseHandshakeOrDupe     = int(websocket.StatusProtocolError) // 1002: "Invalid handshake" / "Duplicate client id"
	CloseRegistrationFailed  = int(websocket.StatusInternalError)    // 1011: "Registration failed"
	CloseOverloaded          = int(websocket.StatusTryAgainLater)    // 1013: "Overloaded"
	CloseRateLimited         = int(websocket.StatusPolicyViolation)  // 1008: sliding-window rate limit exceeded
)

// Conn wraps one websocket connection with the envelope codec and the
// write/close discipline the hub and client base both need: a single
// writer at a time, a bounded write timeout, and an idempotent close.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// AcceptOptions configures Accept.
type AcceptOptions struct {
	// MaxFrameBytes bounds a single inbound frame. Zero uses the
	// coder/websocket default.
	MaxFrameBytes int64
	// InsecureSkipVerify disables the WebSocket origin check. The hub
	// binary runs with this on by default; a deployment fronting the hub
	// with its own origin check (reverse proxy, API gateway) is expected
	// to set this false.
	InsecureSkipVerify bool
}

// Accept upgrades an HTTP request to a websocket connection.
func Accept(w http.ResponseWriter, r *http.Request, opts AcceptOptions) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{Subprotocol},
		InsecureSkipVerify: opts.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}
	if opts.MaxFrameBytes > 0 {
		ws.SetReadLimit(opts.MaxFrameBytes)
	}
	return &Conn{ws: ws, writeTimeout: defaultWriteTimeout}, nil
}

// Dial opens a client-side connection to url.
func Dial(ctx context.Context, url string) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws, writeTimeout: defaultWriteTimeout}, nil
}

// Send encodes and writes env, bounded by the connection's write timeout.
// Writes are serialised so that concurrent callers (the router fanning out
// a broadcast, a client's own goroutines) never interleave frames.
func (c *Conn) Send(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Recv blocks for the next frame and decodes it as an envelope.
func (c *Conn) Recv(ctx context.Context) (protocol.Envelope, error) {
	mt, data, err := c.ws.Read(ctx)
	if err != nil {
		return protocol.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return protocol.Envelope{}, errors.New("transport: unsupported websocket message type")
	}
	return protocol.Decode(data)
}

// Ping sends a websocket ping, used by the heartbeat keepalive loop.
func (c *Conn) Ping(ctx context.Context) error {
	return c.ws.Ping(ctx)
}

// Close closes the connection with the given close code and reason.
// Idempotent: only the first call actually closes the socket.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close(websocket.StatusCode(code), reason)
	})
	return c.closeErr
}

// ReadErrorKind classifies a Recv error for logging/control-flow purposes.
type ReadErrorKind uint8

const (
	ReadErrUnknown ReadErrorKind = iota
	ReadErrClose
	ReadErrCtxDone
	ReadErrConnClosed
)

// CloseStatus extracts the close code from an error returned by Recv/Send,
// or -1 if err does not carry one.
func CloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}

// ClassifyReadError buckets an error returned from Recv.
func ClassifyReadError(err error) ReadErrorKind {
	if websocket.CloseStatus(err) != -1 {
		return ReadErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReadErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return ReadErrConnClosed
	}
	s := err.Error()
	if strings.Contains(s, "use of closed network connection") || strings.Contains(s, "broken pipe") {
		return ReadErrConnClosed
	}
	return ReadErrUnknown
}
