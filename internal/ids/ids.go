// Package ids mints collision-resistant identifiers for envelopes and
// context requests.
package ids

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrEntropy is returned when the system CSPRNG cannot be read. Unlike a
// one-shot dev tool, a live hub mints ids on every inbound frame and must not
// crash the process over transient entropy starvation.
var ErrEntropy = errors.New("ids: failed to read entropy")

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a fresh ULID string: 128 bits, lexically sortable by
// millisecond, suitable for envelope_id, request_id, and action_id.
func New() (string, error) {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", ErrEntropy
	}
	return id.String(), nil
}

// MustNew is New but panics on entropy failure. Reserved for paths that run
// once (CLI tools, test setup) rather than per inbound frame.
func MustNew() string {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}
