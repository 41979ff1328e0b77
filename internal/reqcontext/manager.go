package reqcontext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"starhub/internal/ids"
)

// ErrTimeout is the error a waiter observes when its entry expires before a
// reply arrives.
var ErrTimeout = errors.New("reqcontext: request timed out")

// ErrNotFound is returned by operations addressing a request id that is not
// (or is no longer) tracked.
var ErrNotFound = errors.New("reqcontext: request not found")

const (
	// DefaultTimeout bounds a wait when the caller sets none.
	DefaultTimeout = 30 * time.Second
	sweepInterval  = 60 * time.Second
	// retention is the grace period a terminal entry stays visible for
	// diagnostics before the sweeper removes it.
	retention = 5 * time.Minute
)

// Stats is the snapshot returned by Manager.Stats.
type Stats struct {
	TotalRequests     int
	CompletedRequests int
	TimeoutRequests   int
	ErrorRequests     int
	PendingRequests   int
	ActiveContexts    int
	RequestTypes      []string
}

// CreateOption customises a single Create call.
type CreateOption func(*createOpts)

type createOpts struct {
	requestID  string
	timeout    time.Duration
	metadata   map[string]any
	onComplete func(any)
}

// WithRequestID overrides the minted request id, for callers correlating
// against an id chosen elsewhere (e.g. an action_id already sent).
func WithRequestID(id string) CreateOption {
	return func(o *createOpts) { o.requestID = id }
}

// WithTimeout overrides the manager's default timeout for one request.
func WithTimeout(d time.Duration) CreateOption {
	return func(o *createOpts) { o.timeout = d }
}

// WithMetadata attaches caller-defined metadata to the entry.
func WithMetadata(m map[string]any) CreateOption {
	return func(o *createOpts) { o.metadata = m }
}

// WithCallback registers a function invoked (in its own goroutine) once
// the entry completes successfully.
func WithCallback(cb func(any)) CreateOption {
	return func(o *createOpts) { o.onComplete = cb }
}

// Manager tracks outstanding request/response correlations for one client.
// A client base holds exactly one Manager and consults it whenever an
// outcome or event arrives to see whether it matches a pending request.
type Manager struct {
	clientID       string
	defaultTimeout time.Duration
	log            *slog.Logger

	mu       sync.Mutex
	entries  map[string]*Entry
	byType   map[string]map[string]struct{}
	total    int
	done     int
	timedOut int
	errored  int

	group      *errgroup.Group
	cancelRoot context.CancelFunc
}

// New constructs a Manager for clientID. defaultTimeout falls back to
// DefaultTimeout when zero or negative.
func New(clientID string, defaultTimeout time.Duration, log *slog.Logger) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		clientID:       clientID,
		defaultTimeout: defaultTimeout,
		log:            log,
		entries:        make(map[string]*Entry),
		byType:         make(map[string]map[string]struct{}),
	}
}

// Start launches the background sweeper that expires stale pending entries
// and removes old terminal ones.
func (m *Manager) Start(ctx context.Context) {
	rootCtx, cancel := context.WithCancel(ctx)
	g, gCtx := errgroup.WithContext(rootCtx)
	m.cancelRoot = cancel
	m.group = g

	g.Go(func() error {
		m.sweepLoop(gCtx)
		return nil
	})
}

// Stop cancels the sweeper and waits for it to exit.
func (m *Manager) Stop() error {
	if m.cancelRoot != nil {
		m.cancelRoot()
	}
	if m.group != nil {
		return m.group.Wait()
	}
	return nil
}

// Create opens a new pending entry and returns it. Callers typically read
// entry.RequestID to embed in the outbound action/event, then call Wait.
func (m *Manager) Create(requestType string, requestData map[string]any, opts ...CreateOption) (*Entry, error) {
	o := createOpts{timeout: m.defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	requestID := o.requestID
	if requestID == "" {
		var err error
		requestID, err = m.generateRequestID(requestType)
		if err != nil {
			return nil, err
		}
	}

	entry := newEntry(requestID, requestType, requestData, o.metadata, o.timeout, o.onComplete)

	m.mu.Lock()
	m.entries[requestID] = entry
	if m.byType[requestType] == nil {
		m.byType[requestType] = make(map[string]struct{})
	}
	m.byType[requestType][requestID] = struct{}{}
	m.total++
	m.mu.Unlock()

	m.log.Debug("reqcontext: created", "request_id", requestID, "type", requestType)
	return entry, nil
}

// Wait blocks until requestID completes, errors, times out, or ctx is
// cancelled, returning the completion value or the failure reason.
func (m *Manager) Wait(ctx context.Context, requestID string) (any, error) {
	entry, ok := m.Get(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}

	timer := time.NewTimer(entry.Timeout)
	defer timer.Stop()

	select {
	case <-entry.done:
		entry.mu.Lock()
		value, err := entry.value, entry.err
		entry.mu.Unlock()
		return value, err
	case <-timer.C:
		if entry.expire() {
			m.mu.Lock()
			m.timedOut++
			m.mu.Unlock()
			m.log.Warn("reqcontext: request timed out", "request_id", requestID)
		}
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete resolves a pending request with a successful value. Returns
// false if the request is unknown or already resolved.
func (m *Manager) Complete(requestID string, value any) bool {
	entry, ok := m.Get(requestID)
	if !ok {
		m.log.Warn("reqcontext: complete for unknown request", "request_id", requestID)
		return false
	}
	if !entry.complete(value) {
		return false
	}
	m.mu.Lock()
	m.done++
	m.mu.Unlock()
	return true
}

// Error resolves a pending request with a failure. Returns false if the
// request is unknown or already resolved.
func (m *Manager) Error(requestID string, cause error) bool {
	entry, ok := m.Get(requestID)
	if !ok {
		m.log.Warn("reqcontext: error for unknown request", "request_id", requestID)
		return false
	}
	if !entry.fail(cause) {
		return false
	}
	m.mu.Lock()
	m.errored++
	m.mu.Unlock()
	m.log.Warn("reqcontext: request failed", "request_id", requestID, "err", cause)
	return true
}

// Get returns the entry for requestID, if tracked.
func (m *Manager) Get(requestID string) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[requestID]
	return e, ok
}

// ByType returns every tracked entry of the given request type.
func (m *Manager) ByType(requestType string) []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byType[requestType]
	out := make([]*Entry, 0, len(ids))
	for id := range ids {
		if e, ok := m.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Pending returns every entry still awaiting a reply.
func (m *Manager) Pending() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, 0)
	for _, e := range m.entries {
		if e.Status() == StatusPending {
			out = append(out, e)
		}
	}
	return out
}

// Remove drops requestID from tracking, returning whether it was present.
func (m *Manager) Remove(requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(requestID)
}

func (m *Manager) removeLocked(requestID string) bool {
	entry, ok := m.entries[requestID]
	if !ok {
		return false
	}
	delete(m.entries, requestID)
	if set := m.byType[entry.RequestType]; set != nil {
		delete(set, requestID)
		if len(set) == 0 {
			delete(m.byType, entry.RequestType)
		}
	}
	return true
}

// Stats returns a snapshot of the manager's counters, matching
// ClientContext.get_stats's key set.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := 0
	for _, e := range m.entries {
		if e.Status() == StatusPending {
			pending++
		}
	}
	types := make([]string, 0, len(m.byType))
	for t := range m.byType {
		types = append(types, t)
	}

	return Stats{
		TotalRequests:     m.total,
		CompletedRequests: m.done,
		TimeoutRequests:   m.timedOut,
		ErrorRequests:     m.errored,
		PendingRequests:   pending,
		ActiveContexts:    len(m.entries),
		RequestTypes:      types,
	}
}

func (m *Manager) generateRequestID(requestType string) (string, error) {
	id, err := ids.New()
	if err != nil {
		return "", fmt.Errorf("reqcontext: mint request id: %w", err)
	}
	return fmt.Sprintf("%s_%s_%s", m.clientID, requestType, id), nil
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep expires pending entries that outlived their timeout and removes
// terminal entries older than retention.
func (m *Manager) sweep() {
	m.mu.Lock()
	stale := make([]string, 0)
	expiredNow := make([]*Entry, 0)
	for id, e := range m.entries {
		switch e.Status() {
		case StatusPending:
			if e.Expired() {
				expiredNow = append(expiredNow, e)
			}
		case StatusCompleted, StatusTimeout, StatusError:
			if e.SinceTerminal() > retention {
				stale = append(stale, id)
			}
		}
	}
	m.mu.Unlock()

	for _, e := range expiredNow {
		if e.expire() {
			m.mu.Lock()
			m.timedOut++
			m.mu.Unlock()
		}
	}

	if len(stale) == 0 {
		return
	}
	m.mu.Lock()
	for _, id := range stale {
		m.removeLocked(id)
	}
	m.mu.Unlock()
	m.log.Debug("reqcontext: swept expired entries", "count", len(stale))
}
