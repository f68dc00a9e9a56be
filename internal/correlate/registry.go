// ABOUTME: Correlates asynchronous client responses back to the requests that produced them.
// ABOUTME: Self-expiring mailbox registry with blocking, re-armable waits.

package correlate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dialogmesh/botbridge/internal/api"
)

const (
	// DefaultWaitTimeout bounds a single AwaitNext call.
	DefaultWaitTimeout = 10 * time.Second

	// DefaultExpiryGrace is added to the wait timeout to form each mailbox's
	// time to live.
	DefaultExpiryGrace = time.Second
)

// Options configures a Registry.
type Options struct {
	WaitTimeout time.Duration
	ExpiryGrace time.Duration
	Logger      *slog.Logger
}

// Registry maps request ids to mailboxes. Deliveries may come from any
// goroutine; each mailbox has a single logical waiter. Mailboxes expire
// after WaitTimeout+ExpiryGrace whether or not they were ever drained.
type Registry struct {
	mu        sync.RWMutex
	mailboxes map[string]*Mailbox

	timeout time.Duration
	ttl     time.Duration
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a registry and starts its background expiry sweep.
func NewRegistry(opts Options) *Registry {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.ExpiryGrace <= 0 {
		opts.ExpiryGrace = DefaultExpiryGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Registry{
		mailboxes: make(map[string]*Mailbox),
		timeout:   opts.WaitTimeout,
		ttl:       opts.WaitTimeout + opts.ExpiryGrace,
		logger:    opts.Logger.With("component", "correlator"),
		done:      make(chan struct{}),
	}
	go r.sweep()
	return r
}

// WaitTimeout returns the configured bound for a single wait cycle.
func (r *Registry) WaitTimeout() time.Duration {
	return r.timeout
}

// Register creates and stores a mailbox for the request id, silently
// replacing any prior one with the same id. The replaced mailbox's future
// deliveries become unreachable; that is not an error.
func (r *Registry) Register(requestID string) *Mailbox {
	mb := newMailbox(requestID, r.ttl)
	r.mu.Lock()
	r.mailboxes[requestID] = mb
	r.mu.Unlock()
	return mb
}

// Deliver appends a response to the mailbox registered for its request id
// and signals the waiter. Returns false when the id is unknown, expired, or
// already finished; the caller decides the fallback.
func (r *Registry) Deliver(requestID string, resp *api.ResponseData) bool {
	r.mu.RLock()
	mb := r.mailboxes[requestID]
	r.mu.RUnlock()

	if mb == nil {
		return false
	}
	if mb.expired(time.Now()) {
		r.remove(requestID, mb)
		return false
	}
	if !mb.append(resp) {
		r.logger.Warn("dropping response delivered after terminal",
			"request_id", requestID,
		)
		return false
	}
	return true
}

// AwaitNext blocks up to the wait timeout and returns all responses not yet
// delivered, ordered by context date. An empty result means the wait timed
// out (or the mailbox is finished). When the drained tail is not terminal the
// mailbox re-arms so a subsequent call keeps waiting for more parts.
func (r *Registry) AwaitNext(mb *Mailbox) []*api.ResponseData {
	if mb == nil || mb.Finished() {
		return nil
	}

	deadline := time.Now().Add(r.timeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return r.drainAndReap(mb)
		}
		timer := time.NewTimer(remain)
		select {
		case <-mb.signal:
			timer.Stop()
			if batch := r.drainAndReap(mb); len(batch) > 0 {
				return batch
			}
			// Stale wake-up from an already-drained delivery; keep waiting.
		case <-timer.C:
			return r.drainAndReap(mb)
		case <-r.done:
			timer.Stop()
			return r.drainAndReap(mb)
		}
	}
}

// WaitForResponse loops over AwaitNext, invoking onEach for every drained
// response, until a terminal response has been delivered, the mailbox
// expires, or a full wait cycle produces nothing.
func (r *Registry) WaitForResponse(mb *Mailbox, onEach func(*api.ResponseData)) {
	if mb == nil {
		return
	}
	for {
		batch := r.AwaitNext(mb)
		if len(batch) == 0 {
			return
		}
		for _, resp := range batch {
			onEach(resp)
		}
		if mb.Finished() || mb.expired(time.Now()) {
			return
		}
	}
}

// drainAndReap drains the mailbox and unregisters it once finished.
func (r *Registry) drainAndReap(mb *Mailbox) []*api.ResponseData {
	batch := mb.drain()
	if mb.Finished() {
		r.remove(mb.requestID, mb)
	}
	return batch
}

// remove deletes the mailbox only if it is still the registered one, so a
// replacement registered under the same id survives.
func (r *Registry) remove(requestID string, mb *Mailbox) {
	r.mu.Lock()
	if r.mailboxes[requestID] == mb {
		delete(r.mailboxes, requestID)
	}
	r.mu.Unlock()
}

// sweep periodically discards expired mailboxes that nobody drained.
func (r *Registry) sweep() {
	interval := r.ttl / 4
	if interval < 25*time.Millisecond {
		interval = 25 * time.Millisecond
	}
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.reapExpired()
		case <-r.done:
			return
		}
	}
}

func (r *Registry) reapExpired() {
	now := time.Now()
	r.mu.Lock()
	for id, mb := range r.mailboxes {
		if mb.expired(now) {
			delete(r.mailboxes, id)
		}
	}
	r.mu.Unlock()
}

// Close stops the background sweep and releases current waiters. Safe to
// call multiple times.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
