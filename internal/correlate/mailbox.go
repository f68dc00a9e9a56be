// ABOUTME: Per-request mailbox accumulating asynchronous responses for one waiter.
// ABOUTME: Supports concurrent appends from I/O goroutines while a single waiter drains.

package correlate

import (
	"sort"
	"sync"
	"time"

	"github.com/dialogmesh/botbridge/internal/api"
)

// Mailbox collects responses for a single request id until a terminal
// response is drained or the mailbox expires. Created by Registry.Register.
type Mailbox struct {
	requestID string
	expiresAt time.Time

	mu       sync.Mutex
	received []*api.ResponseData
	seen     map[string]struct{}
	finished bool

	// signal carries at most one wake-up token; deliveries re-signal after
	// each drain so a waiter can keep waiting for more parts.
	signal chan struct{}
}

func newMailbox(requestID string, ttl time.Duration) *Mailbox {
	return &Mailbox{
		requestID: requestID,
		expiresAt: time.Now().Add(ttl),
		seen:      make(map[string]struct{}),
		signal:    make(chan struct{}, 1),
	}
}

// RequestID returns the request id this mailbox correlates.
func (m *Mailbox) RequestID() string {
	return m.requestID
}

// Finished reports whether a terminal response has been drained.
func (m *Mailbox) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finished
}

func (m *Mailbox) expired(now time.Time) bool {
	return now.After(m.expiresAt)
}

// append stores a response and wakes the waiter. Returns false once the
// mailbox is finished: no writes happen after a terminal drain.
func (m *Mailbox) append(resp *api.ResponseData) bool {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return false
	}
	m.received = append(m.received, resp)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// drain atomically takes all responses not yet delivered, sorted by their
// context date, and marks them delivered. Duplicate values are dropped. When
// the drained tail is terminal the mailbox is marked finished.
func (m *Mailbox) drain() []*api.ResponseData {
	m.mu.Lock()
	defer m.mu.Unlock()

	var batch []*api.ResponseData
	for _, resp := range m.received {
		key := dedupKey(resp)
		if _, dup := m.seen[key]; dup {
			continue
		}
		m.seen[key] = struct{}{}
		batch = append(batch, resp)
	}
	m.received = nil

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Context.Date.Before(batch[j].Context.Date)
	})

	if len(batch) > 0 && batch[len(batch)-1].Terminal() {
		m.finished = true
	}
	return batch
}

// dedupKey identifies a response by value so a re-delivered identical
// response is never handed to the waiter twice.
func dedupKey(resp *api.ResponseData) string {
	data, err := api.Marshal(resp)
	if err != nil {
		// Unmarshalable responses cannot reach the wire; fall back to the id.
		return resp.RequestID
	}
	return string(data)
}
