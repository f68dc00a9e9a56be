// ABOUTME: Registry of inbound bot client socket channels keyed by API key.
// ABOUTME: Tracks authorized keys, receive handlers, and live push handlers.

package socket

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrKeyNotAuthorized indicates a connection attempt for an unregistered key.
var ErrKeyNotAuthorized = errors.New("api key not authorized")

// PushHandler pushes a serialized request down the client's socket.
type PushHandler func(payload []byte) error

// ReceiveHandler consumes a serialized response pushed by the client.
type ReceiveHandler func(payload []byte)

type entry struct {
	receive   ReceiveHandler
	push      PushHandler
	closeConn func()
	bindID    uint64
}

// Registry tracks which API keys may open a socket channel and, for each,
// the currently bound connection (if any) and the handler consuming its
// inbound payloads. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	nextID  uint64
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "socket-registry"),
	}
}

// RegisterAuthorizedKey allows clients holding apiKey to connect.
func (r *Registry) RegisterAuthorizedKey(apiKey string) {
	r.mu.Lock()
	if _, ok := r.entries[apiKey]; !ok {
		r.entries[apiKey] = &entry{}
	}
	r.mu.Unlock()
}

// IsAuthorized reports whether apiKey may connect.
func (r *Registry) IsAuthorized(apiKey string) bool {
	r.mu.RLock()
	_, ok := r.entries[apiKey]
	r.mu.RUnlock()
	return ok
}

// SetReceiveHandler installs the consumer for payloads pushed by the client
// holding apiKey. The key is authorized implicitly.
func (r *Registry) SetReceiveHandler(apiKey string, h ReceiveHandler) {
	r.mu.Lock()
	e, ok := r.entries[apiKey]
	if !ok {
		e = &entry{}
		r.entries[apiKey] = e
	}
	e.receive = h
	r.mu.Unlock()
}

// PushHandler returns the push function of the live connection for apiKey,
// or nil when no client is currently connected.
func (r *Registry) PushHandler(apiKey string) PushHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[apiKey]; ok {
		return e.push
	}
	return nil
}

// Bind attaches a live connection's push function to apiKey, replacing any
// prior connection. closeConn, when non-nil, tears the connection down if the
// key is unregistered later. Returns a binding id to pass to Unbind so a
// stale connection closing late cannot tear down its replacement.
func (r *Registry) Bind(apiKey string, push PushHandler, closeConn func()) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[apiKey]
	if !ok {
		return 0, ErrKeyNotAuthorized
	}
	r.nextID++
	e.push = push
	e.closeConn = closeConn
	e.bindID = r.nextID
	r.logger.Info("bot client connected", "api_key", Redact(apiKey))
	return r.nextID, nil
}

// Unbind clears the push handler if bindID still identifies the live
// connection.
func (r *Registry) Unbind(apiKey string, bindID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[apiKey]
	if !ok || e.bindID != bindID {
		return
	}
	e.push = nil
	e.closeConn = nil
	r.logger.Info("bot client disconnected", "api_key", Redact(apiKey))
}

// Unregister revokes apiKey entirely: the entry is dropped so the key can no
// longer connect, and any live connection is closed. A no-op for unknown keys.
func (r *Registry) Unregister(apiKey string) {
	r.mu.Lock()
	e, ok := r.entries[apiKey]
	if ok {
		delete(r.entries, apiKey)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if e.closeConn != nil {
		e.closeConn()
	}
	r.logger.Info("bot client unregistered", "api_key", Redact(apiKey))
}

// Dispatch hands an inbound payload to the receive handler for apiKey.
// Returns false when no handler is installed.
func (r *Registry) Dispatch(apiKey string, payload []byte) bool {
	r.mu.RLock()
	var h ReceiveHandler
	if e, ok := r.entries[apiKey]; ok {
		h = e.receive
	}
	r.mu.RUnlock()

	if h == nil {
		return false
	}
	h(payload)
	return true
}

// Redact shortens an API key for log output.
func Redact(apiKey string) string {
	if len(apiKey) <= 4 {
		return "****"
	}
	return apiKey[:4] + "****"
}
