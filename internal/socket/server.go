// ABOUTME: Websocket endpoint accepting inbound bot client connections.
// ABOUTME: Authenticates by bearer token or API key and binds the socket as a push channel.

package socket

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrMissingCredentials indicates a connection attempt with no usable
// Authorization or X-API-Key header.
var ErrMissingCredentials = errors.New("missing credentials")

// TokenVerifier validates a bearer token and returns the API key it was
// issued for.
type TokenVerifier interface {
	Verify(token string) (apiKey string, err error)
}

// Server upgrades inbound HTTP requests to websocket push channels and wires
// them into the registry.
type Server struct {
	registry *Registry
	verifier TokenVerifier // nil means bearer tokens are rejected
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a websocket server bound to the given registry.
func NewServer(registry *Registry, verifier TokenVerifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry: registry,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "socket-server"),
	}
}

// ServeHTTP handles one client connection for its whole lifetime: upgrade,
// bind the write side as the key's push handler, then pump inbound payloads
// into the registry until the peer goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiKey, err := s.authenticate(r)
	if err != nil {
		s.logger.Warn("rejecting socket connection", "error", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// gorilla connections allow a single concurrent writer.
	var writeMu sync.Mutex
	push := func(payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	bindID, err := s.registry.Bind(apiKey, push, func() { _ = conn.Close() })
	if err != nil {
		s.logger.Warn("binding socket failed", "api_key", Redact(apiKey), "error", err)
		return
	}
	defer s.registry.Unbind(apiKey, bindID)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("socket read failed", "api_key", Redact(apiKey), "error", err)
			}
			return
		}
		if !s.registry.Dispatch(apiKey, payload) {
			s.logger.Warn("no receive handler for socket payload", "api_key", Redact(apiKey))
		}
	}
}

// authenticate resolves the connecting client's API key from either a bearer
// token (sub = API key) or a plain X-API-Key header, and checks it is
// authorized.
func (s *Server) authenticate(r *http.Request) (string, error) {
	var apiKey string

	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		if s.verifier == nil {
			return "", errors.New("bearer auth not configured")
		}
		key, err := s.verifier.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return "", err
		}
		apiKey = key
	} else if key := r.Header.Get("X-API-Key"); key != "" {
		apiKey = key
	} else {
		return "", ErrMissingCredentials
	}

	if !s.registry.IsAuthorized(apiKey) {
		return "", ErrKeyNotAuthorized
	}
	return apiKey, nil
}
