// ABOUTME: HTTP API handlers for talking to hosted bots and managing registrations.
// ABOUTME: POST /api/talk streams bot responses to the caller via SSE.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dialogmesh/botbridge/internal/api"
	"github.com/dialogmesh/botbridge/internal/bridge"
	"github.com/dialogmesh/botbridge/internal/socket"
	"github.com/dialogmesh/botbridge/internal/store"
)

// TalkRequest is the JSON request body for POST /api/talk.
type TalkRequest struct {
	APIKey   string `json:"api_key"`
	UserID   string `json:"user_id"`
	Language string `json:"language,omitempty"`
	Text     string `json:"text"`
	StoryID  string `json:"story_id,omitempty"`
	Intent   string `json:"intent,omitempty"`
}

// RegisterBotRequest is the JSON request body for POST /api/bots.
type RegisterBotRequest struct {
	APIKey     string `json:"api_key"`
	BotID      string `json:"bot_id"`
	Name       string `json:"name,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// BotResponse is the JSON representation of one registered bot. The API key
// is never echoed back in full.
type BotResponse struct {
	APIKey     string `json:"api_key"`
	BotID      string `json:"bot_id"`
	Name       string `json:"name,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
	Connected  bool   `json:"connected"`
	CreatedAt  string `json:"created_at"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once at least one bot client has a live socket
// channel. Bots reachable only by webhook do not count; probing them here
// would make readiness depend on an external host.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.connectedCount()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no bot clients connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connected)", n)
}

// handleTalk handles POST /api/talk requests. The user request is delivered
// over whichever transport the bridge selects and every bot response part is
// streamed back as an SSE message event, the last one terminal.
func (g *Gateway) handleTalk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseTalkRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	b := g.bridgeFor(req.APIKey)
	if b == nil {
		g.sendJSONError(w, http.StatusNotFound, "unknown api key")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	userReq := &api.UserRequest{
		UserID:   req.UserID,
		Language: req.Language,
		Text:     req.Text,
		StoryID:  req.StoryID,
		Intent:   req.Intent,
	}

	err = b.Send(r.Context(), userReq, func(resp *api.ResponseData) {
		g.writeSSEEvent(w, "message", resp)
		flusher.Flush()
	})
	if errors.Is(err, bridge.ErrNoTransport) {
		g.writeSSEEvent(w, "error", map[string]string{"error": "bot unavailable"})
		flusher.Flush()
		return
	}
	if err != nil {
		g.logger.Error("delivering user request failed", "error", err)
		g.writeSSEEvent(w, "error", map[string]string{"error": "internal server error"})
		flusher.Flush()
		return
	}

	g.writeSSEEvent(w, "done", map[string]string{})
	flusher.Flush()
}

// handleConfiguration handles GET /api/configuration?api_key=X requests. A
// fresh probe runs when nothing is cached yet.
func (g *Gateway) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	apiKey := r.URL.Query().Get("api_key")
	b := g.bridgeFor(apiKey)
	if b == nil {
		g.sendJSONError(w, http.StatusNotFound, "unknown api key")
		return
	}

	cfg := b.LastConfiguration()
	if cfg == nil {
		cfg = b.FetchConfiguration(r.Context())
	}
	if cfg == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "bot configuration unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

// handleBots handles GET and POST /api/bots requests.
func (g *Gateway) handleBots(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.listBots(w, r)
	case http.MethodPost:
		g.registerBot(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleBotByKey handles DELETE /api/bots/{api_key} requests.
func (g *Gateway) handleBotByKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	apiKey := strings.TrimPrefix(r.URL.Path, "/api/bots/")
	if apiKey == "" {
		g.sendJSONError(w, http.StatusBadRequest, "api key is required")
		return
	}

	err := g.store.DeleteBot(r.Context(), apiKey)
	if errors.Is(err, store.ErrBotNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "unknown api key")
		return
	}
	if err != nil {
		g.logger.Error("deleting bot failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.mu.Lock()
	delete(g.bridges, apiKey)
	g.mu.Unlock()

	// Revoke socket access too: the key must not keep (or reopen) a push
	// channel after the registration is gone.
	g.sockets.Unregister(apiKey)

	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) listBots(w http.ResponseWriter, r *http.Request) {
	bots, err := g.store.ListBots(r.Context())
	if err != nil {
		g.logger.Error("listing bots failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]BotResponse, 0, len(bots))
	for _, bot := range bots {
		response = append(response, BotResponse{
			APIKey:     socket.Redact(bot.APIKey),
			BotID:      bot.BotID,
			Name:       bot.Name,
			WebhookURL: bot.WebhookURL,
			Connected:  g.sockets.PushHandler(bot.APIKey) != nil,
			CreatedAt:  bot.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (g *Gateway) registerBot(w http.ResponseWriter, r *http.Request) {
	req, err := parseRegisterRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	bot := &store.Bot{
		APIKey:     req.APIKey,
		BotID:      req.BotID,
		Name:       req.Name,
		WebhookURL: req.WebhookURL,
	}
	if err := g.store.SaveBot(r.Context(), bot); err != nil {
		g.logger.Error("saving bot failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.installBridge(r.Context(), bot)
	g.logger.Info("bot registered", "bot_id", req.BotID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"bot_id": req.BotID})
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseTalkRequest parses and validates a TalkRequest from the given reader.
func parseTalkRequest(r io.Reader) (*TalkRequest, error) {
	var req TalkRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.APIKey == "" {
		return nil, errors.New("api_key is required")
	}
	if req.UserID == "" {
		return nil, errors.New("user_id is required")
	}
	if req.Text == "" {
		return nil, errors.New("text is required")
	}
	return &req, nil
}

// parseRegisterRequest parses and validates a RegisterBotRequest.
func parseRegisterRequest(r io.Reader) (*RegisterBotRequest, error) {
	var req RegisterBotRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if req.APIKey == "" {
		return nil, errors.New("api_key is required")
	}
	if req.BotID == "" {
		return nil, errors.New("bot_id is required")
	}
	return &req, nil
}
