// ABOUTME: Tests for the gateway HTTP API, including an end-to-end socket roundtrip.
// ABOUTME: Runs a full gateway against an httptest server with a websocket bot client.

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialogmesh/botbridge/internal/api"
	"github.com/dialogmesh/botbridge/internal/config"
)

func newTestGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.Client.WaitTimeout = 2 * time.Second
	cfg.Client.ExpiryGrace = time.Second

	g, err := New(cfg, slog.Default())
	require.NoError(t, err)

	srv := httptest.NewServer(g.httpServer.Handler)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = g.Shutdown(ctx)
	})
	return g, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func registerTestBot(t *testing.T, srv *httptest.Server, apiKey string) {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/bots", RegisterBotRequest{
		APIKey: apiKey,
		BotID:  "echo-bot",
		Name:   "Echo",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyWithoutClients(t *testing.T) {
	_, srv := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRegisterAndListBots(t *testing.T) {
	_, srv := newTestGateway(t)
	registerTestBot(t, srv, "secret-key-1")

	resp, err := http.Get(srv.URL + "/api/bots")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var bots []BotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bots))
	require.Len(t, bots, 1)
	assert.Equal(t, "echo-bot", bots[0].BotID)
	assert.False(t, bots[0].Connected)
	// Keys never come back in full.
	assert.Equal(t, "secr****", bots[0].APIKey)
}

func TestRegisterBotValidation(t *testing.T) {
	_, srv := newTestGateway(t)

	resp := postJSON(t, srv.URL+"/api/bots", RegisterBotRequest{BotID: "no-key"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteBot(t *testing.T) {
	_, srv := newTestGateway(t)
	registerTestBot(t, srv, "secret-key-1")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/bots/secret-key-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp2, err := http.DefaultClient.Do(req.Clone(context.Background()))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestDeleteBotRevokesSocketAccess(t *testing.T) {
	g, srv := newTestGateway(t)
	registerTestBot(t, srv, "secret-key-1")
	runFakeBotClient(t, srv, "secret-key-1")

	require.Eventually(t, func() bool {
		return g.connectedCount() == 1
	}, time.Second, 10*time.Millisecond)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/bots/secret-key-1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The live channel is torn down, not just the store row.
	require.Eventually(t, func() bool {
		return g.connectedCount() == 0
	}, time.Second, 10*time.Millisecond)

	// And the deleted key cannot open a fresh one.
	header := http.Header{}
	header.Set("X-API-Key", "secret-key-1")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, dialResp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, dialResp)
	defer dialResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, dialResp.StatusCode)
}

func TestTalkUnknownKey(t *testing.T) {
	_, srv := newTestGateway(t)

	resp := postJSON(t, srv.URL+"/api/talk", TalkRequest{APIKey: "nobody", UserID: "u1", Text: "hi"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTalkWithoutTransport(t *testing.T) {
	_, srv := newTestGateway(t)
	registerTestBot(t, srv, "secret-key-1")

	resp := postJSON(t, srv.URL+"/api/talk", TalkRequest{APIKey: "secret-key-1", UserID: "u1", Text: "hi"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSEEvents(t, resp)
	require.NotEmpty(t, events)
	assert.Equal(t, "error", events[0].name)
}

func TestConfigurationUnknownKey(t *testing.T) {
	_, srv := newTestGateway(t)

	resp, err := http.Get(srv.URL + "/api/configuration?api_key=nobody")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// runFakeBotClient connects a websocket client that answers configuration
// probes and echoes user requests in two parts, the last one terminal.
func runFakeBotClient(t *testing.T, srv *httptest.Server, apiKey string) {
	t.Helper()

	header := http.Header{}
	header.Set("X-API-Key", apiKey)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, err := api.DecodeRequest(payload)
			if err != nil {
				continue
			}

			var answers []*api.ResponseData
			base := time.Now()
			if req.Configuration {
				answers = []*api.ResponseData{{
					RequestID: req.RequestID,
					BotConfiguration: &api.ClientConfiguration{
						ProtocolVersion: api.MinStreamingProtocol,
						Streaming:       true,
					},
					Context: api.ResponseContext{Date: base, Last: true},
				}}
			} else {
				answers = []*api.ResponseData{
					{
						RequestID:   req.RequestID,
						BotResponse: &api.BotResponse{Messages: []api.Message{{Text: "thinking"}}},
						Context:     api.ResponseContext{Date: base},
					},
					{
						RequestID:   req.RequestID,
						BotResponse: &api.BotResponse{Messages: []api.Message{{Text: "echo: " + req.BotRequest.Text}}},
						Context:     api.ResponseContext{Date: base.Add(time.Second), Last: true},
					},
				}
			}
			for _, answer := range answers {
				out, err := api.Marshal(answer)
				if err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
					return
				}
			}
		}
	}()
}

type sseEvent struct {
	name string
	data string
}

func readSSEEvents(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var events []sseEvent
	var current sseEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.name != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			current.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return events
}

func TestTalkOverSocketEndToEnd(t *testing.T) {
	g, srv := newTestGateway(t)
	registerTestBot(t, srv, "secret-key-1")
	runFakeBotClient(t, srv, "secret-key-1")

	require.Eventually(t, func() bool {
		return g.connectedCount() == 1
	}, time.Second, 10*time.Millisecond)

	// Readiness flips once the client holds a socket channel.
	ready, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	resp := postJSON(t, srv.URL+"/api/talk", TalkRequest{APIKey: "secret-key-1", UserID: "u1", Text: "hello"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readSSEEvents(t, resp)
	require.GreaterOrEqual(t, len(events), 3)

	var texts []string
	for _, ev := range events {
		if ev.name != "message" {
			continue
		}
		msg, err := api.DecodeResponse([]byte(ev.data))
		require.NoError(t, err)
		texts = append(texts, msg.BotResponse.Messages[0].Text)
	}
	assert.Equal(t, []string{"thinking", "echo: hello"}, texts)
	assert.Equal(t, "done", events[len(events)-1].name)
}

func TestConfigurationProbeOverSocket(t *testing.T) {
	g, srv := newTestGateway(t)
	registerTestBot(t, srv, "secret-key-1")
	runFakeBotClient(t, srv, "secret-key-1")

	require.Eventually(t, func() bool {
		return g.connectedCount() == 1
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/api/configuration?api_key=secret-key-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg api.ClientConfiguration
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cfg))
	assert.Equal(t, api.MinStreamingProtocol, cfg.ProtocolVersion)
	assert.True(t, cfg.Streaming)

	// The learned configuration is persisted for the next restart.
	stored, err := g.store.GetClientConfiguration(context.Background(), "secret-key-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Streaming)
}
