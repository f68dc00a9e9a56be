// ABOUTME: Tests for the websocket server accepting inbound bot clients.
// ABOUTME: Uses real websocket connections against an httptest server.

package socket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticVerifier struct {
	apiKey string
	err    error
}

func (v *staticVerifier) Verify(token string) (string, error) {
	if v.err != nil {
		return "", v.err
	}
	return v.apiKey, nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerRejectsMissingCredentials(t *testing.T) {
	registry := NewRegistry(nil)
	srv := httptest.NewServer(NewServer(registry, nil, nil))
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerRejectsUnauthorizedKey(t *testing.T) {
	registry := NewRegistry(nil)
	srv := httptest.NewServer(NewServer(registry, nil, nil))
	defer srv.Close()

	header := http.Header{}
	header.Set("X-API-Key", "nobody")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerBindsConnectionAsPushChannel(t *testing.T) {
	registry := NewRegistry(nil)
	received := make(chan []byte, 1)
	registry.SetReceiveHandler("key-1", func(payload []byte) {
		received <- payload
	})

	srv := httptest.NewServer(NewServer(registry, nil, nil))
	defer srv.Close()

	header := http.Header{}
	header.Set("X-API-Key", "key-1")
	conn := dial(t, wsURL(srv), header)

	// The push handler appears once the connection is bound.
	require.Eventually(t, func() bool {
		return registry.PushHandler("key-1") != nil
	}, time.Second, 10*time.Millisecond)

	// Server-to-client push.
	push := registry.PushHandler("key-1")
	require.NoError(t, push([]byte("request")))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, []byte("request"), payload)

	// Client-to-server dispatch.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("response")))
	select {
	case got := <-received:
		assert.Equal(t, []byte("response"), got)
	case <-time.After(time.Second):
		t.Fatal("receive handler never called")
	}
}

func TestServerUnbindsOnDisconnect(t *testing.T) {
	registry := NewRegistry(nil)
	registry.RegisterAuthorizedKey("key-1")

	srv := httptest.NewServer(NewServer(registry, nil, nil))
	defer srv.Close()

	header := http.Header{}
	header.Set("X-API-Key", "key-1")
	conn := dial(t, wsURL(srv), header)

	require.Eventually(t, func() bool {
		return registry.PushHandler("key-1") != nil
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return registry.PushHandler("key-1") == nil
	}, time.Second, 10*time.Millisecond)
}

func TestServerBearerAuth(t *testing.T) {
	registry := NewRegistry(nil)
	registry.RegisterAuthorizedKey("key-1")

	srv := httptest.NewServer(NewServer(registry, &staticVerifier{apiKey: "key-1"}, nil))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer some-token")
	conn := dial(t, wsURL(srv), header)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return registry.PushHandler("key-1") != nil
	}, time.Second, 10*time.Millisecond)
}

func TestServerBearerWithoutVerifier(t *testing.T) {
	registry := NewRegistry(nil)
	registry.RegisterAuthorizedKey("key-1")

	srv := httptest.NewServer(NewServer(registry, nil, nil))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer some-token")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
