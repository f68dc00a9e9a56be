// ABOUTME: Streamed webhook call over server-sent events.
// ABOUTME: Parses "message" frames and routes each response through the correlator.

package webhook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dialogmesh/botbridge/internal/api"
)

const (
	// requestDataHeader carries the request for clients whose protocol
	// version predates sending it as the stream-opening POST body.
	requestDataHeader = "X-Request-Data"

	messageEventType = "message"

	maxFrameBytes = 1 << 20
)

// CallStreamed opens a held-open connection to the client's streaming
// endpoint and dispatches each inbound response. Responses whose request id
// has a registered mailbox go through the correlator; anything else falls
// back to onEach so no channel loses an answer outright. The stream closes
// as soon as a terminal response is observed.
//
// Clients below the streaming-capable protocol version receive the request
// as a pre-connect header; later versions receive it as the POST body.
func (g *Gateway) CallStreamed(ctx context.Context, req *api.RequestData, protocolVersion int, onEach func(*api.ResponseData)) error {
	body, err := api.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	var httpReq *http.Request
	if protocolVersion < api.MinStreamingProtocol {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+streamPath, nil)
		if err == nil {
			httpReq.Header.Set(requestDataHeader, base64.StdEncoding.EncodeToString(body))
		}
	} else {
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+streamPath, bytes.NewReader(body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return fmt.Errorf("building stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrClientStatus, httpResp.StatusCode)
	}

	return g.readEvents(httpResp.Body, onEach)
}

// readEvents consumes SSE frames until a terminal response or EOF. Partial
// responses already dispatched stay valid when the stream breaks mid-read.
func (g *Gateway) readEvents(body io.Reader, onEach func(*api.ResponseData)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameBytes)

	event := ""
	var data []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			terminal := g.dispatchEvent(event, strings.Join(data, "\n"), onEach)
			event, data = "", nil
			if terminal {
				return nil
			}
		case strings.HasPrefix(line, ":"):
			// comment frame
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// dispatchEvent decodes one frame and routes it. Reports whether the frame
// carried a terminal response.
func (g *Gateway) dispatchEvent(event, payload string, onEach func(*api.ResponseData)) bool {
	if event != messageEventType || payload == "" {
		return false
	}
	resp, err := api.DecodeResponse([]byte(payload))
	if err != nil {
		g.logger.Warn("discarding malformed stream frame", "error", err)
		return false
	}

	if g.correlator == nil || !g.correlator.Deliver(resp.RequestID, resp) {
		if onEach != nil {
			onEach(resp)
		} else {
			g.logger.Warn("stream response for unknown request",
				"request_id", resp.RequestID,
			)
		}
	}
	return resp.Terminal()
}
