// ABOUTME: Outbound HTTP interaction with an externally hosted bot client.
// ABOUTME: Plain request/response calls plus the healthcheck used by reachability probes.

package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dialogmesh/botbridge/internal/api"
	"github.com/dialogmesh/botbridge/internal/correlate"
)

const (
	sendPath        = "/send"
	healthcheckPath = "/healthcheck"
	streamPath      = "/webhook/sse"

	// DefaultConnectTimeout bounds establishing the TCP connection.
	DefaultConnectTimeout = 3 * time.Second

	// DefaultCallTimeout bounds an entire outbound exchange, streamed ones
	// included. Nothing in this package blocks past it.
	DefaultCallTimeout = 60 * time.Second

	// DefaultProbeInterval debounces reachability probes.
	DefaultProbeInterval = 10 * time.Second
)

// ErrClientStatus indicates the client answered with a non-2xx status.
var ErrClientStatus = errors.New("client returned error status")

// Options configures a Gateway.
type Options struct {
	BaseURL        string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	ProbeInterval  time.Duration

	// CheckDisabled skips reachability probing entirely; the webhook is then
	// assumed reachable for the process lifetime.
	CheckDisabled bool

	Correlator *correlate.Registry
	Logger     *slog.Logger
}

// Gateway owns all outbound HTTP interaction with one bot client: plain
// calls, streamed calls, and the debounced reachability bookkeeping.
type Gateway struct {
	baseURL       string
	client        *http.Client
	correlator    *correlate.Registry
	probeInterval time.Duration
	logger        *slog.Logger

	reach reachability
}

// New creates a Gateway for the client at baseURL.
func New(opts Options) *Gateway {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	g := &Gateway{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client: &http.Client{
			Timeout: opts.CallTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
			},
		},
		correlator:    opts.Correlator,
		probeInterval: opts.ProbeInterval,
		logger:        opts.Logger.With("component", "webhook"),
	}
	if opts.CheckDisabled {
		g.reach.disable()
	} else {
		g.reach.checkEnabled.Store(true)
	}
	return g
}

// Call performs a single outbound call and returns the response body.
//
// Configuration probes must never crash the bridge: any failure is swallowed
// and surfaces as a nil response. Failures on user requests propagate to the
// caller, which owns the higher-level fallback.
func (g *Gateway) Call(ctx context.Context, req *api.RequestData) (*api.ResponseData, error) {
	resp, err := g.post(ctx, req)
	if err != nil {
		if req.Configuration {
			g.logger.Debug("configuration probe failed", "error", err)
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}

func (g *Gateway) post(ctx context.Context, req *api.RequestData) (*api.ResponseData, error) {
	body, err := api.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling client: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrClientStatus, httpResp.StatusCode)
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return api.DecodeResponse(data)
}

// healthcheck reports whether the client's message path answers at all.
func (g *Gateway) healthcheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+healthcheckPath, nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("healthcheck failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
