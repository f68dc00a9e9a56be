// ABOUTME: Transport-selecting bridge between the dialog engine and hosted bot logic.
// ABOUTME: Picks webhook or socket per request and correlates asynchronous replies.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dialogmesh/botbridge/internal/api"
	"github.com/dialogmesh/botbridge/internal/correlate"
	"github.com/dialogmesh/botbridge/internal/socket"
	"github.com/dialogmesh/botbridge/internal/webhook"
)

// ErrNoTransport means the webhook is unreachable and no socket client is
// connected: the system has no way to deliver a user request. This is a hard
// refusal, not a retryable condition.
var ErrNoTransport = errors.New("no viable transport: webhook unreachable and no socket connected")

// Options configures a Bridge for one bot.
type Options struct {
	APIKey string

	// Webhook is nil when the bot has no webhook URL configured; the socket
	// channel is then the only transport.
	Webhook *webhook.Gateway

	Sockets    *socket.Registry
	Correlator *correlate.Registry
	Logger     *slog.Logger

	// OnConfigurationChanged fires when a learned configuration differs by
	// value from the cached one.
	OnConfigurationChanged func(*api.ClientConfiguration)

	// OnUnmatchedResponse receives responses whose request id has no live
	// mailbox, so at least one channel does not lose an answer outright.
	OnUnmatchedResponse func(*api.ResponseData)
}

// Bridge is the single entry point combining configuration caching,
// transport choice, and correlation wiring for one bot.
type Bridge struct {
	apiKey     string
	webhook    *webhook.Gateway
	sockets    *socket.Registry
	correlator *correlate.Registry
	logger     *slog.Logger

	lastConfiguration atomic.Pointer[api.ClientConfiguration]

	onConfigurationChanged func(*api.ClientConfiguration)
	onUnmatched            func(*api.ResponseData)
}

// New creates a Bridge and installs its socket receive handler so pushed
// responses reach the correlator.
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		apiKey:                 opts.APIKey,
		webhook:                opts.Webhook,
		sockets:                opts.Sockets,
		correlator:             opts.Correlator,
		logger:                 logger.With("component", "bridge", "api_key", socket.Redact(opts.APIKey)),
		onConfigurationChanged: opts.OnConfigurationChanged,
		onUnmatched:            opts.OnUnmatchedResponse,
	}
	if b.sockets != nil {
		b.sockets.SetReceiveHandler(opts.APIKey, b.handleSocketPayload)
	}
	return b
}

// LastConfiguration returns the cached client configuration, nil when none
// has been learned yet.
func (b *Bridge) LastConfiguration() *api.ClientConfiguration {
	return b.lastConfiguration.Load()
}

// PrimeConfiguration seeds the configuration cache without firing the change
// callback, for restoring persisted state at startup. A nil argument is a
// no-op.
func (b *Bridge) PrimeConfiguration(cfg *api.ClientConfiguration) {
	if cfg == nil {
		return
	}
	b.lastConfiguration.Store(cfg)
}

// Send delivers one user request and invokes onResponse for every response
// part, in arrival order, the last one terminal. It blocks until the final
// answer, a bounded timeout, or an error.
func (b *Bridge) Send(ctx context.Context, userReq *api.UserRequest, onResponse func(*api.ResponseData)) error {
	req := api.NewUserRequestData(uuid.New().String(), userReq)

	switch b.selectTransport(ctx) {
	case transportWebhookSync:
		resp, err := b.webhook.Call(ctx, req)
		if err != nil {
			return fmt.Errorf("webhook call: %w", err)
		}
		if resp != nil {
			b.observeConfiguration(resp.BotConfiguration)
			onResponse(resp)
		}
		return nil

	case transportWebhookStreamed:
		b.sendStreamed(ctx, req, onResponse)
		return nil

	case transportSocket:
		return b.sendSocket(req, onResponse, false)

	default:
		return ErrNoTransport
	}
}

// FetchConfiguration asks the client to describe itself: webhook first, then
// the socket channel. Whatever is learned is cached as the last known
// configuration. Returns nil when the client is silent everywhere - a probe
// yielding nothing is not an error.
func (b *Bridge) FetchConfiguration(ctx context.Context) *api.ClientConfiguration {
	if b.webhook != nil {
		var probed *api.ClientConfiguration
		reachable := b.webhook.IsReachable(ctx, func(cfg *api.ClientConfiguration) {
			probed = cfg
			b.observeConfiguration(cfg)
		})
		if reachable {
			resp, _ := b.webhook.Call(ctx, api.NewConfigurationProbe(uuid.New().String()))
			if resp != nil && resp.BotConfiguration != nil {
				b.observeConfiguration(resp.BotConfiguration)
				return resp.BotConfiguration
			}
			// The reachability check may already have learned the
			// configuration even when the follow-up call stays silent.
			if probed != nil {
				return probed
			}
			// Reachable but silent on configuration: fall through to the socket.
		}
	}

	var learned *api.ClientConfiguration
	probe := api.NewConfigurationProbe(uuid.New().String())
	if err := b.sendSocket(probe, func(resp *api.ResponseData) {
		if resp.BotConfiguration != nil {
			learned = resp.BotConfiguration
		}
	}, true); err != nil {
		b.logger.Debug("socket configuration probe failed", "error", err)
	}
	if learned != nil {
		b.observeConfiguration(learned)
	}
	return learned
}

// sendStreamed opens the streamed webhook call in the background and blocks
// draining the mailbox so partial responses reach onResponse in order.
func (b *Bridge) sendStreamed(ctx context.Context, req *api.RequestData, onResponse func(*api.ResponseData)) {
	version := api.MinStreamingProtocol
	if cfg := b.lastConfiguration.Load(); cfg != nil {
		version = cfg.ProtocolVersion
	}

	mb := b.correlator.Register(req.RequestID)
	go func() {
		if err := b.webhook.CallStreamed(ctx, req, version, b.fallbackResponse); err != nil {
			b.logger.Warn("streamed webhook call failed",
				"request_id", req.RequestID,
				"error", err,
			)
		}
	}()
	b.correlator.WaitForResponse(mb, func(resp *api.ResponseData) {
		b.observeConfiguration(resp.BotConfiguration)
		onResponse(resp)
	})
}

// sendSocket pushes the request down the socket channel and blocks on the
// correlated reply. For configuration probes the no-transport condition is
// silent; for user requests it is a hard error.
func (b *Bridge) sendSocket(req *api.RequestData, onResponse func(*api.ResponseData), probe bool) error {
	push := b.sockets.PushHandler(b.apiKey)
	if push == nil {
		if probe {
			return nil
		}
		return ErrNoTransport
	}

	payload, err := api.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	mb := b.correlator.Register(req.RequestID)
	if err := push(payload); err != nil {
		if probe {
			b.logger.Debug("socket probe push failed", "error", err)
			return nil
		}
		return fmt.Errorf("pushing request: %w", err)
	}

	b.correlator.WaitForResponse(mb, func(resp *api.ResponseData) {
		b.observeConfiguration(resp.BotConfiguration)
		onResponse(resp)
	})
	return nil
}

// handleSocketPayload consumes everything the connected client pushes. A
// response with an unknown request id and an embedded configuration is a
// pure configuration update; unknown without one is forwarded to the
// unmatched-response callback rather than dropped silently.
func (b *Bridge) handleSocketPayload(payload []byte) {
	resp, err := api.DecodeResponse(payload)
	if err != nil {
		b.logger.Warn("discarding malformed socket payload", "error", err)
		return
	}

	b.observeConfiguration(resp.BotConfiguration)

	if b.correlator.Deliver(resp.RequestID, resp) {
		return
	}
	if resp.BotConfiguration != nil && resp.BotResponse == nil {
		return
	}
	b.logger.Warn("socket response for unknown request", "request_id", resp.RequestID)
	b.fallbackResponse(resp)
}

// fallbackResponse forwards an uncorrelatable response to the generic
// callback when one is installed.
func (b *Bridge) fallbackResponse(resp *api.ResponseData) {
	b.observeConfiguration(resp.BotConfiguration)
	if b.onUnmatched != nil {
		b.onUnmatched(resp)
	}
}

// observeConfiguration caches a learned configuration and notifies the
// dialog engine when it changed by value. Any response carrying one feeds
// this, whatever the reason it arrived.
func (b *Bridge) observeConfiguration(cfg *api.ClientConfiguration) {
	if cfg == nil {
		return
	}
	prev := b.lastConfiguration.Swap(cfg)
	if cfg.Equal(prev) {
		return
	}
	b.logger.Info("client configuration changed",
		"protocol_version", cfg.ProtocolVersion,
		"streaming", cfg.Streaming,
		"stories", len(cfg.Stories),
	)
	if b.onConfigurationChanged != nil {
		b.onConfigurationChanged(cfg)
	}
}
