// ABOUTME: Per-request transport decision with explicit, enumerated outcomes.
// ABOUTME: Kept separate from network code so the state machine tests in isolation.

package bridge

import "context"

// transport is the outcome of the per-request transport decision.
type transport int

const (
	transportNone transport = iota
	transportWebhookSync
	transportWebhookStreamed
	transportSocket
)

func (t transport) String() string {
	switch t {
	case transportWebhookSync:
		return "webhook-sync"
	case transportWebhookStreamed:
		return "webhook-streamed"
	case transportSocket:
		return "socket"
	default:
		return "no-transport"
	}
}

// selectTransport decides how the next request travels. Asking the webhook
// for reachability may refresh the cached configuration as a side effect,
// which in turn decides between the sync and streamed webhook modes.
func (b *Bridge) selectTransport(ctx context.Context) transport {
	if b.webhook != nil && b.webhook.IsReachable(ctx, b.observeConfiguration) {
		if cfg := b.lastConfiguration.Load(); cfg != nil && cfg.Streaming {
			return transportWebhookStreamed
		}
		return transportWebhookSync
	}
	if b.sockets != nil && b.sockets.PushHandler(b.apiKey) != nil {
		return transportSocket
	}
	return transportNone
}
