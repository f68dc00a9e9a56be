// ABOUTME: Debounced reachability state machine for the webhook transport.
// ABOUTME: Atomic fields only; overlapping probes may race benignly but never stall.

package webhook

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dialogmesh/botbridge/internal/api"
)

func probeRequestID() string {
	return uuid.New().String()
}

// reachability holds the only state in the bridge mutated from multiple
// goroutines outside the correlator. Readers never take a lock; the probe
// path tolerates an occasional double probe inside the debounce window.
type reachability struct {
	lastProbe    atomic.Int64 // unix nanos of the last completed probe
	reachable    atomic.Bool
	checkEnabled atomic.Bool
}

// disable turns probing off for the process lifetime and assumes the
// webhook reachable from now on.
func (s *reachability) disable() {
	s.reachable.Store(true)
	s.checkEnabled.Store(false)
}

// IsReachable reports whether the webhook transport is currently usable.
//
// Once checking is disabled the last known value is returned with no network
// call, permanently. Within the probe interval the cached value is returned
// (debouncing). Otherwise a configuration probe runs: any configuration it
// learns is reported through onConfiguration even when the probe only served
// reachability. A learned configuration with a pre-streaming protocol
// version disables future checks and pins the webhook reachable; a
// streaming-capable one makes the healthcheck endpoint decide.
func (g *Gateway) IsReachable(ctx context.Context, onConfiguration func(*api.ClientConfiguration)) bool {
	if !g.reach.checkEnabled.Load() {
		return g.reach.reachable.Load()
	}
	last := g.reach.lastProbe.Load()
	if last != 0 && time.Since(time.Unix(0, last)) < g.probeInterval {
		return g.reach.reachable.Load()
	}
	return g.probe(ctx, onConfiguration)
}

func (g *Gateway) probe(ctx context.Context, onConfiguration func(*api.ClientConfiguration)) bool {
	// Advance the debounce clock no matter how the probe ends, so
	// overlapping callers settle instead of re-probing forever.
	defer g.reach.lastProbe.Store(time.Now().UnixNano())

	resp, _ := g.Call(ctx, api.NewConfigurationProbe(probeRequestID()))
	var cfg *api.ClientConfiguration
	if resp != nil {
		cfg = resp.BotConfiguration
	}
	if cfg == nil {
		g.reach.reachable.Store(false)
		g.logger.Debug("webhook probe yielded no configuration", "url", g.baseURL)
		return false
	}

	if onConfiguration != nil {
		onConfiguration(cfg)
	}

	if cfg.ProtocolVersion < api.MinStreamingProtocol {
		g.reach.disable()
		g.logger.Info("client predates reachability checks, assuming webhook reachable",
			"protocol_version", cfg.ProtocolVersion,
		)
		return true
	}

	ok := g.healthcheck(ctx)
	g.reach.reachable.Store(ok)
	return ok
}
