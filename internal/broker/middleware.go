package broker

import (
	"sync"

	"github.com/rs/zerolog"

	"chamahub/pkg/types"
)

// PublishFunc is one stage of the publish pipeline.
type PublishFunc func(sub *Subscription, cmd *types.Command) error

// Middleware wraps a publish stage. Chains are composed once at broker
// construction; there is no runtime patching of the publish path.
type Middleware func(next PublishFunc) PublishFunc

// chain composes middleware so the first element is outermost.
func chain(base PublishFunc, mws ...Middleware) PublishFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		base = mws[i](base)
	}
	return base
}

// LoggingMiddleware logs every publish attempt with its outcome.
func LoggingMiddleware(log zerolog.Logger) Middleware {
	return func(next PublishFunc) PublishFunc {
		return func(sub *Subscription, cmd *types.Command) error {
			err := next(sub, cmd)
			evt := log.Debug()
			if err != nil {
				evt = log.Warn().Err(err)
			}
			evt.Str("module", "broker").
				Str("op", cmd.Op).
				Str("room", cmd.Room).
				Str("identity", sub.Identity()).
				Msg("publish")
			return err
		}
	}
}

// Metrics counts publish outcomes per operation. Counters only increase.
type Metrics struct {
	mu       sync.Mutex
	accepted map[string]uint64
	rejected map[string]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		accepted: make(map[string]uint64),
		rejected: make(map[string]uint64),
	}
}

// Middleware returns the publish stage feeding this collector.
func (m *Metrics) Middleware() Middleware {
	return func(next PublishFunc) PublishFunc {
		return func(sub *Subscription, cmd *types.Command) error {
			err := next(sub, cmd)
			m.mu.Lock()
			if err != nil {
				m.rejected[cmd.Op]++
			} else {
				m.accepted[cmd.Op]++
			}
			m.mu.Unlock()
			return err
		}
	}
}

// Accepted returns a copy of the per-op accepted counters.
func (m *Metrics) Accepted() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.accepted))
	for k, v := range m.accepted {
		out[k] = v
	}
	return out
}

// Rejected returns a copy of the per-op rejected counters.
func (m *Metrics) Rejected() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.rejected))
	for k, v := range m.rejected {
		out[k] = v
	}
	return out
}

// rateLimitMiddleware rejects publishes over the per-identity quota.
func rateLimitMiddleware(rl *RateLimiter) Middleware {
	return func(next PublishFunc) PublishFunc {
		return func(sub *Subscription, cmd *types.Command) error {
			if !rl.Allow(sub.Identity()) {
				return ErrRateLimited
			}
			return next(sub, cmd)
		}
	}
}
