// Package credit derives the remaining message allowance from an
// externally owned counter. The core only ever reads the counter;
// recharging it is someone else's job.
package credit

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultAllowance is assumed while the external counter has no value.
const DefaultAllowance = 500

// Provider exposes the external credit counter. The second result is
// false when no value is known yet.
type Provider interface {
	Credit() (int64, bool)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func() (int64, bool)

// Credit implements Provider.
func (f ProviderFunc) Credit() (int64, bool) { return f() }

// Gate blocks message submission once the remaining allowance runs out.
// Both the provider and the change subscription are read-only triggers
// into a recompute.
type Gate struct {
	provider Provider
	changes  <-chan struct{}
	logger   *slog.Logger

	mu        sync.Mutex
	remainder int64
	onChange  func(remainder int64)
}

// NewGate creates a gate over provider. changes may be nil when no
// notification source exists; the gate then recomputes only on demand.
func NewGate(provider Provider, changes <-chan struct{}, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{provider: provider, changes: changes, logger: logger}
	g.Recompute()
	return g
}

// OnChange registers a callback invoked with the remainder after every
// recompute.
func (g *Gate) OnChange(fn func(remainder int64)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

// Recompute re-derives the remainder from the provider and returns it.
func (g *Gate) Recompute() int64 {
	value := int64(DefaultAllowance)
	if g.provider != nil {
		if v, ok := g.provider.Credit(); ok {
			value = v
		}
	}

	g.mu.Lock()
	g.remainder = value
	fn := g.onChange
	g.mu.Unlock()

	if fn != nil {
		fn(value)
	}
	return value
}

// Watch recomputes the remainder whenever the change subscription
// fires, until ctx ends or the subscription closes.
func (g *Gate) Watch(ctx context.Context) {
	if g.changes == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-g.changes:
			if !ok {
				return
			}
			remainder := g.Recompute()
			g.logger.Info("credit updated", "remainder", remainder)
		}
	}
}

// Remainder returns the last derived remaining allowance.
func (g *Gate) Remainder() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remainder
}

// Open reports whether submissions are currently allowed.
func (g *Gate) Open() bool {
	return g.Remainder() > 0
}
