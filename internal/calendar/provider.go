package calendar

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Source loads the persisted business hours and holidays.
type Source interface {
	LoadCalendar(ctx context.Context) ([]BusinessHours, []Holiday, error)
}

// Provider caches the current calendar snapshot. Edits to the source are
// picked up only after Invalidate, so previously computed deadlines are never
// affected.
type Provider struct {
	source  Source
	opts    []Option
	current atomic.Pointer[Calendar]
	// gen counts invalidations. A snapshot loaded across an invalidation is
	// not kept in the cache.
	gen atomic.Uint64
	mu  sync.Mutex
}

func NewProvider(source Source, opts ...Option) *Provider {
	return &Provider{source: source, opts: opts}
}

func (p *Provider) Calendar(ctx context.Context) (*Calendar, error) {
	if c := p.current.Load(); c != nil {
		return c, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.current.Load(); c != nil {
		return c, nil
	}
	gen := p.gen.Load()
	hours, holidays, err := p.source.LoadCalendar(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar: %w", err)
	}
	if len(hours) == 0 {
		hours = DefaultBusinessHours()
	}
	c, err := New(hours, holidays, p.opts...)
	if err != nil {
		return nil, err
	}
	p.current.Store(c)
	if p.gen.Load() != gen {
		p.current.CompareAndSwap(c, nil)
	}
	return c, nil
}

// Invalidate drops the cached snapshot, including one still being loaded.
func (p *Provider) Invalidate() {
	p.gen.Add(1)
	p.current.Store(nil)
}
