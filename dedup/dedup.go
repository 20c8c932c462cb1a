package dedup

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/types"
)

type call struct {
	done chan struct{}
	val  interface{}
	err  error
}

// Deduplicator collapses concurrent work for the same key into a single
// in-flight execution: the first caller starts the work, later callers for
// the same key wait on the same outcome. The registry is purely in-process
// state; requests racing across separate processes are not deduplicated.
//
// The shared work runs on the deduplicator's own context, so one caller
// cancelling does not abort the fetch other callers are still waiting on;
// each caller's own context only releases that caller.
type Deduplicator struct {
	ctx      context.Context
	logger   types.Logger
	inflight map[string]*call
	mu       sync.Mutex
}

func NewDeduplicator(ctx context.Context, logger types.Logger) *Deduplicator {
	return &Deduplicator{
		ctx:      ctx,
		logger:   logger,
		inflight: make(map[string]*call),
	}
}

// Do returns the result of fn for key, sharing a single execution among all
// callers that arrive while it is in flight. The registry entry is removed
// before the result is published, so a caller arriving after settlement
// always starts fresh work. Failures are shared, never remembered.
func (d *Deduplicator) Do(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	d.mu.Lock()
	if c, exists := d.inflight[key]; exists {
		d.mu.Unlock()
		d.logger.Debug("Joining in-flight request", zap.String("key", key))
		return d.wait(ctx, c)
	}

	c := &call{done: make(chan struct{})}
	d.inflight[key] = c
	d.mu.Unlock()

	go d.run(key, c, fn)

	return d.wait(ctx, c)
}

// Pending reports whether work for key is currently in flight.
func (d *Deduplicator) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, exists := d.inflight[key]
	return exists
}

func (d *Deduplicator) run(key string, c *call, fn func(ctx context.Context) (interface{}, error)) {
	defer func() {
		if rec := recover(); rec != nil {
			c.err = types.NewErrorf("panic in deduplicated work: %v", rec)
			d.logger.Error("Panic in deduplicated work",
				zap.String("key", key), zap.Any("panic", rec))
			d.settle(key, c)
		}
	}()

	c.val, c.err = fn(d.ctx)
	d.settle(key, c)
}

func (d *Deduplicator) settle(key string, c *call) {
	d.mu.Lock()
	if current, exists := d.inflight[key]; exists && current == c {
		delete(d.inflight, key)
	}
	d.mu.Unlock()

	close(c.done)
}

func (d *Deduplicator) wait(ctx context.Context, c *call) (interface{}, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
