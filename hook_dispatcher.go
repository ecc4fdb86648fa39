package aethergate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type hookEvent struct {
	name string
	ctx  context.Context
	call func(context.Context) error
	// flushed is closed when the dispatcher reaches a flush marker.
	flushed chan struct{}
}

type hookDispatcher struct {
	cfg       HookDispatchConfig
	logger    *zap.Logger
	metrics   *Metrics
	ch        chan hookEvent
	done      chan struct{}
	stop      chan struct{}
	mu        sync.RWMutex // held for reading while sending on ch
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newHookDispatcher(cfg HookDispatchConfig, logger *zap.Logger, metrics *Metrics) *hookDispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &hookDispatcher{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		ch:      make(chan hookEvent, cfg.BufferSize),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *hookDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.stop:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *hookDispatcher) deliver(event hookEvent) {
	if event.flushed != nil {
		close(event.flushed)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.fail(event.name, fmt.Errorf("hook panicked: %v", r))
		}
	}()

	if err := event.call(event.ctx); err != nil {
		d.fail(event.name, err)
	}
}

func (d *hookDispatcher) fail(name string, err error) {
	d.failed.Add(1)
	d.metrics.Inc(MetricHookFailed)
	d.logger.Warn("hook failed", zap.String("hook", name), zap.Error(err))
}

// Emit queues call for asynchronous delivery. The callback receives a context
// that keeps ctx's values but is not canceled when the request ends. A full
// queue drops the event unless BlockIfFull is set.
func (d *hookDispatcher) Emit(ctx context.Context, name string, call func(context.Context) error) {
	if d == nil || call == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return
	}

	event := hookEvent{name: name, ctx: context.WithoutCancel(ctx), call: call}

	if !d.cfg.BlockIfFull {
		select {
		case d.ch <- event:
		default:
			d.drop(name)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.drop(name)
	case <-d.done:
		d.drop(name)
	}
}

func (d *hookDispatcher) drop(name string) {
	d.dropped.Add(1)
	d.metrics.Inc(MetricHookDropped)
	d.logger.Warn("hook event dropped", zap.String("hook", name))
}

// Flush blocks until every event queued before the call has been delivered.
func (d *hookDispatcher) Flush(ctx context.Context) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	marker := hookEvent{name: "flush", flushed: make(chan struct{})}
	if err := d.enqueueMarker(ctx, marker); err != nil || d.closed.Load() {
		return err
	}

	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *hookDispatcher) enqueueMarker(ctx context.Context, marker hookEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		return nil
	}
	select {
	case d.ch <- marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return nil
	}
}

// Close stops accepting events and delivers those already queued. Senders
// still in flight finish before the worker drains, so every accepted event is
// either delivered or counted as dropped.
func (d *hookDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.mu.Lock()
		close(d.stop)
		d.mu.Unlock()
		d.wg.Wait()
	})
}

func (d *hookDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *hookDispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
