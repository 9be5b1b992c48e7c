package reliable

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/tether/internal/mutation"
	"github.com/roach88/tether/internal/outbox"
)

// ErrNoWriter is the replay failure for an operation type with no
// registered writer. The entry stays in the outbox.
var ErrNoWriter = errors.New("no writer registered for operation type")

// Drainer replays the outbox through the writer registered for each
// operation type.
//
// Concurrent Drain calls share one pass. Trigger starts a pass in the
// background; its outcome is only observable through telemetry (the outbox
// emits outbox_drain), and Wait blocks until all triggered passes finish.
//
// Thread Safety: Safe for concurrent use.
type Drainer struct {
	outbox *outbox.Outbox
	opts   options

	mu       sync.RWMutex
	writers  map[mutation.Type]Writer
	fallback Writer

	group    singleflight.Group
	inflight sync.WaitGroup
}

// NewDrainer creates a drainer over ob.
func NewDrainer(ob *outbox.Outbox, opts ...Option) *Drainer {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Drainer{
		outbox:  ob,
		opts:    o,
		writers: make(map[mutation.Type]Writer),
	}
}

// Outbox returns the outbox being drained.
func (d *Drainer) Outbox() *outbox.Outbox {
	return d.outbox
}

// Register sets the writer for an operation type, replacing any previous one.
func (d *Drainer) Register(t mutation.Type, w Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writers[t] = w
}

// registerIfAbsent sets w for t unless a writer is already registered.
func (d *Drainer) registerIfAbsent(t mutation.Type, w Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.writers[t]; !ok {
		d.writers[t] = w
	}
}

// RegisterFallback sets the writer used for types with no writer of their
// own. A nil w removes it.
func (d *Drainer) RegisterFallback(w Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = w
}

func (d *Drainer) writer(t mutation.Type) (Writer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if w, ok := d.writers[t]; ok {
		return w, true
	}
	return d.fallback, d.fallback != nil
}

// Drain replays every pending entry once. If a pass is already running the
// caller waits for it and receives its result.
func (d *Drainer) Drain(ctx context.Context) (outbox.DrainResult, error) {
	v, err, shared := d.group.Do("drain", func() (any, error) {
		return d.outbox.Drain(ctx, d.execute)
	})
	if shared {
		d.opts.logger.Debug("joined in-flight drain")
	}
	res, _ := v.(outbox.DrainResult)
	return res, err
}

// execute replays one entry through its writer.
func (d *Drainer) execute(ctx context.Context, op mutation.Operation) (bool, error) {
	w, ok := d.writer(op.Type)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNoWriter, op.Type)
	}
	if err := w(ctx, op.ActorID, op); err != nil {
		return false, err
	}
	return true, nil
}

// Trigger starts a drain in the background and returns immediately.
// Errors are logged.
func (d *Drainer) Trigger(ctx context.Context) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if _, err := d.Drain(ctx); err != nil {
			d.opts.logger.Error("background drain failed", "error", err)
		}
	}()
}

// Wait blocks until every triggered drain has finished. Intended for
// shutdown.
func (d *Drainer) Wait() {
	d.inflight.Wait()
}

// Run drains whenever a signal arrives on reconnects and, if interval is
// positive, every interval. It returns ctx.Err() once ctx is done, after
// waiting for triggered drains to finish. A nil reconnects channel is
// ignored.
func (d *Drainer) Run(ctx context.Context, reconnects <-chan struct{}, interval time.Duration) error {
	for {
		var tick <-chan time.Time
		if interval > 0 {
			tick = d.opts.clock.After(interval)
		}

		select {
		case <-ctx.Done():
			d.Wait()
			return ctx.Err()
		case _, ok := <-reconnects:
			if !ok {
				reconnects = nil
				continue
			}
			d.opts.logger.Debug("connectivity restored, draining outbox")
			d.drainLogged(ctx)
		case <-tick:
			d.drainLogged(ctx)
		}
	}
}

func (d *Drainer) drainLogged(ctx context.Context) {
	res, err := d.Drain(ctx)
	if err != nil {
		d.opts.logger.Error("drain failed", "error", err)
		return
	}
	if res.Processed > 0 || res.Failed > 0 {
		d.opts.logger.Info("outbox drained",
			"processed", res.Processed,
			"failed", res.Failed,
			"remaining", res.Remaining)
	}
}
