package award

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/wsacademy/ledger-engine/internal/metrics"
	"github.com/wsacademy/ledger-engine/internal/model"
)

// Recorder persists the issuer's reference for an awarded achievement.
// store.Store satisfies it.
type Recorder interface {
	RecordIssuance(ctx context.Context, userID string, kind model.AchievementKind, ref string, at time.Time) error
}

// Options tunes a Dispatcher. Zero values take the defaults below.
type Options struct {
	Workers     int           // default 2
	QueueSize   int           // default 256
	MaxAttempts int           // default 5
	MinBackoff  time.Duration // default 500ms
	MaxBackoff  time.Duration // default 30s

	// OnIssued, if set, is called after an award is issued and recorded.
	OnIssued func(ev Event, ref string)
}

type eventKey struct {
	userID string
	kind   model.AchievementKind
}

// Dispatcher delivers award events to an Issuer from a bounded queue on a
// fixed pool of workers. At most one delivery per (user, kind) is in flight;
// failed deliveries are retried with exponential backoff and, once attempts
// are exhausted, left for the scheduler to re-drive from the store.
type Dispatcher struct {
	issuer   Issuer
	recorder Recorder
	opts     Options
	queue    chan Event

	mu       sync.Mutex
	inflight map[eventKey]struct{}
	closed   bool

	wg  sync.WaitGroup
	now func() time.Time
}

// NewDispatcher creates a dispatcher. Call Start to launch its workers.
func NewDispatcher(issuer Issuer, recorder Recorder, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	return &Dispatcher{
		issuer:   issuer,
		recorder: recorder,
		opts:     opts,
		queue:    make(chan Event, opts.QueueSize),
		inflight: make(map[eventKey]struct{}),
		now:      time.Now,
	}
}

// Start launches the workers. They stop when ctx is cancelled or Close is
// called.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Enqueue schedules ev for issuance without blocking. It returns false if the
// same award is already queued or in flight, the queue is full, or the
// dispatcher is closed.
func (d *Dispatcher) Enqueue(ev Event) bool {
	key := eventKey{ev.UserID, ev.Kind}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if _, busy := d.inflight[key]; busy {
		return false
	}
	select {
	case d.queue <- ev:
		d.inflight[key] = struct{}{}
		return true
	default:
		metrics.AwardIssuance.WithLabelValues("dropped").Inc()
		slog.Warn("award queue full, deferring to next re-check", "user_id", ev.UserID, "kind", ev.Kind)
		return false
	}
}

// Close stops accepting events and waits for queued ones to be processed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, ev)
			d.mu.Lock()
			delete(d.inflight, eventKey{ev.UserID, ev.Kind})
			d.mu.Unlock()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	b := &backoff.Backoff{
		Min:    d.opts.MinBackoff,
		Max:    d.opts.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; ; attempt++ {
		ref, err := d.issuer.Issue(ctx, ev)
		if err == nil {
			metrics.AwardIssuance.WithLabelValues("issued").Inc()
			if rerr := d.recorder.RecordIssuance(ctx, ev.UserID, ev.Kind, ref, d.now()); rerr != nil {
				slog.Error("failed to record award issuance", "user_id", ev.UserID, "kind", ev.Kind, "ref", ref, "err", rerr)
			}
			if d.opts.OnIssued != nil {
				d.opts.OnIssued(ev, ref)
			}
			return
		}

		if attempt >= d.opts.MaxAttempts {
			metrics.AwardIssuance.WithLabelValues("failed").Inc()
			slog.Error("award issuance failed, giving up", "user_id", ev.UserID, "kind", ev.Kind, "attempts", attempt, "err", err)
			return
		}

		delay := b.Duration()
		metrics.AwardIssuance.WithLabelValues("retry").Inc()
		slog.Warn("award issuance failed, retrying", "user_id", ev.UserID, "kind", ev.Kind, "attempt", attempt, "delay", delay, "err", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}
