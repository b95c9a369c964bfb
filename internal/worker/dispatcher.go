package worker

import (
	"context"
	"log/slog"
	"time"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/storage"
	"github.com/eugener/fastpass/internal/telemetry"
)

const (
	notifyChanSize    = 256
	notifyCallTimeout = 10 * time.Second
	notifyDrainTime   = 30 * time.Second
)

// Notification outcomes, used as metric labels.
const (
	outcomeSent      = "sent"
	outcomeDuplicate = "duplicate"
	outcomeFailed    = "failed"
	outcomeDropped   = "dropped"
	outcomeLedgerErr = "ledger_error"
)

// Dispatcher delivers upload notifications exactly once per upload ID.
// Events are queued without blocking the request that detected them; the
// ledger decides whether an ID is new, and a failed delivery is forgotten
// so the next detection retries it.
type Dispatcher struct {
	ch       chan fastpass.UploadEvent
	ledger   storage.NotificationLedger
	notifier fastpass.Notifier
	clock    fastpass.Clock
	metrics  *telemetry.Metrics
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(ledger storage.NotificationLedger, notifier fastpass.Notifier, clock fastpass.Clock, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		ch:       make(chan fastpass.UploadEvent, notifyChanSize),
		ledger:   ledger,
		notifier: notifier,
		clock:    clock,
		metrics:  metrics,
	}
}

// Name returns the worker identifier.
func (d *Dispatcher) Name() string { return "notify_dispatcher" }

// Enqueue queues ev. It never blocks; events are dropped when the queue is
// full and picked up again on a later detection.
func (d *Dispatcher) Enqueue(ev fastpass.UploadEvent) {
	select {
	case d.ch <- ev:
		d.gauge()
	default:
		d.count(outcomeDropped)
		slog.Warn("upload notification dropped, queue full", "upload_id", ev.Upload.ID)
	}
}

// Run delivers events until ctx is cancelled, then drains the queue.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.ch:
			d.gauge()
			d.deliver(ctx, ev)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), notifyDrainTime)
	defer cancel()

	for {
		select {
		case ev := <-d.ch:
			d.deliver(ctx, ev)
		default:
			d.gauge()
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev fastpass.UploadEvent) {
	id := ev.Upload.ID
	fresh, err := d.ledger.MarkNotified(ctx, id, d.clock.Now())
	if err != nil {
		d.count(outcomeLedgerErr)
		slog.LogAttrs(ctx, slog.LevelError, "notification ledger write failed",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	if !fresh {
		d.count(outcomeDuplicate)
		return
	}

	nctx, cancel := context.WithTimeout(ctx, notifyCallTimeout)
	err = d.notifier.Notify(nctx, ev)
	cancel()
	if err != nil {
		d.count(outcomeFailed)
		slog.LogAttrs(ctx, slog.LevelError, "upload notification failed",
			slog.String("upload_id", id),
			slog.String("error", err.Error()),
		)
		if uerr := d.ledger.UnmarkNotified(context.WithoutCancel(ctx), id); uerr != nil {
			slog.LogAttrs(ctx, slog.LevelError, "notification ledger rollback failed",
				slog.String("upload_id", id),
				slog.String("error", uerr.Error()),
			)
		}
		return
	}

	d.count(outcomeSent)
	slog.LogAttrs(ctx, slog.LevelInfo, "upload notified",
		slog.String("upload_id", id),
		slog.String("title", ev.Upload.Title),
	)
}

func (d *Dispatcher) count(outcome string) {
	if d.metrics != nil {
		d.metrics.NotificationsSent.WithLabelValues(outcome).Inc()
	}
}

func (d *Dispatcher) gauge() {
	if d.metrics != nil {
		d.metrics.NotifyQueueLength.Set(float64(len(d.ch)))
	}
}
