package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swiftride/service-tracking/internal/domain/tracking"
)

// publishTimeout bounds the outbound publish work for one alert.
const publishTimeout = 10 * time.Second

// throttlePruneSize is the table size above which expired cooldown entries
// are swept out.
const throttlePruneSize = 1024

// AlertPublisher pushes a dispatched alert to one outbound channel.
type AlertPublisher interface {
	Name() string
	PublishAlert(ctx context.Context, alert tracking.DeviationAlert) error
}

type lastDispatch struct {
	at       time.Time
	severity tracking.Severity
}

// Dispatcher is the boundary between the synchronous detection path and
// outbound notification channels. Deliver enqueues without blocking and a
// single worker goroutine fans each alert out to every publisher.
//
// A per-trip cooldown suppresses repeat alerts for the same ongoing
// deviation; an alert that escalates in severity bypasses the cooldown.
// Every alert is persisted before it reaches the dispatcher, so suppression
// only thins notifications, never the audit trail.
type Dispatcher struct {
	publishers []AlertPublisher
	queue      chan tracking.DeviationAlert
	cooldown   time.Duration
	logger     *zap.Logger

	mu   sync.Mutex
	last map[uuid.UUID]lastDispatch

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher and starts its worker. A cooldown of
// zero disables throttling.
func NewDispatcher(cooldown time.Duration, queueSize int, logger *zap.Logger, publishers ...AlertPublisher) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		publishers: publishers,
		queue:      make(chan tracking.DeviationAlert, queueSize),
		cooldown:   cooldown,
		logger:     logger,
		last:       make(map[uuid.UUID]lastDispatch),
		done:       make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Deliver implements tracking.AlertSink. It never blocks the caller: a full
// queue returns an error and the alert is dropped from notification (the
// persisted record remains).
func (d *Dispatcher) Deliver(ctx context.Context, alert tracking.DeviationAlert) error {
	select {
	case <-d.done:
		return errors.New("dispatcher is closed")
	default:
	}

	if !d.shouldDispatch(alert) {
		d.logger.Debug("alert suppressed by cooldown",
			zap.String("trip_id", alert.TripID.String()),
			zap.String("severity", string(alert.Severity)),
		)
		return nil
	}

	select {
	case d.queue <- alert:
		return nil
	default:
		return fmt.Errorf("dispatch queue full, dropping alert %s", alert.ID)
	}
}

// Close stops accepting alerts, drains the queue and waits for the worker.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

// shouldDispatch applies the per-trip cooldown. The first alert for a trip
// always passes; within the cooldown window only a severity escalation
// passes, and either outcome that passes restamps the window.
func (d *Dispatcher) shouldDispatch(alert tracking.DeviationAlert) bool {
	if d.cooldown <= 0 {
		return true
	}

	now := time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()

	entry, seen := d.last[alert.TripID]
	if seen && now.Sub(entry.at) < d.cooldown && !alert.Severity.EscalatesOver(entry.severity) {
		return false
	}

	d.last[alert.TripID] = lastDispatch{at: now, severity: alert.Severity}
	if len(d.last) > throttlePruneSize {
		d.prune(now)
	}
	return true
}

func (d *Dispatcher) prune(now time.Time) {
	for tripID, entry := range d.last {
		if now.Sub(entry.at) >= d.cooldown {
			delete(d.last, tripID)
		}
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case alert := <-d.queue:
			d.publish(alert)
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case alert := <-d.queue:
			d.publish(alert)
		default:
			return
		}
	}
}

// publish fans one alert out to every publisher. A failing publisher is
// logged and does not stop delivery to the others.
func (d *Dispatcher) publish(alert tracking.DeviationAlert) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	for _, p := range d.publishers {
		if err := p.PublishAlert(ctx, alert); err != nil {
			d.logger.Error("alert publish failed",
				zap.String("publisher", p.Name()),
				zap.String("alert_id", alert.ID.String()),
				zap.String("trip_id", alert.TripID.String()),
				zap.Error(err),
			)
			continue
		}
		d.logger.Debug("alert published",
			zap.String("publisher", p.Name()),
			zap.String("alert_id", alert.ID.String()),
		)
	}
}

var _ tracking.AlertSink = (*Dispatcher)(nil)
