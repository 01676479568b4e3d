package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"philbox/scheduling/internal/metrics"
)

// TransitionEvent is emitted after a request leaves the processing state.
type TransitionEvent struct {
	RequestID   string    `json:"request_id"`
	ProviderID  string    `json:"provider_id"`
	RequesterID string    `json:"requester_id"`
	OldState    string    `json:"old_state"`
	NewState    string    `json:"new_state"`
	SlotID      string    `json:"slot_id,omitempty"`
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type ActivityEntry struct {
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	SubjectID string         `json:"subject_id"`
	Details   map[string]any `json:"details,omitempty"`
	At        time.Time      `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev TransitionEvent) error
}

type ActivityLog interface {
	Record(ctx context.Context, entry ActivityEntry) error
}

const DefaultTimeout = 5 * time.Second

// Dispatcher delivers events in the background. Delivery failures are logged
// and counted, never returned to the caller.
type Dispatcher struct {
	publisher Publisher
	activity  ActivityLog
	log       *zap.Logger
	timeout   time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(publisher Publisher, activity ActivityLog, log *zap.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		publisher: publisher,
		activity:  activity,
		log:       log.With(zap.String("component", "events")),
		timeout:   timeout,
	}
}

func (d *Dispatcher) Transition(ctx context.Context, ev TransitionEvent) {
	if d.publisher == nil {
		return
	}
	d.deliver(ctx, "publisher", func(ctx context.Context) error {
		return d.publisher.Publish(ctx, ev)
	}, zap.String("request_id", ev.RequestID), zap.String("new_state", ev.NewState))
}

func (d *Dispatcher) Activity(ctx context.Context, entry ActivityEntry) {
	if d.activity == nil {
		return
	}
	d.deliver(ctx, "activity", func(ctx context.Context) error {
		return d.activity.Record(ctx, entry)
	}, zap.String("action", entry.Action), zap.String("subject_id", entry.SubjectID))
}

func (d *Dispatcher) deliver(ctx context.Context, sink string, send func(ctx context.Context) error, fields ...zap.Field) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := send(ctx); err != nil {
			metrics.RecordDeliveryFailure(sink)
			d.log.Warn("event delivery failed", append(fields, zap.String("sink", sink), zap.Error(err))...)
		}
	}()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending deliveries and closes sinks that hold connections.
func (d *Dispatcher) Close(ctx context.Context) error {
	err := d.Wait(ctx)
	if c, ok := d.publisher.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	if c, ok := d.activity.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
