package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes transition events to the service log. It is the
// fallback when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.With(zap.String("component", "events.log"))}
}

func (p *LogPublisher) Publish(ctx context.Context, ev TransitionEvent) error {
	p.log.Info("request transition",
		zap.String("request_id", ev.RequestID),
		zap.String("provider_id", ev.ProviderID),
		zap.String("requester_id", ev.RequesterID),
		zap.String("old_state", ev.OldState),
		zap.String("new_state", ev.NewState),
		zap.String("slot_id", ev.SlotID),
		zap.String("actor", ev.Actor),
		zap.Time("occurred_at", ev.OccurredAt),
	)
	return nil
}

// ZapActivityLog forwards activity entries to a structured logger.
type ZapActivityLog struct {
	log *zap.Logger
}

func NewZapActivityLog(log *zap.Logger) *ZapActivityLog {
	return &ZapActivityLog{log: log.With(zap.String("component", "activity"))}
}

func (a *ZapActivityLog) Record(ctx context.Context, entry ActivityEntry) error {
	a.log.Info(entry.Action,
		zap.String("actor", entry.Actor),
		zap.String("subject_id", entry.SubjectID),
		zap.Any("details", entry.Details),
		zap.Time("at", entry.At),
	)
	return nil
}
