package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampleEvent() TransitionEvent {
	return TransitionEvent{
		RequestID:   "00000000-0000-0000-0000-000000000201",
		ProviderID:  "p1",
		RequesterID: "r1",
		OldState:    "processing",
		NewState:    "accepted",
		SlotID:      "00000000-0000-0000-0000-000000000101",
		Actor:       "provider",
		OccurredAt:  time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
	}
}

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisPublisher_PublishesJSONOnChannel(t *testing.T) {
	client := &fakeRedis{}
	p := &RedisPublisher{client: client, channel: "bookings"}

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Equal(t, "bookings", client.channel)

	var got TransitionEvent
	require.NoError(t, json.Unmarshal(client.payload, &got))
	require.Equal(t, "accepted", got.NewState)
	require.Equal(t, "p1", got.ProviderID)
}

func TestRedisPublisher_WrapsPublishError(t *testing.T) {
	boom := errors.New("connection refused")
	p := &RedisPublisher{client: &fakeRedis{err: boom}, channel: "bookings"}

	err := p.Publish(context.Background(), sampleEvent())
	require.ErrorIs(t, err, boom)
}

func TestNewRedisPublisher_RejectsBadURL(t *testing.T) {
	_, err := NewRedisPublisher("not a url", "")
	require.Error(t, err)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_KeysMessagesByRequest(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	ev := sampleEvent()

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	require.Equal(t, ev.RequestID, string(w.msgs[0].Key))
	require.True(t, w.msgs[0].Time.Equal(ev.OccurredAt))

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []TransitionEvent
	err    error
	delay  time.Duration
}

func (r *recordingPublisher) Publish(ctx context.Context, ev TransitionEvent) error {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

type recordingActivity struct {
	mu      sync.Mutex
	entries []ActivityEntry
}

func (r *recordingActivity) Record(ctx context.Context, entry ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func TestDispatcher_DeliversAfterCallerContextIsCancelled(t *testing.T) {
	pub := &recordingPublisher{delay: 10 * time.Millisecond}
	act := &recordingActivity{}
	d := NewDispatcher(pub, act, zap.NewNop(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	d.Transition(ctx, sampleEvent())
	d.Activity(ctx, ActivityEntry{Actor: "p1", Action: "slot.created", SubjectID: "s1"})
	cancel()

	require.NoError(t, d.Wait(context.Background()))
	require.Len(t, pub.events, 1)
	require.Len(t, act.entries, 1)
	require.Equal(t, "slot.created", act.entries[0].Action)
}

func TestDispatcher_LogsFailuresWithoutReturningThem(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &recordingPublisher{err: errors.New("broker down")}
	d := NewDispatcher(pub, nil, zap.New(core), time.Second)

	d.Transition(context.Background(), sampleEvent())
	d.Activity(context.Background(), ActivityEntry{Action: "ignored"})
	require.NoError(t, d.Wait(context.Background()))

	entries := logs.FilterMessage("event delivery failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, "publisher", entries[0].ContextMap()["sink"])
}

func TestDispatcher_TimesOutSlowSinks(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &recordingPublisher{delay: time.Second}
	d := NewDispatcher(pub, nil, zap.New(core), 20*time.Millisecond)

	d.Transition(context.Background(), sampleEvent())
	require.NoError(t, d.Wait(context.Background()))
	require.Empty(t, pub.events)
	require.Equal(t, 1, logs.FilterMessage("event delivery failed").Len())
}

func TestDispatcher_CloseClosesSinks(t *testing.T) {
	w := &fakeWriter{}
	d := NewDispatcher(&KafkaPublisher{writer: w}, NewZapActivityLog(zap.NewNop()), nil, 0)

	require.NoError(t, d.Close(context.Background()))
	require.True(t, w.closed)
}

func TestLogPublisher_WritesTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	entries := logs.FilterMessage("request transition").All()
	require.Len(t, entries, 1)
	require.Equal(t, "accepted", entries[0].ContextMap()["new_state"])
}
