package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tixflow/go-reconciler/pkg/broker"
	"github.com/tixflow/go-reconciler/pkg/clock"
	"github.com/tixflow/go-reconciler/pkg/messages"
	"github.com/tixflow/go-reconciler/pkg/retry"
	"github.com/tixflow/go-reconciler/pkg/store"
)

type fakeEventRepo struct {
	events    map[string]store.Event
	saveCalls int
}

func (f *fakeEventRepo) FindByID(ctx context.Context, id string) (*store.Event, error) {
	event, ok := f.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := event
	return &found, nil
}

func (f *fakeEventRepo) FindByStatus(ctx context.Context, statuses ...store.EventStatus) ([]store.Event, error) {
	var out []store.Event
	for _, event := range f.events {
		for _, s := range statuses {
			if event.Status == s {
				out = append(out, event)
			}
		}
	}
	return out, nil
}

func (f *fakeEventRepo) Save(ctx context.Context, event *store.Event) error {
	f.saveCalls++
	event.Version++
	f.events[event.ID] = *event
	return nil
}

type publishRecorder struct {
	published map[string][][]byte
}

func newPublishRecorder() *publishRecorder {
	return &publishRecorder{published: map[string][][]byte{}}
}

func (p *publishRecorder) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	p.published[topic] = append(p.published[topic], payload)
	return nil
}

func (p *publishRecorder) Subscribe(ctx context.Context, topic string) (<-chan broker.Delivery, error) {
	return nil, errors.New("not a consuming fake")
}

func (p *publishRecorder) DeadLetter(ctx context.Context, d broker.Delivery, cause error) error {
	return nil
}

func (p *publishRecorder) Close() error { return nil }

func sweepPolicies() (retry.Policy, retry.Policy) {
	optimistic := retry.StoreCall(time.Second, 3, time.Millisecond, 0, func(err error) bool {
		return errors.Is(err, store.ErrVersionConflict)
	})
	brokerCall := retry.BrokerCall(time.Second, 3, time.Millisecond, 0, nil)
	return optimistic, brokerCall
}

var sweepNow = time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

func TestCompletionSweepPromotesElapsedEvents(t *testing.T) {
	repo := &fakeEventRepo{events: map[string]store.Event{
		"evt-done": {ID: "evt-done", Status: store.EventStatusInProgress, StartTime: sweepNow.Add(-2 * time.Hour), DurationMinutes: 60, Version: 1},
		"evt-live": {ID: "evt-live", Status: store.EventStatusInProgress, StartTime: sweepNow.Add(-30 * time.Minute), DurationMinutes: 90, Version: 1},
	}}
	rec := newPublishRecorder()
	optimistic, brokerCall := sweepPolicies()
	sweep := NewEventCompletionSweep(repo, rec, optimistic, brokerCall, clock.Fixed{T: sweepNow})

	assert.Equal(t, "checkForCompletedEvents", sweep.Name())
	assert.NoError(t, sweep.Run(context.Background()))

	assert.Equal(t, store.EventStatusCompleted, repo.events["evt-done"].Status)
	assert.Equal(t, store.EventStatusInProgress, repo.events["evt-live"].Status)

	assert.Len(t, rec.published[messages.TopicEventCompleted], 1)
	var completed messages.EventCompleted
	assert.NoError(t, messages.Decode(rec.published[messages.TopicEventCompleted][0], &completed))
	assert.Equal(t, "evt-done", completed.EventID)
}

func TestCompletionSweepLeavesElapsedAwaitingAlone(t *testing.T) {
	// AWAITING cannot jump straight to COMPLETED; the forbidden transition is
	// surfaced and the record left untouched for this cycle.
	repo := &fakeEventRepo{events: map[string]store.Event{
		"evt-1": {ID: "evt-1", Status: store.EventStatusAwaiting, StartTime: sweepNow.Add(-2 * time.Hour), DurationMinutes: 60, Version: 1},
	}}
	rec := newPublishRecorder()
	optimistic, brokerCall := sweepPolicies()
	sweep := NewEventCompletionSweep(repo, rec, optimistic, brokerCall, clock.Fixed{T: sweepNow})

	assert.NoError(t, sweep.Run(context.Background()))
	assert.Equal(t, store.EventStatusAwaiting, repo.events["evt-1"].Status)
	assert.Equal(t, 0, repo.saveCalls)
	assert.Empty(t, rec.published[messages.TopicEventCompleted])
}

func TestStartSweepPromotesStartedEvents(t *testing.T) {
	repo := &fakeEventRepo{events: map[string]store.Event{
		"evt-started": {ID: "evt-started", Status: store.EventStatusAwaiting, StartTime: sweepNow.Add(-time.Minute), DurationMinutes: 30, Version: 1},
		"evt-future":  {ID: "evt-future", Status: store.EventStatusAwaiting, StartTime: sweepNow.Add(time.Hour), DurationMinutes: 30, Version: 1},
	}}
	optimistic, _ := sweepPolicies()
	sweep := NewEventStartSweep(repo, optimistic, clock.Fixed{T: sweepNow})

	assert.Equal(t, "checkForAwaitingEventsThatHaveStarted", sweep.Name())
	assert.NoError(t, sweep.Run(context.Background()))

	assert.Equal(t, store.EventStatusInProgress, repo.events["evt-started"].Status)
	assert.Equal(t, store.EventStatusAwaiting, repo.events["evt-future"].Status)
}

func TestStartSweepIsIdempotent(t *testing.T) {
	repo := &fakeEventRepo{events: map[string]store.Event{
		"evt-1": {ID: "evt-1", Status: store.EventStatusAwaiting, StartTime: sweepNow.Add(-time.Minute), DurationMinutes: 30, Version: 1},
	}}
	optimistic, _ := sweepPolicies()
	sweep := NewEventStartSweep(repo, optimistic, clock.Fixed{T: sweepNow})

	assert.NoError(t, sweep.Run(context.Background()))
	assert.NoError(t, sweep.Run(context.Background()))

	assert.Equal(t, store.EventStatusInProgress, repo.events["evt-1"].Status)
	assert.Equal(t, 1, repo.saveCalls)
}
