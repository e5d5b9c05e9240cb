package confirmation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/tixflow/go-reconciler/pkg/broker"
	"github.com/tixflow/go-reconciler/pkg/clock"
	"github.com/tixflow/go-reconciler/pkg/messages"
	"github.com/tixflow/go-reconciler/pkg/retry"
	"github.com/tixflow/go-reconciler/pkg/store"
)

type fakeConfirmationRepo struct {
	byToken       map[string]store.BookingConfirmation
	lookups       int
	inserts       []store.BookingConfirmation
	insertErr     error
	saveErr       error
	saveConflicts int
}

func (f *fakeConfirmationRepo) Insert(ctx context.Context, c *store.BookingConfirmation) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserts = append(f.inserts, *c)
	f.byToken[c.Token] = *c
	return nil
}

func (f *fakeConfirmationRepo) FindAwaitingByToken(ctx context.Context, token string) (*store.BookingConfirmation, error) {
	f.lookups++
	c, ok := f.byToken[token]
	if !ok || c.Status != store.ConfirmationStatusAwaiting {
		return nil, store.ErrNotFound
	}
	found := c
	return &found, nil
}

func (f *fakeConfirmationRepo) FindExpired(ctx context.Context, now time.Time) ([]store.BookingConfirmation, error) {
	var out []store.BookingConfirmation
	for _, c := range f.byToken {
		if c.Status == store.ConfirmationStatusAwaiting && !c.Deadline().After(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeConfirmationRepo) Save(ctx context.Context, c *store.BookingConfirmation) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.saveConflicts > 0 {
		f.saveConflicts--
		return store.ErrVersionConflict
	}
	c.Version++
	f.byToken[c.Token] = *c
	return nil
}

type publishRecorder struct {
	published map[string][][]byte
	err       error
}

func newPublishRecorder() *publishRecorder {
	return &publishRecorder{published: map[string][][]byte{}}
}

func (p *publishRecorder) Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if p.err != nil {
		return &broker.PublishError{Topic: topic, Err: p.err}
	}
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

func testPolicies() (retry.Policy, retry.Policy) {
	storeCall := retry.StoreCall(time.Second, 3, time.Millisecond, 0, func(err error) bool {
		return errors.Is(err, store.ErrVersionConflict)
	})
	brokerCall := retry.BrokerCall(time.Second, 3, time.Millisecond, 0, func(err error) bool {
		var publishErr *broker.PublishError
		return errors.As(err, &publishErr)
	})
	return storeCall, brokerCall
}

var testNow = time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)

func newTestService(repo *fakeConfirmationRepo, rec *publishRecorder, now time.Time) *Service {
	storeCall, brokerCall := testPolicies()
	return NewService(repo, rec, storeCall, brokerCall, clock.Fixed{T: now})
}

func awaitingConfirmation(token string, windowStart time.Time, windowMinutes int) store.BookingConfirmation {
	return store.BookingConfirmation{
		ID:             uuid.NewString(),
		BookingID:      "bkg-1",
		EventID:        "evt-1",
		Token:          token,
		MemberUsername: "maria",
		MemberEmail:    "maria@example.com",
		WindowStart:    windowStart,
		WindowMinutes:  windowMinutes,
		Status:         store.ConfirmationStatusAwaiting,
		Version:        1,
	}
}

func TestConfirmWithinWindow(t *testing.T) {
	token := uuid.NewString()
	repo := &fakeConfirmationRepo{byToken: map[string]store.BookingConfirmation{
		token: awaitingConfirmation(token, testNow.Add(-10*time.Minute), 70),
	}}
	rec := newPublishRecorder()
	svc := newTestService(repo, rec, testNow)

	result, err := svc.Confirm(context.Background(), token)
	assert.NoError(t, err)
	assert.Equal(t, "confirmed", result.Status)
	assert.Contains(t, result.Message, "maria")
	assert.Equal(t, store.ConfirmationStatusConfirmed, repo.byToken[token].Status)

	assert.Len(t, rec.published[messages.TopicBookingConfirmed], 1)
	var confirmed messages.BookingConfirmed
	assert.NoError(t, messages.Decode(rec.published[messages.TopicBookingConfirmed][0], &confirmed))
	assert.Equal(t, "bkg-1", confirmed.Booking.ID)
	assert.Equal(t, "evt-1", confirmed.EventID)
}

func TestConfirmPastDeadline(t *testing.T) {
	token := uuid.NewString()
	repo := &fakeConfirmationRepo{byToken: map[string]store.BookingConfirmation{
		token: awaitingConfirmation(token, testNow.Add(-70*time.Minute), 10),
	}}
	rec := newPublishRecorder()
	svc := newTestService(repo, rec, testNow)

	result, err := svc.Confirm(context.Background(), token)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrWindowExpired)
	assert.Equal(t, store.ConfirmationStatusExpired, repo.byToken[token].Status)
	assert.Len(t, rec.published[messages.TopicBookingExpired], 1)
	assert.Empty(t, rec.published[messages.TopicBookingConfirmed])
}

func TestConfirmExactlyAtDeadlineExpires(t *testing.T) {
	// The boundary is exclusive: minute-truncated now equal to the
	// minute-truncated deadline must expire, not confirm.
	token := uuid.NewString()
	repo := &fakeConfirmationRepo{byToken: map[string]store.BookingConfirmation{
		token: awaitingConfirmation(token, testNow.Add(-60*time.Minute), 60),
	}}
	rec := newPublishRecorder()
	svc := newTestService(repo, rec, testNow)

	result, err := svc.Confirm(context.Background(), token)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrWindowExpired)
	assert.Equal(t, store.ConfirmationStatusExpired, repo.byToken[token].Status)
}

func TestConfirmSecondsIntoDeadlineMinuteExpires(t *testing.T) {
	token := uuid.NewString()
	repo := &fakeConfirmationRepo{byToken: map[string]store.BookingConfirmation{
		token: awaitingConfirmation(token, testNow.Add(-60*time.Minute), 60),
	}}
	svc := newTestService(repo, newPublishRecorder(), testNow.Add(30*time.Second))

	_, err := svc.Confirm(context.Background(), token)
	assert.ErrorIs(t, err, ErrWindowExpired)
}

func TestConfirmMalformedToken(t *testing.T) {
	repo := &fakeConfirmationRepo{byToken: map[string]store.BookingConfirmation{}}
	svc := newTestService(repo, newPublishRecorder(), testNow)

	result, err := svc.Confirm(context.Background(), "not-a-token")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrBadToken)
	assert.Equal(t, 0, repo.lookups)
}

func TestConfirmUnknownToken(t *testing.T) {
	repo := &fakeConfirmationRepo{byToken: map[string]store.BookingConfirmation{}}
	svc := newTestService(repo, newPublishRecorder(), testNow)

	result, err := svc.Confirm(context.Background(), uuid.NewString())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConfirmTokenIsSingleUse(t *testing.T) {
	token := uuid.NewString()
	repo := &fakeConfirmationRepo{byToken: map[string]store.BookingConfirmation{
		token: awaitingConfirmation(token, testNow.Add(-10*time.Minute), 70),
	}}
	rec := newPublishRecorder()
	svc := newTestService(repo, rec, testNow)

	_, err := svc.Confirm(context.Background(), token)
	assert.NoError(t, err)

	result, err := svc.Confirm(context.Background(), token)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Len(t, rec.published[messages.TopicBookingConfirmed], 1)
}

func TestConfirmPublishFailureDoesNotUndoConfirmation(t *testing.T) {
	token := uuid.NewString()
	repo := &fakeConfirmationRepo{byToken: map[string]store.BookingConfirmation{
		token: awaitingConfirmation(token, testNow.Add(-10*time.Minute), 70),
	}}
	rec := newPublishRecorder()
	rec.err = errors.New("broker down")
	svc := newTestService(repo, rec, testNow)

	result, err := svc.Confirm(context.Background(), token)
	assert.NoError(t, err)
	assert.Equal(t, "confirmed", result.Status)
	assert.Equal(t, store.ConfirmationStatusConfirmed, repo.byToken[token].Status)
}

func TestConfirmLosingRaceAgainstSweepSurfacesNotFound(t *testing.T) {
	// A version conflict re-reads through the awaiting-scoped lookup; if the
	// expiry sweep finalized in between, the record is simply gone.
	token := uuid.NewString()
	repo := &fakeConfirmationRepo{
		byToken: map[string]store.BookingConfirmation{
			token: awaitingConfirmation(token, testNow.Add(-10*time.Minute), 70),
		},
		saveConflicts: 1,
	}
	rec := newPublishRecorder()
	svc := newTestService(repo, rec, testNow)

	// First save attempt conflicts, second succeeds against fresh state.
	result, err := svc.Confirm(context.Background(), token)
	assert.NoError(t, err)
	assert.Equal(t, "confirmed", result.Status)
}
