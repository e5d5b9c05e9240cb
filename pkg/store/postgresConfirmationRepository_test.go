package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

var confirmationColumns = []string{"id", "booking_id", "event_id", "token", "member_username", "member_email", "window_start", "window_minutes", "status", "version"}

func TestConfirmationInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := &PostgresConfirmationRepository{db: db}

	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO booking_confirmations`).
		WithArgs("conf-1", "bkg-1", "evt-1", "tok-1", "maria", "maria@example.com", start, 60, "AWAITING_CONFIRMATION", int64(0)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	c := &BookingConfirmation{
		ID:             "conf-1",
		BookingID:      "bkg-1",
		EventID:        "evt-1",
		Token:          "tok-1",
		MemberUsername: "maria",
		MemberEmail:    "maria@example.com",
		WindowStart:    start,
		WindowMinutes:  60,
		Status:         ConfirmationStatusAwaiting,
	}
	err = repo.Insert(context.Background(), c)
	assert.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmationFindAwaitingByToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := &PostgresConfirmationRepository{db: db}

	start := time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(confirmationColumns).
		AddRow("conf-1", "bkg-1", "evt-1", "tok-1", "maria", "maria@example.com", start, 60, "AWAITING_CONFIRMATION", 2)

	mock.ExpectQuery(`FROM booking_confirmations WHERE token=\$1 AND status=\$2`).
		WithArgs("tok-1", "AWAITING_CONFIRMATION").
		WillReturnRows(rows)

	c, err := repo.FindAwaitingByToken(context.Background(), "tok-1")
	assert.NoError(t, err)
	assert.Equal(t, "conf-1", c.ID)
	assert.Equal(t, "bkg-1", c.BookingID)
	assert.Equal(t, ConfirmationStatusAwaiting, c.Status)
	assert.Equal(t, int64(2), c.Version)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmationFindAwaitingByToken_FinalizedIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := &PostgresConfirmationRepository{db: db}

	mock.ExpectQuery(`FROM booking_confirmations WHERE token=\$1 AND status=\$2`).
		WithArgs("tok-used", "AWAITING_CONFIRMATION").
		WillReturnRows(sqlmock.NewRows(confirmationColumns))

	c, err := repo.FindAwaitingByToken(context.Background(), "tok-used")
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmationFindExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := &PostgresConfirmationRepository{db: db}

	now := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	start := now.Add(-2 * time.Hour)
	rows := sqlmock.NewRows(confirmationColumns).
		AddRow("conf-1", "bkg-1", "evt-1", "tok-1", "maria", "maria@example.com", start, 60, "AWAITING_CONFIRMATION", 0)

	mock.ExpectQuery(`WHERE status=\$1 AND window_start \+ make_interval\(mins => window_minutes\) <= \$2`).
		WithArgs("AWAITING_CONFIRMATION", now).
		WillReturnRows(rows)

	expired, err := repo.FindExpired(context.Background(), now)
	assert.NoError(t, err)
	assert.Len(t, expired, 1)
	assert.Equal(t, "conf-1", expired[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmationSave_VersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := &PostgresConfirmationRepository{db: db}

	mock.ExpectExec(`UPDATE booking_confirmations SET status=\$1, version=version\+1\s+WHERE id=\$2 AND version=\$3`).
		WithArgs("EXPIRED", "conf-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	c := &BookingConfirmation{ID: "conf-1", Status: ConfirmationStatusExpired, Version: 2}
	err = repo.Save(context.Background(), c)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, int64(2), c.Version)

	assert.NoError(t, mock.ExpectationsWereMet())
}
