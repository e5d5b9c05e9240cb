package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
)

type PostgresConfirmationRepository struct {
	db *sql.DB
}

func NewPostgresConfirmationRepository(db *sql.DB) *PostgresConfirmationRepository {
	return &PostgresConfirmationRepository{db: db}
}

func (p *PostgresConfirmationRepository) Insert(ctx context.Context, c *BookingConfirmation) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ConfirmationInsert")
	defer span.End()

	startTime := time.Now()

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO booking_confirmations
         (id, booking_id, event_id, token, member_username, member_email, window_start, window_minutes, status, version)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.BookingID, c.EventID, c.Token, c.MemberUsername, c.MemberEmail,
		c.WindowStart, c.WindowMinutes, c.Status, c.Version)
	if err != nil {
		span.RecordError(err)
		return err
	}

	addDBStatsToSpan(span, "ConfirmationInsert", 1, time.Since(startTime))

	return nil
}

// FindAwaitingByToken is scoped to AWAITING_CONFIRMATION: a finalized token is
// indistinguishable from an absent one, which is what makes tokens single-use.
func (p *PostgresConfirmationRepository) FindAwaitingByToken(ctx context.Context, token string) (*BookingConfirmation, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ConfirmationFindAwaitingByToken")
	defer span.End()

	startTime := time.Now()

	row := p.db.QueryRowContext(ctx,
		`SELECT id, booking_id, event_id, token, member_username, member_email, window_start, window_minutes, status, version
         FROM booking_confirmations WHERE token=$1 AND status=$2`,
		token, ConfirmationStatusAwaiting)

	var c BookingConfirmation
	err := row.Scan(
		&c.ID,
		&c.BookingID,
		&c.EventID,
		&c.Token,
		&c.MemberUsername,
		&c.MemberEmail,
		&c.WindowStart,
		&c.WindowMinutes,
		&c.Status,
		&c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "ConfirmationFindAwaitingByToken", 1, time.Since(startTime))

	return &c, nil
}

func (p *PostgresConfirmationRepository) FindExpired(ctx context.Context, now time.Time) ([]BookingConfirmation, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ConfirmationFindExpired")
	defer span.End()

	startTime := time.Now()

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, booking_id, event_id, token, member_username, member_email, window_start, window_minutes, status, version
         FROM booking_confirmations
         WHERE status=$1 AND window_start + make_interval(mins => window_minutes) <= $2`,
		ConfirmationStatusAwaiting, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var confirmations []BookingConfirmation
	for rows.Next() {
		var c BookingConfirmation
		if err := rows.Scan(
			&c.ID,
			&c.BookingID,
			&c.EventID,
			&c.Token,
			&c.MemberUsername,
			&c.MemberEmail,
			&c.WindowStart,
			&c.WindowMinutes,
			&c.Status,
			&c.Version); err != nil {
			span.RecordError(err)
			return nil, err
		}
		confirmations = append(confirmations, c)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "ConfirmationFindExpired", len(confirmations), time.Since(startTime))

	return confirmations, nil
}

func (p *PostgresConfirmationRepository) Save(ctx context.Context, c *BookingConfirmation) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "ConfirmationSave")
	defer span.End()

	startTime := time.Now()

	res, err := p.db.ExecContext(ctx,
		`UPDATE booking_confirmations SET status=$1, version=version+1
         WHERE id=$2 AND version=$3`,
		c.Status, c.ID, c.Version)
	if err != nil {
		span.RecordError(err)
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	c.Version++

	addDBStatsToSpan(span, "ConfirmationSave", 1, time.Since(startTime))

	return nil
}
