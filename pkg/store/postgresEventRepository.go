package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
)

type PostgresEventRepository struct {
	db *sql.DB // using database/sql
}

func NewPostgresEventRepository(db *sql.DB) *PostgresEventRepository {
	return &PostgresEventRepository{db: db}
}

func (p *PostgresEventRepository) FindByID(ctx context.Context, id string) (*Event, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "EventFindByID")
	defer span.End()

	startTime := time.Now()

	row := p.db.QueryRowContext(ctx,
		`SELECT id, facilitator, title, start_time, duration_minutes, available_bookings, status, version
         FROM events WHERE id=$1`, id)

	var event Event
	err := row.Scan(
		&event.ID,
		&event.Facilitator,
		&event.Title,
		&event.StartTime,
		&event.DurationMinutes,
		&event.AvailableBookings,
		&event.Status,
		&event.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "EventFindByID", 1, time.Since(startTime))

	return &event, nil
}

func (p *PostgresEventRepository) FindByStatus(ctx context.Context, statuses ...EventStatus) ([]Event, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "EventFindByStatus")
	defer span.End()

	startTime := time.Now()

	values := make([]string, len(statuses))
	for i, s := range statuses {
		values[i] = string(s)
	}

	rows, err := p.db.QueryContext(ctx,
		`SELECT id, facilitator, title, start_time, duration_minutes, available_bookings, status, version
         FROM events WHERE status = ANY($1)`, pq.Array(values))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var event Event
		if err := rows.Scan(
			&event.ID,
			&event.Facilitator,
			&event.Title,
			&event.StartTime,
			&event.DurationMinutes,
			&event.AvailableBookings,
			&event.Status,
			&event.Version); err != nil {
			span.RecordError(err)
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "EventFindByStatus", len(events), time.Since(startTime))

	return events, nil
}

// Save writes the seat counter and status back under optimistic lock; those
// are the only event fields this service owns.
func (p *PostgresEventRepository) Save(ctx context.Context, event *Event) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "EventSave")
	defer span.End()

	startTime := time.Now()

	res, err := p.db.ExecContext(ctx,
		`UPDATE events SET available_bookings=$1, status=$2, version=version+1
         WHERE id=$3 AND version=$4`,
		event.AvailableBookings, event.Status, event.ID, event.Version)
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
	event.Version++

	addDBStatsToSpan(span, "EventSave", 1, time.Since(startTime))

	return nil
}
