package lock

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

type PostgresProvider struct {
	db *sql.DB
}

func NewPostgresProvider(db *sql.DB) *PostgresProvider {
	return &PostgresProvider{db: db}
}

// TryAcquire performs a conditional write on the lock row: insert when absent,
// steal only when the previous holder's expiry has passed.
func (p *PostgresProvider) TryAcquire(ctx context.Context, name string, minHold time.Duration) (*Lock, error) {
	tracer := otel.Tracer("booking-reconciler")
	ctx, span := tracer.Start(ctx, "LockTryAcquire")
	defer span.End()

	holder := uuid.NewString()
	now := time.Now()
	expiresAt := now.Add(minHold)

	res, err := p.db.ExecContext(ctx,
		`INSERT INTO sweep_locks (name, holder, expires_at) VALUES ($1, $2, $3)
         ON CONFLICT (name) DO UPDATE SET holder=EXCLUDED.holder, expires_at=EXCLUDED.expires_at
         WHERE sweep_locks.expires_at <= $4`,
		name, holder, expiresAt, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotAcquired
	}

	return &Lock{
		Name:      name,
		holder:    holder,
		expiresAt: expiresAt,
		release: func(ctx context.Context) error {
			_, err := p.db.ExecContext(ctx,
				`DELETE FROM sweep_locks WHERE name=$1 AND holder=$2`, name, holder)
			return err
		},
	}, nil
}
