package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tixflow/go-reconciler/pkg/config"
)

var sqlOpen = sql.Open

// Repositories bundles the entity repositories for one storage backend.
type Repositories struct {
	Events        EventRepository
	Confirmations ConfirmationRepository

	// DB is the shared handle when the backend is postgres, so the lock
	// provider can reuse the same pool. Nil for mongo.
	DB *sql.DB
}

func NewRepositories(ctx context.Context, cfg config.DbSettings) (*Repositories, error) {
	switch cfg.Type {
	case "postgres":
		db, err := sqlOpen("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, err
		}
		return &Repositories{
			Events:        NewPostgresEventRepository(db),
			Confirmations: NewPostgresConfirmationRepository(db),
			DB:            db,
		}, nil
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
		if err != nil {
			return nil, err
		}
		return &Repositories{
			Events:        NewMongoEventRepository(client, cfg.Name),
			Confirmations: NewMongoConfirmationRepository(client, cfg.Name),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
