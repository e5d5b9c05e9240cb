package lock

import (
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tixflow/go-reconciler/pkg/config"
)

// NewProvider selects the lock backend. The postgres backend shares the entity
// store's pool; redis is for deployments where the store is mongo.
func NewProvider(cfg config.LockSettings, db *sql.DB, redisCfg config.RedisSettings) (Provider, error) {
	switch cfg.Backend {
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres lock backend requires a postgres store")
		}
		return NewPostgresProvider(db), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		return NewRedisProvider(client), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend: %s", cfg.Backend)
	}
}
