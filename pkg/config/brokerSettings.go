package config

// BrokerSettings holds configuration for connecting to a message broker.
type BrokerSettings struct {
	Type      string `mapstructure:"type"`
	URL       string `mapstructure:"url"`
	Exchange  string `mapstructure:"exchange"`
	ProjectID string `mapstructure:"projectID"` // Optional for brokers like GCP Pub/Sub
	PoolSize  int    `mapstructure:"pool_size"`
}

// DbSettings holds configuration for the entity store backend.
type DbSettings struct {
	Type string `mapstructure:"type"` // "postgres" or "mongo"
	DSN  string `mapstructure:"dsn"`  // postgres connection string
	URI  string `mapstructure:"uri"`  // mongo connection URI
	Name string `mapstructure:"name"` // mongo database name
}

// RedisSettings holds configuration for the optional redis lock backend.
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LockSettings selects the distributed-lock backend.
type LockSettings struct {
	Backend string `mapstructure:"backend"` // "postgres" or "redis"
}

// HTTPSettings holds configuration for the confirmation/metrics HTTP server.
type HTTPSettings struct {
	Addr string `mapstructure:"addr"`
}
