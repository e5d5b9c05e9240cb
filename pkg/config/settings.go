package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Settings struct {
	Database DbSettings     `mapstructure:"database"`
	Broker   BrokerSettings `mapstructure:"broker"`
	Redis    RedisSettings  `mapstructure:"redis"`
	Lock     LockSettings   `mapstructure:"lock"`
	HTTP     HTTPSettings   `mapstructure:"http"`

	StoreCallTimeout  time.Duration `mapstructure:"store_call_timeout" validate:"required"`
	BrokerCallTimeout time.Duration `mapstructure:"broker_call_timeout" validate:"required"`

	StoreRetryAttempts      int           `mapstructure:"store_retry_attempts" validate:"min=1"`
	BrokerRetryAttempts     int           `mapstructure:"broker_retry_attempts" validate:"min=1"`
	OptimisticRetryAttempts int           `mapstructure:"optimistic_retry_attempts" validate:"min=1"`
	RetryBaseDelay          time.Duration `mapstructure:"retry_base_delay"`
	RetryJitter             float64       `mapstructure:"retry_jitter"`

	SweepDelay        time.Duration `mapstructure:"sweep_delay" validate:"required"`
	SweepInitialDelay time.Duration `mapstructure:"sweep_initial_delay"`
	SweepBudget       time.Duration `mapstructure:"sweep_budget" validate:"required"`
	LockMinHold       time.Duration `mapstructure:"lock_min_hold" validate:"required"`

	ConfirmationWindowMinutes int `mapstructure:"confirmation_window_minutes" validate:"min=1"`

	DeadLetterSuffix string `mapstructure:"dead_letter_suffix" validate:"required"`

	Observability Observability `mapstructure:"observability"`
}

func (c *Settings) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	// A stalled sweep must never outlive its own lock.
	if c.SweepBudget >= c.LockMinHold {
		return fmt.Errorf("sweep_budget (%s) must be strictly less than lock_min_hold (%s)", c.SweepBudget, c.LockMinHold)
	}
	return nil
}

func LoadFromFile(filePath string) (*Settings, error) {

	env := getEnvWithDefaultLookup("ENVIRONMENT", "development")

	cfg := &Settings{}
	viper.SetConfigType("yaml")
	viper.SetConfigName("reconciler")
	viper.AddConfigPath(filePath) // path to config
	viper.AddConfigPath(".")      // current directory

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("No config file found or read error: %v (will rely on env)", err)
	}

	err := mergeConfig(filePath, "reconciler."+env)
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error merging environment config: %s\n", err)
			os.Exit(1)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("Failed to load from env: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	return cfg, nil
}

func (c *Settings) LoadFromEnv() error {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // env vars like RECONCILER_DATABASE_TYPE

	// Bind environment variables explicitly to ensure they map correctly
	viper.BindEnv("database.type")
	viper.BindEnv("database.dsn")
	viper.BindEnv("database.uri")
	viper.BindEnv("database.name")
	viper.BindEnv("broker.type")
	viper.BindEnv("broker.url")
	viper.BindEnv("broker.exchange")
	viper.BindEnv("broker.projectID")
	viper.BindEnv("broker.pool_size")
	viper.BindEnv("redis.addr")
	viper.BindEnv("redis.password")
	viper.BindEnv("lock.backend")
	viper.BindEnv("http.addr")
	viper.BindEnv("store_call_timeout")
	viper.BindEnv("broker_call_timeout")
	viper.BindEnv("store_retry_attempts")
	viper.BindEnv("broker_retry_attempts")
	viper.BindEnv("optimistic_retry_attempts")
	viper.BindEnv("retry_base_delay")
	viper.BindEnv("retry_jitter")
	viper.BindEnv("sweep_delay")
	viper.BindEnv("sweep_initial_delay")
	viper.BindEnv("sweep_budget")
	viper.BindEnv("lock_min_hold")
	viper.BindEnv("confirmation_window_minutes")
	viper.BindEnv("dead_letter_suffix")
	viper.BindEnv("observability.service_name")
	viper.BindEnv("observability.tracing_url")
	viper.BindEnv("observability.metrics_url")

	if err := viper.Unmarshal(&c); err != nil {
		return err
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("store_call_timeout", 2*time.Second)
	viper.SetDefault("broker_call_timeout", 2*time.Second)
	viper.SetDefault("store_retry_attempts", 3)
	viper.SetDefault("broker_retry_attempts", 3)
	viper.SetDefault("optimistic_retry_attempts", 3)
	viper.SetDefault("retry_base_delay", 500*time.Millisecond)
	viper.SetDefault("retry_jitter", 0.7)
	viper.SetDefault("sweep_delay", time.Minute)
	viper.SetDefault("sweep_initial_delay", 10*time.Second)
	viper.SetDefault("sweep_budget", 30*time.Second)
	viper.SetDefault("lock_min_hold", time.Minute)
	viper.SetDefault("confirmation_window_minutes", 60)
	viper.SetDefault("dead_letter_suffix", ".DLT")
	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("lock.backend", "postgres")
}

func mergeConfig(path string, name string) error {
	viper.SetConfigName(name)
	viper.AddConfigPath(path)
	err := viper.MergeInConfig()
	if err != nil {
		return err
	}
	return nil
}

func getEnvWithDefaultLookup(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}
