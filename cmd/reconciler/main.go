package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tixflow/go-reconciler/pkg/broker"
	"github.com/tixflow/go-reconciler/pkg/clock"
	"github.com/tixflow/go-reconciler/pkg/config"
	"github.com/tixflow/go-reconciler/pkg/confirmation"
	"github.com/tixflow/go-reconciler/pkg/inventory"
	"github.com/tixflow/go-reconciler/pkg/lock"
	"github.com/tixflow/go-reconciler/pkg/logging"
	"github.com/tixflow/go-reconciler/pkg/messages"
	"github.com/tixflow/go-reconciler/pkg/pipeline"
	"github.com/tixflow/go-reconciler/pkg/retry"
	"github.com/tixflow/go-reconciler/pkg/scheduler"
	"github.com/tixflow/go-reconciler/pkg/store"
	"github.com/tixflow/go-reconciler/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration from file or environment
	cfg, err := config.LoadFromFile("./cmd/reconciler")
	if err != nil {
		log.Fatal("Error loading configuration: ", err)
	}

	logging.Configure(logging.Config{
		Level:   cfg.Observability.LogLevel,
		Service: cfg.Observability.ServiceName,
	})
	logger := logging.WithComponent("main")

	// Initialize telemetry (tracing)
	shutdownTelemetry, err := telemetry.Init(cfg.Observability)
	if err != nil {
		log.Fatal("Failed to initialize telemetry: ", err)
	}
	defer shutdownTelemetry() // Ensure telemetry is properly shut down on exit

	// Initialize the entity store
	repos, err := store.NewRepositories(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to initialize repositories: ", err)
	}

	// Initialize the distributed lock provider
	locks, err := lock.NewProvider(cfg.Lock, repos.DB, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to initialize lock provider: ", err)
	}

	// Initialize the message broker
	mb, err := broker.NewBroker(ctx, &cfg.Broker, cfg.DeadLetterSuffix)
	if err != nil {
		log.Fatal("Failed to initialize broker: ", err)
	}
	defer mb.Close()

	clk := clock.System{}

	versionConflict := func(err error) bool { return errors.Is(err, store.ErrVersionConflict) }
	publishFailure := func(err error) bool {
		var pe *broker.PublishError
		return errors.As(err, &pe)
	}

	storeCall := retry.StoreCall(cfg.StoreCallTimeout, cfg.StoreRetryAttempts, cfg.RetryBaseDelay, cfg.RetryJitter, versionConflict)
	brokerCall := retry.BrokerCall(cfg.BrokerCallTimeout, cfg.BrokerRetryAttempts, cfg.RetryBaseDelay, cfg.RetryJitter, publishFailure)
	optimistic := retry.Policy{
		Name:           "optimistic-transition",
		MaxAttempts:    cfg.OptimisticRetryAttempts,
		AttemptTimeout: cfg.StoreCallTimeout,
		BaseDelay:      cfg.RetryBaseDelay,
		JitterFactor:   cfg.RetryJitter,
		Retryable:      versionConflict,
	}

	inv := inventory.NewListener(repos.Events, mb, storeCall, brokerCall)
	intake := confirmation.NewIntake(repos.Confirmations, storeCall, clk, cfg.ConfirmationWindowMinutes)
	svc := confirmation.NewService(repos.Confirmations, mb, storeCall, brokerCall, clk)

	consumer := pipeline.NewConsumer(mb, cfg.Broker.PoolSize)

	var wg sync.WaitGroup
	consume := func(topic string, h pipeline.Handler) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx, topic, h); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("topic", topic).Msg("consumer stopped")
			}
		}()
	}
	consume(messages.TopicBookingConfirmed, pipeline.HandlerFunc(inv.HandleBookingConfirmed))
	consume(messages.TopicBookingCancelled, pipeline.HandlerFunc(inv.HandleBookingCancelled))
	consume(messages.TopicBookingCreated, pipeline.HandlerFunc(intake.HandleBookingCreated))

	runner := scheduler.NewRunner(locks, cfg.SweepDelay, cfg.SweepInitialDelay, cfg.LockMinHold, cfg.SweepBudget)
	sweeps := []scheduler.Sweep{
		scheduler.NewEventCompletionSweep(repos.Events, mb, optimistic, brokerCall, clk),
		scheduler.NewEventStartSweep(repos.Events, optimistic, clk),
		scheduler.NewConfirmationExpirySweep(repos.Confirmations, mb, brokerCall, clk),
	}
	for _, s := range sweeps {
		wg.Add(1)
		go func(s scheduler.Sweep) {
			defer wg.Done()
			runner.Run(ctx, s)
		}(s)
	}

	r := chi.NewRouter()
	confirmation.NewHandler(svc).Routes(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http shutdown")
		}
	}()

	logger.Info().Str("addr", cfg.HTTP.Addr).Msg("booking reconciler started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server failed")
		stop()
	}

	wg.Wait()
}
