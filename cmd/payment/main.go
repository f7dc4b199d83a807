package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/apperr"
	"github.com/ariefcatur/go-order-saga/internal/clock"
	"github.com/ariefcatur/go-order-saga/internal/config"
	"github.com/ariefcatur/go-order-saga/internal/events"
	"github.com/ariefcatur/go-order-saga/internal/httpx"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logging"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
	"github.com/ariefcatur/go-order-saga/internal/payments"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/retry"
	"github.com/ariefcatur/go-order-saga/internal/tracing"
	"github.com/ariefcatur/go-order-saga/migrations"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load("payment-service", ":8082")
	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	tracing.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db, migrations.Payment); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	clk := clock.NewSystem()
	repo := payments.NewRepo(db)
	orch := payments.NewOrchestrator(repo, payments.NewMockGateway(clk), clk, log, cfg.ServiceName)

	// Outbox: every payment outcome goes the same way, kafka or the order
	// service's HTTP endpoints.
	var (
		prod   *kafkax.Producer
		sender outbox.Sender
	)
	if cfg.NotifyTransport == config.TransportHTTP {
		sender = outbox.NewHTTPSender(&http.Client{Timeout: 5 * time.Second}, payments.OutcomeRequestBuilder(cfg.OrderServiceURL))
	} else {
		prod = kafkax.NewProducer(cfg.KafkaBrokers)
		sender = outbox.NewKafkaSender(prod)
	}
	relay := outbox.NewRelay(log.Named("outbox"), repo.Outbox, sender, clk, relayID(cfg.ServiceName), outbox.RelayConfig{
		Interval:    cfg.Outbox.Interval,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Lease:       cfg.Outbox.Lease,
		SendTimeout: cfg.Outbox.SendTimeout,
		Backoff:     retry.Policy{Initial: cfg.Outbox.BaseBackoff, Max: cfg.Outbox.MaxBackoff},
	})

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(name+" stopped", zap.Error(err))
				cancel()
			}
		}()
	}
	run("outbox relay", relay.Run)
	run("payment reaper", payments.NewReaper(repo, orch, clk, log.Named("reaper"), cfg.PaymentTimeout, cfg.ReaperInterval).Run)

	deadLetters := kafkax.NewPGDeadLetters(db)
	if cfg.NotifyTransport == config.TransportKafka {
		cons := kafkax.NewConsumer(log, cfg.KafkaBrokers, cfg.Consumer.Group, events.TopicPaymentCommands, cfg.Consumer.Workers)
		cons.Retryable = apperr.Retryable
		cons.DeadLetters = deadLetters
		h := payments.NewPaymentRequestHandler(orch, log)
		run("payment command consumer", func(ctx context.Context) error { return cons.Start(ctx, h.Handle) })
	}

	router := httpx.NewRouter(log)
	(&httpx.PaymentsHandler{Payments: orch, Log: log}).Register(router)
	(&httpx.OutboxHandler{Store: repo.Outbox, DeadLetters: deadLetters, Log: log}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("transport", cfg.NotifyTransport))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
	wg.Wait()
	if prod != nil {
		_ = prod.Close()
	}
}

func relayID(service string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return service + "@" + host
}
