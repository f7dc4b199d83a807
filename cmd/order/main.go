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
	"github.com/ariefcatur/go-order-saga/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-saga/internal/kafka"
	"github.com/ariefcatur/go-order-saga/internal/logging"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/outbox"
	"github.com/ariefcatur/go-order-saga/internal/postgres"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
	"github.com/ariefcatur/go-order-saga/internal/retry"
	"github.com/ariefcatur/go-order-saga/internal/tracing"
	"github.com/ariefcatur/go-order-saga/migrations"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load("order-service", ":8081")
	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	tracing.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db, migrations.Order); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	clk := clock.NewSystem()
	hc := &http.Client{Timeout: 5 * time.Second}
	repo := orders.NewRepo(db)
	inv := inventory.NewClient(cfg.InventoryServiceURL, hc)
	coord := orders.NewCoordinator(repo, inv, orders.NewRedisCache(rdb, log), clk, log, cfg.ServiceName)

	// Outbox: payment commands follow NOTIFY_TRANSPORT, stock releases and
	// voids always go to the inventory HTTP API.
	var prod *kafkax.Producer
	senders := outbox.Router{
		events.TypeStockRelease: outbox.NewHTTPSender(hc, inv.ReleaseRequest),
		events.TypeStockVoid:    outbox.NewHTTPSender(hc, inv.VoidRequest),
	}
	if cfg.NotifyTransport == config.TransportHTTP {
		senders[events.TypePaymentRequested] = outbox.NewHTTPSender(hc, orders.PaymentRequestBuilder(cfg.PaymentServiceURL))
		senders[events.TypeRefundRequested] = outbox.NewHTTPSender(hc, orders.RefundRequestBuilder(cfg.PaymentServiceURL))
	} else {
		prod = kafkax.NewProducer(cfg.KafkaBrokers)
		senders[events.TypePaymentRequested] = outbox.NewKafkaSender(prod)
		senders[events.TypeRefundRequested] = outbox.NewKafkaSender(prod)
	}
	relay := outbox.NewRelay(log.Named("outbox"), repo.Outbox, senders, clk, relayID(cfg.ServiceName), relayConfig(cfg))

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
	run("order expirer", orders.NewExpirer(repo, coord, clk, log.Named("expirer"), cfg.OrderExpiry, cfg.ExpirerInterval).Run)

	deadLetters := kafkax.NewPGDeadLetters(db)
	if cfg.NotifyTransport == config.TransportKafka {
		cons := kafkax.NewConsumer(log, cfg.KafkaBrokers, cfg.Consumer.Group, events.TopicPaymentOutcomes, cfg.Consumer.Workers)
		cons.Retryable = apperr.Retryable
		cons.DeadLetters = deadLetters
		h := orders.NewPaymentOutcomeHandler(coord, redisx.NewDedup(rdb, cfg.ServiceName), log)
		run("payment outcome consumer", func(ctx context.Context) error { return cons.Start(ctx, h.Handle) })
	}

	router := httpx.NewRouter(log)
	(&httpx.OrdersHandler{Orders: coord, Log: log}).Register(router)
	(&httpx.OutboxHandler{Store: repo.Outbox, DeadLetters: deadLetters, Log: log}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("transport", cfg.NotifyTransport))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
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

func relayConfig(cfg config.Config) outbox.RelayConfig {
	return outbox.RelayConfig{
		Interval:    cfg.Outbox.Interval,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
		Lease:       cfg.Outbox.Lease,
		SendTimeout: cfg.Outbox.SendTimeout,
		Backoff:     retry.Policy{Initial: cfg.Outbox.BaseBackoff, Max: cfg.Outbox.MaxBackoff},
	}
}

func relayID(service string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return service + "@" + host
}
