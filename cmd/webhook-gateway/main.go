package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	phttp "github.com/Nasci15k/nasci15kbet-416b2457/internal/payment-webhook/http"
	vhttp "github.com/Nasci15k/nasci15kbet-416b2457/internal/provider-webhook/http"
	vservice "github.com/Nasci15k/nasci15kbet-416b2457/internal/provider-webhook/service"
	sharedcache "github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/cache"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/config"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/db"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/httpx"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/kafka"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/logger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/metrics"
	wcache "github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/cache"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/ledger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/publisher"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/settlement"
)

func main() {
	cfg := config.LoadService("webhook-gateway")

	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	log.Info("starting service", zap.String("service", cfg.ServiceName), zap.String("env", cfg.Env))

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	brokers := cfg.Brokers()
	if cfg.Env == "local" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := kafka.EnsureTopics(ctx, brokers, log, cfg.TopicLedgerTransactions, cfg.TopicUserNotifications); err != nil {
			log.Warn("ensure topics", zap.Error(err))
		}
		cancel()
	}
	ledgerWriter := kafka.NewWriter(brokers, cfg.TopicLedgerTransactions)
	defer ledgerWriter.Close()
	notifyWriter := kafka.NewWriter(brokers, cfg.TopicUserNotifications)
	defer notifyWriter.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	// Ledger: store Postgres + observers pós-commit (eventos Kafka e invalidação do cache da carteira)
	store := repo.NewPostgres(pg)
	events := publisher.NewKafkaPublisher(ledgerWriter, notifyWriter, log)
	walletCache := wcache.NewWalletCache(redisClient, cfg.WalletCacheTTL, log)
	mutator := ledger.NewMutator(store, log, m, events, walletCache)
	settle := settlement.NewService(store, mutator, events, log)

	games := wcache.NewGameResolver(redisClient, cfg.GameCacheTTL, store, log)
	provider := vservice.New(vservice.Config{
		SecretKey:          cfg.ProviderSecretKey,
		AllowMissingSecret: cfg.ProviderAllowMissingSecret,
	}, store, games, mutator, log)

	r := chi.NewRouter()
	r.Use(httpx.WithCORS)
	vhttp.NewServer(log, provider, m, cfg.WebhookTimeout).Routes(r)
	phttp.NewServer(log, settle, cfg.PaymentWebhookSecret, m, cfg.WebhookTimeout).Routes(r)

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log,
		pg.PingContext,
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	)

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	// drena os webhooks em andamento antes de fechar pg/kafka
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("webhook-gateway stopped")
}
