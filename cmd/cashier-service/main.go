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

	chttp "github.com/Nasci15k/nasci15kbet-416b2457/internal/cashier-service/http"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/cashier-service/processor"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/cashier-service/realtime"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/cashier-service/service"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/auth"
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
	cfg := config.LoadService("cashier-service")

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
	ledgerWriter := kafka.NewWriter(brokers, cfg.TopicLedgerTransactions)
	defer ledgerWriter.Close()
	notifyWriter := kafka.NewWriter(brokers, cfg.TopicUserNotifications)
	defer notifyWriter.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	store := repo.NewPostgres(pg)
	events := publisher.NewKafkaPublisher(ledgerWriter, notifyWriter, log)
	walletCache := wcache.NewWalletCache(redisClient, cfg.WalletCacheTTL, log)
	mutator := ledger.NewMutator(store, log, m, events, walletCache)
	settle := settlement.NewService(store, mutator, events, log)

	s6x := processor.New(cfg.S6XPayBaseURL, cfg.S6XPayClientID, cfg.S6XPayClientSecret)
	cashier := service.New(store, settle, s6x, walletCache, service.Limits{
		DepositMin:  cfg.DepositMin,
		DepositMax:  cfg.DepositMax,
		WithdrawMin: cfg.WithdrawMin,
		WithdrawMax: cfg.WithdrawMax,
		FeeFixed:    cfg.WithdrawFeeFixed,
		FeeRate:     cfg.WithdrawFeeRate,
	}, m, log)

	verifier := auth.NewVerifier(cfg.AuthJWTSecret)
	hub := realtime.NewHub(log, verifier.Subject, func(*http.Request) bool { return true })

	r := chi.NewRouter()
	r.Use(httpx.WithCORS)
	chttp.NewServer(log, cashier, verifier.Middleware).Routes(r)
	r.Get("/ws/notifications", hub.HandleWS)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Avisos publicados pelo notification-worker chegam aqui via Redis pub/sub
	realtime.StartRedisSubscriber(ctx, redisClient, cfg.RedisNotificationPrefix, hub, log)

	go func() {
		checkCtx, done := context.WithTimeout(ctx, 5*time.Second)
		defer done()
		_ = cashier.CheckProcessor(checkCtx)
	}()

	// Conciliação de depósitos pendentes (webhook perdido ou atrasado)
	reconciler := service.NewReconciler(cashier, cfg.ReconcileInterval, cfg.ReconcileMinAge, cfg.DepositTTL, log)
	go reconciler.Run(ctx)

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log,
		pg.PingContext,
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	)

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("cashier-service stopped")
}
