package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/notification-worker/consumer"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/notification-worker/pubsub"
	sharedcache "github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/cache"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/config"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/db"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/kafka"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/logger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/metrics"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

func main() {
	cfg := config.LoadService("notification-worker")
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

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
		if err := kafka.EnsureTopics(ctx, brokers, log, cfg.TopicUserNotifications, cfg.TopicUserNotificationsDLQ); err != nil {
			log.Warn("ensure topics", zap.Error(err))
		}
		cancel()
	}

	// Consumer group próprio: cada aviso é gravado uma vez
	reader := kafka.NewReader(brokers, cfg.TopicUserNotifications, "notification-worker")
	defer reader.Close()
	dlq := kafka.NewWriter(brokers, cfg.TopicUserNotificationsDLQ)
	defer dlq.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	proc := &consumer.Processor{
		Log:       log,
		Reader:    reader,
		Store:     repo.NewPostgres(pg),
		Publisher: pubsub.NewRedisPublisher(redisClient, cfg.RedisNotificationPrefix),
		DLQ:       dlq,
		Metrics:   m,
		Retries:   3,
		Backoff:   200 * time.Millisecond,
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log,
		pg.PingContext,
		func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	)
	defer metricsSrv.Close()

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("notification-worker started", zap.String("topic", cfg.TopicUserNotifications))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("notification-worker stopped")
}
