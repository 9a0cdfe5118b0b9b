package main

import (
	"context"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/processor-simulator/server"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/config"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/logger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/metrics"
)

func main() {
	cfg := config.LoadService("processor-simulator")
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	prometheus.MustRegister(server.Collectors()...)

	hub := server.NewHub(log)
	notifier := server.NewNotifier(cfg.SimulatorTargetURL, cfg.PaymentWebhookSecret)
	sim := server.New(log, cfg.S6XPayClientID, cfg.S6XPayClientSecret, notifier, hub)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Sem atraso configurado a liquidação é manual via POST /simulate/...
	if cfg.SimulatorSettleDelay > 0 {
		rate := cfg.SimulatorApproveRate
		go sim.AutoSettle(ctx, time.Second, cfg.SimulatorSettleDelay, func() bool { return rand.Intn(100) < rate })
		log.Info("auto settle enabled", zap.Duration("delay", cfg.SimulatorSettleDelay), zap.Int("approve_rate", rate))
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log)

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("processor simulator running",
			zap.String("addr", apiSrv.Addr),
			zap.String("webhook_target", cfg.SimulatorTargetURL),
		)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("api srv", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("processor simulator stopped")
}
