package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	apigateway "github.com/Nasci15k/nasci15kbet-416b2457/internal/api-gateway"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/config"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/logger"
)

func main() {
	cfg := config.LoadService("api-gateway")
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// webhooks -> webhook-gateway, /v1 e /ws -> cashier-service
	h, err := apigateway.NewRouter(cfg.WebhookGatewayURL, cfg.CashierServiceURL)
	if err != nil {
		log.Fatal("gateway routes", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("api-gateway listening",
		zap.String("addr", srv.Addr),
		zap.String("webhooks", cfg.WebhookGatewayURL),
		zap.String("cashier", cfg.CashierServiceURL),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("gateway failed", zap.Error(err))
	}
}
