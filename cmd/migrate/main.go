package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/config"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/db"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/logger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

func main() {
	cfg := config.LoadService("migrate")
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := repo.Migrate(ctx, pg); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	log.Info("schema applied")
}
