package logger

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New cria o logger estruturado do serviço
// Em produção a amostragem fica desligada: toda mutação de saldo precisa aparecer no log
// level vazio mantém o padrão do ambiente (debug em local, info fora)
func New(serviceName, env, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	// sempre garantir que serviço e env entrem como campos padrão
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build(
		zap.Fields(
			zap.String("service", serviceName),
			zap.String("env", env),
		),
	)
}

// Masked registra só os 4 últimos caracteres (chave PIX, CPF, e-mail do pagador)
func Masked(key, value string) zap.Field {
	n := utf8.RuneCountInString(value)
	if n <= 4 {
		return zap.String(key, strings.Repeat("*", n))
	}
	r := []rune(value)
	return zap.String(key, strings.Repeat("*", n-4)+string(r[n-4:]))
}
