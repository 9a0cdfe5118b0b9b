package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const reconcileBatch = 100

// Reconciler resolve depósitos pendentes cujo webhook não chegou
// Depósitos sem external_id (processador falhou na criação) expiram depois do TTL
type Reconciler struct {
	svc      *Service
	interval time.Duration
	minAge   time.Duration
	ttl      time.Duration
	log      *zap.Logger
}

func NewReconciler(svc *Service, interval, minAge, ttl time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{svc: svc, interval: interval, minAge: minAge, ttl: ttl, log: log}
}

// Run executa um ciclo a cada intervalo até o contexto ser cancelado
func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("reconcile cycle failed", zap.Error(err))
			}
		}
	}
}

// RunOnce expira órfãos e consulta o processador para os pendentes antigos
func (r *Reconciler) RunOnce(ctx context.Context) error {
	now := r.svc.now()

	expired, err := r.svc.store.ExpireOrphanDeposits(ctx, now.Add(-r.ttl))
	if err != nil {
		r.svc.metrics.Reconcile("error")
		return err
	}
	if expired > 0 {
		r.log.Info("orphan deposits expired", zap.Int64("count", expired))
	}

	stale, err := r.svc.store.ListStalePendingDeposits(ctx, now.Add(-r.minAge), reconcileBatch)
	if err != nil {
		r.svc.metrics.Reconcile("error")
		return err
	}
	failed := 0
	for _, d := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.svc.reconcile(ctx, d); err != nil {
			failed++
			r.log.Warn("deposit reconcile failed", zap.String("deposit_id", d.ID), zap.Error(err))
		}
	}
	if failed > 0 {
		r.svc.metrics.Reconcile("partial")
	} else {
		r.svc.metrics.Reconcile("ok")
	}
	return nil
}
