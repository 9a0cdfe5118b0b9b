package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
	"github.com/Nasci15k/nasci15kbet-416b2457/pkg/contracts/events"
)

// MessageWriter é o subconjunto do *kafka.Writer usado aqui
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher publica eventos do ledger e pedidos de notificação
// Roda depois do commit; falhas só geram log
type KafkaPublisher struct {
	ledger  MessageWriter
	notify  MessageWriter
	log     *zap.Logger
	timeout time.Duration
}

func NewKafkaPublisher(ledger, notify MessageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{ledger: ledger, notify: notify, log: log, timeout: 2 * time.Second}
}

// TransactionsPosted implementa ledger.Observer
// A chave da mensagem é a conta, para manter a ordem por partição
func (p *KafkaPublisher) TransactionsPosted(ctx context.Context, txs ...repo.Transaction) {
	if p.ledger == nil || len(txs) == 0 {
		return
	}
	msgs := make([]kafka.Message, 0, len(txs))
	for _, t := range txs {
		value, err := json.Marshal(events.TransactionPosted{
			TransactionID: t.ID,
			AccountID:     t.AccountID,
			Type:          string(t.Type),
			Amount:        t.Amount,
			BalanceBefore: t.BalanceBefore,
			BalanceAfter:  t.BalanceAfter,
			Source:        string(t.Source),
			ExternalRef:   t.ExternalRef,
			Status:        string(t.Status),
			Ts:            t.CreatedAt,
		})
		if err != nil {
			p.log.Error("marshal transaction posted", zap.String("transaction_id", t.ID), zap.Error(err))
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(t.AccountID), Value: value, Time: time.Now()})
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.ledger.WriteMessages(ctx, msgs...); err != nil {
		p.log.Error("failed to publish ledger transactions", zap.Int("count", len(msgs)), zap.Error(err))
		return
	}
	p.log.Debug("published ledger transactions", zap.Int("count", len(msgs)))
}

// Notify implementa settlement.Notifier
func (p *KafkaPublisher) Notify(ctx context.Context, n events.NotificationRequested) error {
	value, err := json.Marshal(n)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	return p.notify.WriteMessages(ctx, kafka.Message{Key: []byte(n.AccountID), Value: value, Time: time.Now()})
}
