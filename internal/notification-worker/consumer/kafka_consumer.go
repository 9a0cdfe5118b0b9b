package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/shared/metrics"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
	"github.com/Nasci15k/nasci15kbet-416b2457/pkg/contracts/events"
)

var errInvalidNotification = errors.New("notification without account_id")

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type NotificationStore interface {
	InsertNotification(ctx context.Context, n repo.Notification) error
}

type Publisher interface {
	Publish(ctx context.Context, accountID string, payload []byte) error
}

// Processor consome user_notifications, grava no banco e repassa ao canal Redis do usuário
// Mensagens inválidas ou que esgotam as tentativas de gravação vão para a DLQ
type Processor struct {
	Log       *zap.Logger
	Reader    MessageReader
	Store     NotificationStore
	Publisher Publisher
	DLQ       MessageWriter // opcional
	Metrics   *metrics.Metrics

	Retries int
	Backoff time.Duration
}

// Run inicia o loop de consumo até o contexto ser cancelado
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.Metrics.Notification("read_error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		p.Handle(ctx, m)
	}
}

// Handle processa uma mensagem; nunca devolve erro para não travar a partição
func (p *Processor) Handle(ctx context.Context, m kafka.Message) {
	var n events.NotificationRequested
	if err := json.Unmarshal(m.Value, &n); err != nil {
		p.Log.Warn("invalid notification message", zap.Error(err))
		p.deadLetter(ctx, m, "decode")
		return
	}
	if n.AccountID == "" {
		p.Log.Warn("invalid notification message", zap.Error(errInvalidNotification))
		p.deadLetter(ctx, m, "decode")
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Ts.IsZero() {
		n.Ts = time.Now().UTC()
	}

	row := repo.Notification{
		ID:        n.ID,
		AccountID: n.AccountID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		CreatedAt: n.Ts,
	}
	if err := p.insertWithRetry(ctx, row); err != nil {
		p.Log.Error("notification insert failed", zap.String("notification_id", n.ID), zap.Error(err))
		p.deadLetter(ctx, m, "db")
		return
	}

	payload, _ := json.Marshal(n)
	pctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := p.Publisher.Publish(pctx, n.AccountID, payload); err != nil {
		// o aviso já está no banco; o cliente vê no próximo carregamento
		p.Log.Warn("notification publish failed", zap.String("account_id", n.AccountID), zap.Error(err))
		p.Metrics.Notification("publish_error")
		return
	}
	p.Metrics.Notification("ok")
}

func (p *Processor) insertWithRetry(ctx context.Context, n repo.Notification) error {
	var err error
	for i := 0; i <= p.Retries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * p.Backoff):
			}
		}
		if err = p.Store.InsertNotification(ctx, n); err == nil {
			return nil
		}
	}
	return err
}

func (p *Processor) deadLetter(ctx context.Context, m kafka.Message, stage string) {
	p.Metrics.Notification(stage + "_error")
	if p.DLQ == nil {
		return
	}
	dlq := kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "stage", Value: []byte(stage)},
			{Key: "source_topic", Value: []byte(m.Topic)},
		},
	}
	if err := p.DLQ.WriteMessages(ctx, dlq); err != nil {
		p.Log.Error("dlq write failed", zap.String("stage", stage), zap.Error(err))
	}
}
