package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
	"github.com/Nasci15k/nasci15kbet-416b2457/pkg/contracts/events"
)

type sliceReader struct {
	msgs []kafka.Message
}

func (r *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

type flakyStore struct {
	*repo.Memory
	failures int
}

func (s *flakyStore) InsertNotification(ctx context.Context, n repo.Notification) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("db down")
	}
	return s.Memory.InsertNotification(ctx, n)
}

type recordingPublisher struct {
	channels []string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, accountID string, _ []byte) error {
	p.channels = append(p.channels, accountID)
	return p.err
}

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func message(t *testing.T, n events.NotificationRequested) kafka.Message {
	t.Helper()
	b, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Topic: "user_notifications", Key: []byte(n.AccountID), Value: b}
}

func newProcessor(store NotificationStore, pub Publisher, dlq MessageWriter, msgs ...kafka.Message) *Processor {
	return &Processor{
		Log:       zap.NewNop(),
		Reader:    &sliceReader{msgs: msgs},
		Store:     store,
		Publisher: pub,
		DLQ:       dlq,
		Retries:   2,
		Backoff:   time.Millisecond,
	}
}

func TestRunStoresAndPublishes(t *testing.T) {
	mem := repo.NewMemory()
	mem.PutAccount(repo.Account{ID: "user-1"})
	pub := &recordingPublisher{}
	dlq := &recordingWriter{}
	n := events.NotificationRequested{ID: "n-1", AccountID: "user-1", Title: "Depósito confirmado!", Message: "ok", Type: events.NotificationSuccess, Ts: time.Now().UTC()}
	p := newProcessor(mem, pub, dlq, message(t, n), message(t, n))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := p.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run: %v", err)
	}

	got := mem.Notifications("user-1")
	if len(got) != 1 || got[0].Title != "Depósito confirmado!" {
		t.Fatalf("redelivery must be idempotent by id: %+v", got)
	}
	if len(pub.channels) != 2 || pub.channels[0] != "user-1" {
		t.Fatalf("publisher calls: %v", pub.channels)
	}
	if len(dlq.msgs) != 0 {
		t.Fatalf("nothing should reach the DLQ, got %d", len(dlq.msgs))
	}
}

func TestHandleSendsInvalidMessagesToDLQ(t *testing.T) {
	dlq := &recordingWriter{}
	p := newProcessor(repo.NewMemory(), &recordingPublisher{}, dlq)
	ctx := context.Background()

	p.Handle(ctx, kafka.Message{Topic: "user_notifications", Value: []byte("{")})
	p.Handle(ctx, message(t, events.NotificationRequested{Title: "sem conta"}))

	if len(dlq.msgs) != 2 {
		t.Fatalf("want 2 DLQ messages, got %d", len(dlq.msgs))
	}
	if string(dlq.msgs[0].Headers[0].Value) != "decode" || string(dlq.msgs[0].Value) != "{" {
		t.Fatalf("unexpected DLQ message: %+v", dlq.msgs[0])
	}
}

func TestHandleRetriesInsert(t *testing.T) {
	mem := repo.NewMemory()
	mem.PutAccount(repo.Account{ID: "user-1"})
	dlq := &recordingWriter{}
	ctx := context.Background()

	store := &flakyStore{Memory: mem, failures: 2}
	p := newProcessor(store, &recordingPublisher{}, dlq)
	p.Handle(ctx, message(t, events.NotificationRequested{ID: "n-1", AccountID: "user-1", Title: "a"}))
	if len(mem.Notifications("user-1")) != 1 || len(dlq.msgs) != 0 {
		t.Fatalf("insert should succeed on the third attempt")
	}

	store.failures = 10
	p.Handle(ctx, message(t, events.NotificationRequested{ID: "n-2", AccountID: "user-1", Title: "b"}))
	if len(dlq.msgs) != 1 || string(dlq.msgs[0].Headers[0].Value) != "db" {
		t.Fatalf("exhausted retries must go to the DLQ: %+v", dlq.msgs)
	}
}

func TestHandlePublishFailureKeepsRow(t *testing.T) {
	mem := repo.NewMemory()
	mem.PutAccount(repo.Account{ID: "user-1"})
	dlq := &recordingWriter{}
	p := newProcessor(mem, &recordingPublisher{err: errors.New("redis down")}, dlq)

	p.Handle(context.Background(), message(t, events.NotificationRequested{ID: "n-1", AccountID: "user-1"}))
	if len(mem.Notifications("user-1")) != 1 || len(dlq.msgs) != 0 {
		t.Fatalf("publish failure must not drop or dead-letter the notification")
	}
}
