package realtime

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StartRedisSubscriber escuta os canais <prefix><account_id> publicados pelo notification-worker
// e repassa cada mensagem ao Hub
func StartRedisSubscriber(ctx context.Context, r *redis.Client, prefix string, hub *Hub, log *zap.Logger) {
	sub := r.PSubscribe(ctx, prefix+"*")
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				accountID := strings.TrimPrefix(msg.Channel, prefix)
				if accountID == "" {
					log.Warn("notification on channel without account", zap.String("channel", msg.Channel))
					continue
				}
				hub.Deliver(accountID, []byte(msg.Payload))
			}
		}
	}()
}
