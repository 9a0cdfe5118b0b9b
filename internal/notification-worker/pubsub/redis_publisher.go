package pubsub

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher entrega avisos em tempo real no canal do usuário
type RedisPublisher struct {
	r      *redis.Client
	prefix string
}

func NewRedisPublisher(r *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{r: r, prefix: prefix}
}

// Channel devolve o canal pub/sub da conta (ex.: notifications:user:<id>)
func (p *RedisPublisher) Channel(accountID string) string {
	return p.prefix + accountID
}

func (p *RedisPublisher) Publish(ctx context.Context, accountID string, payload []byte) error {
	return p.r.Publish(ctx, p.Channel(accountID), payload).Err()
}
