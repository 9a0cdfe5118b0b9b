package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

// GameLookup é a consulta de catálogo por código do provedor
type GameLookup interface {
	FindGameByCode(ctx context.Context, code string) (repo.Game, error)
}

// GameResolver resolve game_code -> games.id com cache Redis na frente do banco
// Códigos desconhecidos também ficam em cache (valor vazio) para não martelar o banco
type GameResolver struct {
	R      *redis.Client
	TTL    time.Duration
	lookup GameLookup
	log    *zap.Logger
}

func NewGameResolver(r *redis.Client, ttl time.Duration, lookup GameLookup, log *zap.Logger) *GameResolver {
	return &GameResolver{R: r, TTL: ttl, lookup: lookup, log: log}
}

func keyGame(code string) string { return "games:code:" + code }

// Resolve devolve nil quando o jogo não existe ou o código é vazio
func (g *GameResolver) Resolve(ctx context.Context, code string) (*string, error) {
	if code == "" {
		return nil, nil
	}
	if g.R != nil {
		v, err := g.R.Get(ctx, keyGame(code)).Result()
		switch {
		case err == nil:
			if v == "" {
				return nil, nil
			}
			return &v, nil
		case !errors.Is(err, redis.Nil):
			g.log.Warn("game cache get failed", zap.String("game_code", code), zap.Error(err))
		}
	}

	game, err := g.lookup.FindGameByCode(ctx, code)
	if err != nil && !errors.Is(err, repo.ErrGameNotFound) {
		return nil, err
	}
	if g.R != nil {
		if serr := g.R.Set(ctx, keyGame(code), game.ID, g.TTL).Err(); serr != nil {
			g.log.Warn("game cache set failed", zap.String("game_code", code), zap.Error(serr))
		}
	}
	if game.ID == "" {
		return nil, nil
	}
	id := game.ID
	return &id, nil
}
