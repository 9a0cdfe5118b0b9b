package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

// WalletCache guarda o snapshot da conta para GET /v1/wallet
// Toda transação commitada invalida a chave da conta
type WalletCache struct {
	R   *redis.Client
	TTL time.Duration
	log *zap.Logger
}

func NewWalletCache(r *redis.Client, ttl time.Duration, log *zap.Logger) *WalletCache {
	return &WalletCache{R: r, TTL: ttl, log: log}
}

func keyWallet(accountID string) string { return "wallet:account:" + accountID }

func (c *WalletCache) Get(ctx context.Context, accountID string) (repo.Account, bool, error) {
	b, err := c.R.Get(ctx, keyWallet(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return repo.Account{}, false, nil
	}
	if err != nil {
		return repo.Account{}, false, err
	}
	var acc repo.Account
	if err := json.Unmarshal(b, &acc); err != nil {
		return repo.Account{}, false, err
	}
	return acc, true, nil
}

func (c *WalletCache) Set(ctx context.Context, acc repo.Account) error {
	b, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, keyWallet(acc.ID), b, c.TTL).Err()
}

func (c *WalletCache) Invalidate(ctx context.Context, accountIDs ...string) error {
	if len(accountIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, keyWallet(id))
	}
	return c.R.Del(ctx, keys...).Err()
}

// TransactionsPosted implementa ledger.Observer
func (c *WalletCache) TransactionsPosted(ctx context.Context, txs ...repo.Transaction) {
	ids := make([]string, 0, len(txs))
	for _, t := range txs {
		ids = append(ids, t.AccountID)
	}
	c.AccountsChanged(ctx, ids...)
}

// AccountsChanged implementa ledger.AccountObserver (ex.: total_withdrawn no saque concluído)
func (c *WalletCache) AccountsChanged(ctx context.Context, ids ...string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 500*time.Millisecond)
	defer cancel()
	if err := c.Invalidate(ctx, ids...); err != nil {
		c.log.Warn("wallet cache invalidate failed", zap.Strings("account_ids", ids), zap.Error(err))
	}
}
