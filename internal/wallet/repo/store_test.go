package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

// storeFactory devolve um Store pronto e uma conta nova com o saldo informado
type storeFactory func(t *testing.T, balance string) (repo.Store, string)

func memoryFactory(t *testing.T, balance string) (repo.Store, string) {
	t.Helper()
	m := repo.NewMemory()
	id := "acc-" + uuid.NewString()
	m.PutAccount(repo.Account{ID: id, Balance: decimal.RequireFromString(balance)})
	return m, id
}

// postgresFactory usa TEST_POSTGRES_DSN; cada teste cria a própria conta, sem limpeza
func postgresFactory(t *testing.T) storeFactory {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	if err := repo.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return func(t *testing.T, balance string) (repo.Store, string) {
		t.Helper()
		id := "acc-" + uuid.NewString()
		if _, err := db.ExecContext(ctx, `INSERT INTO accounts(id, balance) VALUES($1, $2)`, id, balance); err != nil {
			t.Fatalf("seed account: %v", err)
		}
		return repo.NewPostgres(db), id
	}
}

func TestMemoryStore(t *testing.T) { runStoreSuite(t, memoryFactory) }

func TestPostgresStore(t *testing.T) { runStoreSuite(t, postgresFactory(t)) }

func runStoreSuite(t *testing.T, newStore storeFactory) {
	t.Run("unknown account", func(t *testing.T) {
		s, _ := newStore(t, "0")
		if _, err := s.GetAccount(context.Background(), "missing-"+uuid.NewString()); !errors.Is(err, repo.ErrAccountNotFound) {
			t.Fatalf("want ErrAccountNotFound, got %v", err)
		}
	})
	t.Run("commit and duplicate ref", func(t *testing.T) { testCommitAndDuplicate(t, newStore) })
	t.Run("rollback on error", func(t *testing.T) { testRollback(t, newStore) })
	t.Run("balance check", func(t *testing.T) { testBalanceCheck(t, newStore) })
	t.Run("deposit lifecycle", func(t *testing.T) { testDepositLifecycle(t, newStore) })
	t.Run("stale status", func(t *testing.T) { testStaleStatus(t, newStore) })
}

func posting(accountID, ref, before, amount string) repo.Transaction {
	b := decimal.RequireFromString(before)
	a := decimal.RequireFromString(amount)
	return repo.Transaction{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		Type:          repo.TxWin,
		Amount:        a,
		BalanceBefore: b,
		BalanceAfter:  b.Add(a),
		Source:        repo.SourceProvider,
		ExternalRef:   ref,
		Status:        repo.StatusCompleted,
		Metadata:      map[string]any{"round_id": "r-1"},
		CreatedAt:     time.Now().UTC(),
	}
}

func apply(ctx context.Context, s repo.Store, tr repo.Transaction) error {
	return s.WithinTx(ctx, func(tx repo.Tx) error {
		if _, err := tx.LockAccount(ctx, tr.AccountID); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		return tx.UpdateAccountBalance(ctx, tr.AccountID, tr.BalanceAfter, repo.Counters{Won: tr.Amount})
	})
}

func testCommitAndDuplicate(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	s, acc := newStore(t, "100")
	ref := "tx-" + uuid.NewString()

	first := posting(acc, ref, "100", "20")
	if err := apply(ctx, s, first); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := s.FindTransactionByRef(ctx, repo.SourceProvider, ref)
	if err != nil || got.ID != first.ID || !got.BalanceAfter.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("find by ref: %+v %v", got, err)
	}
	if got.Metadata["round_id"] != "r-1" {
		t.Fatalf("metadata not kept: %v", got.Metadata)
	}

	if err := apply(ctx, s, posting(acc, ref, "120", "20")); !errors.Is(err, repo.ErrDuplicateTransaction) {
		t.Fatalf("want ErrDuplicateTransaction, got %v", err)
	}
	a, _ := s.GetAccount(ctx, acc)
	if !a.Balance.Equal(decimal.NewFromInt(120)) || !a.TotalWon.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("duplicate must not move the balance: %+v", a)
	}

	// mesma referência vinda de outra origem não conflita
	other := posting(acc, ref, "120", "5")
	other.Source = repo.SourcePayment
	if err := apply(ctx, s, other); err != nil {
		t.Fatalf("other source: %v", err)
	}
}

func testRollback(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	s, acc := newStore(t, "50")
	boom := errors.New("boom")
	tr := posting(acc, "tx-"+uuid.NewString(), "50", "10")

	err := s.WithinTx(ctx, func(tx repo.Tx) error {
		if err := tx.InsertTransaction(ctx, tr); err != nil {
			return err
		}
		if err := tx.UpdateAccountBalance(ctx, acc, tr.BalanceAfter, repo.Counters{}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	a, _ := s.GetAccount(ctx, acc)
	if !a.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("balance after rollback: %s", a.Balance)
	}
	if _, err := s.FindTransactionByRef(ctx, tr.Source, tr.ExternalRef); !errors.Is(err, repo.ErrTransactionNotFound) {
		t.Fatalf("transaction survived rollback: %v", err)
	}
}

func testBalanceCheck(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	s, acc := newStore(t, "10")
	tr := posting(acc, "tx-"+uuid.NewString(), "10", "5")
	tr.BalanceAfter = decimal.NewFromInt(99)
	if err := apply(ctx, s, tr); err == nil {
		t.Fatalf("inconsistent balance_after must be rejected")
	}

	err := s.WithinTx(ctx, func(tx repo.Tx) error {
		return tx.UpdateAccountBalance(ctx, acc, decimal.NewFromInt(-1), repo.Counters{})
	})
	if err == nil {
		t.Fatalf("negative balance must be rejected")
	}
}

func testDepositLifecycle(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	s, acc := newStore(t, "0")
	old := time.Now().UTC().Add(-2 * time.Hour)

	withExt := repo.Deposit{ID: uuid.NewString(), AccountID: acc, Amount: decimal.NewFromInt(50), Status: repo.StatusPending, CreatedAt: old}
	orphan := repo.Deposit{ID: uuid.NewString(), AccountID: acc, Amount: decimal.NewFromInt(30), Status: repo.StatusPending, CreatedAt: old}
	for _, d := range []repo.Deposit{withExt, orphan} {
		if err := s.InsertDeposit(ctx, d); err != nil {
			t.Fatalf("insert deposit: %v", err)
		}
	}
	ext := "ext-" + uuid.NewString()
	if err := s.AttachDepositProcessor(ctx, withExt.ID, repo.DepositProcessorData{ExternalID: ext, PixCode: "000201"}); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if _, err := s.ExpireOrphanDeposits(ctx, time.Now().UTC().Add(-time.Hour)); err != nil {
		t.Fatalf("expire orphans: %v", err)
	}
	if d, _ := s.GetDeposit(ctx, orphan.ID); d.Status != repo.StatusFailed {
		t.Fatalf("orphan status: %s", d.Status)
	}

	stale, err := s.ListStalePendingDeposits(ctx, time.Now().UTC().Add(-time.Minute), 100)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	found := false
	for _, d := range stale {
		found = found || d.ID == withExt.ID
		if d.ID == orphan.ID {
			t.Fatalf("failed orphan listed as stale")
		}
	}
	if !found {
		t.Fatalf("deposit with external id not listed as stale")
	}

	now := time.Now().UTC()
	err = s.WithinTx(ctx, func(tx repo.Tx) error {
		d, err := tx.LockDepositByExternalID(ctx, ext)
		if err != nil {
			return err
		}
		return tx.UpdateDepositStatus(ctx, d.ID, repo.StatusCompleted, now)
	})
	if err != nil {
		t.Fatalf("complete deposit: %v", err)
	}
	d, err := s.GetDeposit(ctx, withExt.ID)
	if err != nil || d.Status != repo.StatusCompleted || d.ConfirmedAt == nil || d.PixCode != "000201" {
		t.Fatalf("completed deposit: %+v %v", d, err)
	}

	err = s.WithinTx(ctx, func(tx repo.Tx) error {
		_, err := tx.LockDepositByExternalID(ctx, "ext-missing")
		return err
	})
	if !errors.Is(err, repo.ErrDepositNotFound) {
		t.Fatalf("want ErrDepositNotFound, got %v", err)
	}
}

func testStaleStatus(t *testing.T, newStore storeFactory) {
	ctx := context.Background()
	s, acc := newStore(t, "100")
	tr := posting(acc, "tx-"+uuid.NewString(), "100", "-40")
	tr.Type = repo.TxWithdrawal
	tr.Source = repo.SourceCashier
	tr.Status = repo.StatusPending
	if err := apply(ctx, s, tr); err != nil {
		t.Fatalf("apply: %v", err)
	}

	setStatus := func(from, to repo.Status) error {
		return s.WithinTx(ctx, func(tx repo.Tx) error { return tx.SetTransactionStatus(ctx, tr.ID, from, to) })
	}
	if err := setStatus(repo.StatusPending, repo.StatusCompleted); err != nil {
		t.Fatalf("pending -> completed: %v", err)
	}
	if err := setStatus(repo.StatusPending, repo.StatusFailed); !errors.Is(err, repo.ErrStaleStatus) {
		t.Fatalf("want ErrStaleStatus, got %v", err)
	}
}
