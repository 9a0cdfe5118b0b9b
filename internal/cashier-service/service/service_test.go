package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/cashier-service/processor"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/ledger"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/settlement"
)

type fakeProcessor struct {
	mu          sync.Mutex
	failCreate  bool
	status      string
	payments    []processor.PaymentRequest
	withdrawals []processor.WithdrawalRequest
}

func (f *fakeProcessor) CreatePayment(_ context.Context, in processor.PaymentRequest) (processor.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return processor.Payment{}, &processor.Error{Op: "create_payment", StatusCode: 503, Message: "down"}
	}
	f.payments = append(f.payments, in)
	p := processor.Payment{TransactionID: "s6x-" + in.Metadata["deposit_id"], Status: processor.PaymentPending}
	p.Pix.CopyPaste = "000201"
	p.Pix.QRCodeBase64 = "iVBOR"
	return p, nil
}

func (f *fakeProcessor) GetPayment(_ context.Context, id string) (processor.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return processor.Payment{TransactionID: id, Status: f.status}, nil
}

func (f *fakeProcessor) CreateWithdrawal(_ context.Context, in processor.WithdrawalRequest) (processor.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return processor.Withdrawal{}, &processor.Error{Op: "create_withdrawal", Message: "down"}
	}
	f.withdrawals = append(f.withdrawals, in)
	return processor.Withdrawal{TransactionID: "s6x-w-" + in.Metadata["withdrawal_id"], Status: "pending"}, nil
}

func (f *fakeProcessor) GetBalance(context.Context) (processor.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return processor.Balance{}, &processor.Error{Op: "get_balance", StatusCode: 401, Message: "bad credentials"}
	}
	return processor.Balance{Available: dec("1000"), Pending: dec("15")}, nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var limits = Limits{
	DepositMin: dec("8"), DepositMax: dec("899"),
	WithdrawMin: dec("10"), WithdrawMax: dec("900"),
	FeeFixed: dec("1"), FeeRate: dec("0.02"),
}

func setup(t *testing.T, balance string) (*Service, *repo.Memory, *fakeProcessor) {
	t.Helper()
	store := repo.NewMemory()
	store.PutAccount(repo.Account{ID: "user-1", Balance: dec(balance)})
	log := zap.NewNop()
	st := settlement.NewService(store, ledger.NewMutator(store, log, nil), nil, log)
	p := &fakeProcessor{status: processor.PaymentPending}
	return New(store, st, p, nil, limits, nil, log), store, p
}

func balance(t *testing.T, store *repo.Memory) decimal.Decimal {
	t.Helper()
	acc, err := store.GetAccount(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acc.Balance
}

func TestWithdrawalFee(t *testing.T) {
	cases := map[string]string{"10": "1.2", "50": "2", "123.45": "3.47", "900": "19"}
	for amount, want := range cases {
		if got := WithdrawalFee(dec(amount), dec("1"), dec("0.02")); !got.Equal(dec(want)) {
			t.Errorf("fee(%s) = %s, want %s", amount, got, want)
		}
	}
}

func TestCreateDepositBands(t *testing.T) {
	svc, _, _ := setup(t, "0")
	ctx := context.Background()
	for _, amount := range []string{"7.99", "899.01", "0", "-10"} {
		_, err := svc.CreateDeposit(ctx, "user-1", dec(amount), Payer{})
		var rerr *AmountRangeError
		if !errors.As(err, &rerr) || !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Fatalf("amount %s: want AmountRangeError, got %v", amount, err)
		}
	}
}

func TestCreateDepositAttachesProcessorData(t *testing.T) {
	svc, store, p := setup(t, "0")
	ctx := context.Background()

	dep, err := svc.CreateDeposit(ctx, "user-1", dec("50"), Payer{Email: "a@b.com"})
	if err != nil {
		t.Fatalf("create deposit: %v", err)
	}
	if dep.ExternalID != "s6x-"+dep.ID || dep.PixCode != "000201" || dep.QRCode != "iVBOR" {
		t.Fatalf("unexpected deposit: %+v", dep)
	}
	if p.payments[0].Customer.Name != "Cliente" || p.payments[0].Amount != "50.00" {
		t.Fatalf("unexpected processor request: %+v", p.payments[0])
	}
	stored, _ := store.GetDeposit(ctx, dep.ID)
	if stored.Status != repo.StatusPending || stored.ExternalID != dep.ExternalID {
		t.Fatalf("stored deposit: %+v", stored)
	}
	if !balance(t, store).IsZero() {
		t.Fatalf("deposit creation must not credit")
	}
}

func TestCreateDepositProcessorFailureKeepsPending(t *testing.T) {
	svc, store, p := setup(t, "0")
	p.failCreate = true

	_, err := svc.CreateDeposit(context.Background(), "user-1", dec("50"), Payer{})
	if !errors.Is(err, processor.ErrExternalProcessor) {
		t.Fatalf("want ErrExternalProcessor, got %v", err)
	}
	// o órfão expira no reconciliador depois do TTL
	r := NewReconciler(svc, time.Minute, 0, 0, zap.NewNop())
	svc.now = func() time.Time { return time.Now().UTC().Add(time.Second) }
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	n, _ := store.ExpireOrphanDeposits(context.Background(), time.Now().Add(time.Hour))
	if n != 0 {
		t.Fatalf("orphan should already be expired, %d left", n)
	}
}

func TestCreateWithdrawalDebitsUpFront(t *testing.T) {
	svc, store, p := setup(t, "100")
	ctx := context.Background()

	w, err := svc.CreateWithdrawal(ctx, "user-1", dec("50"), "a@b.com", "email")
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	if !w.Fee.Equal(dec("2")) || !w.NetAmount.Equal(dec("48")) || w.Status != repo.StatusPending {
		t.Fatalf("unexpected withdrawal: %+v", w)
	}
	if !balance(t, store).Equal(dec("50")) {
		t.Fatalf("want 50 after pre-debit, got %s", balance(t, store))
	}
	if got := p.withdrawals[0]; got.Amount != "48.00" || got.PixKeyType != "EMAIL" {
		t.Fatalf("processor got %+v", got)
	}
	stored, _ := store.GetWithdrawal(ctx, w.ID)
	if stored.ExternalID != "s6x-w-"+w.ID {
		t.Fatalf("external id not attached: %+v", stored)
	}
}

func TestCreateWithdrawalErrors(t *testing.T) {
	svc, store, p := setup(t, "30")
	ctx := context.Background()

	if _, err := svc.CreateWithdrawal(ctx, "user-1", dec("9.99"), "k", "cpf"); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("want out of range, got %v", err)
	}
	if _, err := svc.CreateWithdrawal(ctx, "user-1", dec("50"), "k", "cpf"); !errors.Is(err, repo.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds, got %v", err)
	}
	if !balance(t, store).Equal(dec("30")) {
		t.Fatalf("balance changed: %s", balance(t, store))
	}

	// processador fora: saque fica pendente e o débito permanece
	p.failCreate = true
	w, err := svc.CreateWithdrawal(ctx, "user-1", dec("20"), "k", "cpf")
	if err != nil {
		t.Fatalf("processor failure must not fail the request: %v", err)
	}
	if w.Status != repo.StatusPending || w.ExternalID != "" {
		t.Fatalf("unexpected withdrawal: %+v", w)
	}
	if !balance(t, store).Equal(dec("10")) {
		t.Fatalf("want 10, got %s", balance(t, store))
	}
}

func TestCheckDepositConfirmsWhenPaid(t *testing.T) {
	svc, store, p := setup(t, "0")
	ctx := context.Background()
	dep, err := svc.CreateDeposit(ctx, "user-1", dec("25"), Payer{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.CheckDeposit(ctx, "user-1", dep.ID)
	if err != nil || got.Status != repo.StatusPending {
		t.Fatalf("still pending: %+v %v", got, err)
	}

	p.status = processor.PaymentPaid
	got, err = svc.CheckDeposit(ctx, "user-1", dep.ID)
	if err != nil || got.Status != repo.StatusCompleted {
		t.Fatalf("want completed: %+v %v", got, err)
	}
	if !balance(t, store).Equal(dec("25")) {
		t.Fatalf("want 25, got %s", balance(t, store))
	}

	// nova consulta não credita de novo
	if _, err := svc.CheckDeposit(ctx, "user-1", dep.ID); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if !balance(t, store).Equal(dec("25")) {
		t.Fatalf("credited twice: %s", balance(t, store))
	}
}

func TestCheckDepositExpiredAndCancelled(t *testing.T) {
	for status, want := range map[string]repo.Status{
		processor.PaymentExpired:   repo.StatusFailed,
		processor.PaymentCancelled: repo.StatusCancelled,
	} {
		t.Run(status, func(t *testing.T) {
			svc, store, p := setup(t, "0")
			ctx := context.Background()
			dep, err := svc.CreateDeposit(ctx, "user-1", dec("25"), Payer{})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			p.status = status
			got, err := svc.CheckDeposit(ctx, "user-1", dep.ID)
			if err != nil || got.Status != want {
				t.Fatalf("got %+v %v", got, err)
			}
			if !balance(t, store).IsZero() {
				t.Fatalf("no credit expected")
			}
		})
	}
}

func TestCheckDepositOwnership(t *testing.T) {
	svc, store, _ := setup(t, "0")
	store.PutAccount(repo.Account{ID: "user-2"})
	ctx := context.Background()
	dep, err := svc.CreateDeposit(ctx, "user-1", dec("25"), Payer{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CheckDeposit(ctx, "user-2", dep.ID); !errors.Is(err, repo.ErrDepositNotFound) {
		t.Fatalf("want ErrDepositNotFound, got %v", err)
	}
	if _, err := svc.CheckDeposit(ctx, "user-1", "not-a-uuid"); !errors.Is(err, repo.ErrDepositNotFound) {
		t.Fatalf("want ErrDepositNotFound, got %v", err)
	}
}

func TestReconcilerConfirmsStalePaidDeposits(t *testing.T) {
	svc, store, p := setup(t, "0")
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.CreateDeposit(ctx, "user-1", dec("10"), Payer{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	p.status = processor.PaymentPaid

	r := NewReconciler(svc, time.Minute, 2*time.Minute, time.Hour, zap.NewNop())
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !balance(t, store).IsZero() {
		t.Fatalf("fresh deposits must wait for the minimum age")
	}

	svc.now = func() time.Time { return time.Now().UTC().Add(3 * time.Minute) }
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !balance(t, store).Equal(dec("30")) {
		t.Fatalf("want 30, got %s", balance(t, store))
	}
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !balance(t, store).Equal(dec("30")) {
		t.Fatalf("second pass credited again: %s", balance(t, store))
	}
}

type mapCache struct {
	m    map[string]repo.Account
	hits int
}

func (c *mapCache) Get(_ context.Context, id string) (repo.Account, bool, error) {
	a, ok := c.m[id]
	if ok {
		c.hits++
	}
	return a, ok, nil
}

func (c *mapCache) Set(_ context.Context, a repo.Account) error {
	c.m[a.ID] = a
	return nil
}

func TestWalletUsesCache(t *testing.T) {
	_, store, p := setup(t, "42")
	c := &mapCache{m: map[string]repo.Account{}}
	log := zap.NewNop()
	st := settlement.NewService(store, ledger.NewMutator(store, log, nil), nil, log)
	svc := New(store, st, p, c, limits, nil, log)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		acc, err := svc.Wallet(ctx, "user-1")
		if err != nil || !acc.Balance.Equal(dec("42")) {
			t.Fatalf("wallet: %+v %v", acc, err)
		}
	}
	if c.hits != 1 {
		t.Fatalf("want 1 cache hit, got %d", c.hits)
	}
}

func TestFirstAccessOpensEmptyAccount(t *testing.T) {
	svc, store, _ := setup(t, "0")
	ctx := context.Background()

	acc, err := svc.Wallet(ctx, "newcomer")
	if err != nil || acc.ID != "newcomer" || !acc.Balance.IsZero() {
		t.Fatalf("wallet: %+v %v", acc, err)
	}

	if _, err := svc.CreateWithdrawal(ctx, "late-joiner", dec("20"), "k", "cpf"); !errors.Is(err, repo.ErrInsufficientFunds) {
		t.Fatalf("withdrawal for new account: want ErrInsufficientFunds, got %v", err)
	}

	dep, err := svc.CreateDeposit(ctx, "first-deposit", dec("50"), Payer{})
	if err != nil || dep.AccountID != "first-deposit" {
		t.Fatalf("deposit: %+v %v", dep, err)
	}
	if _, err := store.GetAccount(ctx, "first-deposit"); err != nil {
		t.Fatalf("account must exist after the first deposit: %v", err)
	}
}

func TestCheckProcessor(t *testing.T) {
	svc, _, p := setup(t, "0")
	ctx := context.Background()
	if err := svc.CheckProcessor(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}
	p.failCreate = true
	if err := svc.CheckProcessor(ctx); !errors.Is(err, processor.ErrExternalProcessor) {
		t.Fatalf("want ErrExternalProcessor, got %v", err)
	}
}
