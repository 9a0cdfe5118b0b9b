package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory é um Store em memória para os testes dos serviços
// Cada WithinTx trabalha numa cópia do estado; o commit troca a cópia inteira
// Um único mutex serializa as transações, o que equivale a lockar todas as linhas
type Memory struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	accounts      map[string]Account
	transactions  []Transaction
	refs          map[string]int
	deposits      map[string]Deposit
	withdrawals   map[string]Withdrawal
	games         map[string]Game
	notifications map[string]Notification
}

func NewMemory() *Memory {
	return &Memory{state: &memState{
		accounts:      map[string]Account{},
		refs:          map[string]int{},
		deposits:      map[string]Deposit{},
		withdrawals:   map[string]Withdrawal{},
		games:         map[string]Game{},
		notifications: map[string]Notification{},
	}}
}

// PutAccount grava (ou sobrescreve) uma conta; usado para seed
func (m *Memory) PutAccount(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.UpdatedAt = a.CreatedAt
	m.state.accounts[a.ID] = a
}

// PutGame grava um jogo do catálogo; usado para seed
func (m *Memory) PutGame(g Game) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.games[g.ExternalCode] = g
}

// Notifications devolve as notificações gravadas de uma conta
func (m *Memory) Notifications(accountID string) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Notification
	for _, n := range m.state.notifications {
		if n.AccountID == accountID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(&memTx{s: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) EnsureAccount(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.accounts[id]
	if !ok {
		now := time.Now().UTC()
		a = Account{ID: id, Version: 1, CreatedAt: now, UpdatedAt: now}
		m.state.accounts[id] = a
	}
	return a, nil
}

func (m *Memory) FindTransactionByRef(_ context.Context, source Source, ref string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.findByRef(source, ref)
}

func (m *Memory) ListTransactions(_ context.Context, accountID string) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, t := range m.state.transactions {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) InsertDeposit(_ context.Context, d Deposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.accounts[d.AccountID]; !ok {
		return ErrAccountNotFound
	}
	d.UpdatedAt = d.CreatedAt
	m.state.deposits[d.ID] = d
	return nil
}

func (m *Memory) AttachDepositProcessor(_ context.Context, depositID string, data DepositProcessorData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.deposits[depositID]
	if !ok {
		return ErrDepositNotFound
	}
	d.ExternalID = data.ExternalID
	d.PixCode = data.PixCode
	d.QRCode = data.QRCode
	d.Fee = data.Fee
	d.ExpiresAt = data.ExpiresAt
	d.UpdatedAt = time.Now().UTC()
	m.state.deposits[depositID] = d
	return nil
}

func (m *Memory) GetDeposit(_ context.Context, id string) (Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.state.deposits[id]
	if !ok {
		return Deposit{}, ErrDepositNotFound
	}
	return d, nil
}

func (m *Memory) ListStalePendingDeposits(_ context.Context, createdBefore time.Time, limit int) ([]Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Deposit
	for _, d := range m.state.deposits {
		if d.Status == StatusPending && d.ExternalID != "" && d.CreatedAt.Before(createdBefore) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ExpireOrphanDeposits(_ context.Context, createdBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, d := range m.state.deposits {
		if d.Status == StatusPending && d.ExternalID == "" && d.CreatedAt.Before(createdBefore) {
			d.Status = StatusFailed
			d.UpdatedAt = time.Now().UTC()
			m.state.deposits[id] = d
			n++
		}
	}
	return n, nil
}

func (m *Memory) AttachWithdrawalExternalID(_ context.Context, withdrawalID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.state.withdrawals[withdrawalID]
	if !ok {
		return ErrWithdrawalNotFound
	}
	w.ExternalID = externalID
	w.UpdatedAt = time.Now().UTC()
	m.state.withdrawals[withdrawalID] = w
	return nil
}

func (m *Memory) GetWithdrawal(_ context.Context, id string) (Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.state.withdrawals[id]
	if !ok {
		return Withdrawal{}, ErrWithdrawalNotFound
	}
	return w, nil
}

func (m *Memory) FindGameByCode(_ context.Context, code string) (Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.state.games[code]
	if !ok {
		return Game{}, ErrGameNotFound
	}
	return g, nil
}

func (m *Memory) InsertNotification(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state.notifications[n.ID]; ok {
		return nil
	}
	m.state.notifications[n.ID] = n
	return nil
}

// memTx opera sobre a cópia de trabalho de uma transação
type memTx struct{ s *memState }

func (t *memTx) LockAccount(_ context.Context, id string) (Account, error) {
	a, ok := t.s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (t *memTx) FindTransactionByRef(_ context.Context, source Source, ref string) (Transaction, error) {
	return t.s.findByRef(source, ref)
}

func (t *memTx) InsertTransaction(_ context.Context, tr Transaction) error {
	if _, ok := t.s.accounts[tr.AccountID]; !ok {
		return ErrAccountNotFound
	}
	if !tr.BalanceBefore.Add(tr.Amount).Equal(tr.BalanceAfter) {
		return errBalanceCheck
	}
	if tr.ExternalRef != "" {
		key := refKey(tr.Source, tr.ExternalRef)
		if _, ok := t.s.refs[key]; ok {
			return ErrDuplicateTransaction
		}
		t.s.refs[key] = len(t.s.transactions)
	}
	t.s.transactions = append(t.s.transactions, tr)
	return nil
}

func (t *memTx) UpdateAccountBalance(_ context.Context, id string, balance decimal.Decimal, c Counters) error {
	a, ok := t.s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if balance.IsNegative() {
		return errNegativeBalance
	}
	a.Balance = balance
	a = addCounters(a, c)
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	t.s.accounts[id] = a
	return nil
}

func (t *memTx) AddCounters(_ context.Context, id string, c Counters) error {
	a, ok := t.s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a = addCounters(a, c)
	a.UpdatedAt = time.Now().UTC()
	t.s.accounts[id] = a
	return nil
}

func (t *memTx) SetTransactionStatus(_ context.Context, id string, from, to Status) error {
	for i := range t.s.transactions {
		if t.s.transactions[i].ID != id {
			continue
		}
		if t.s.transactions[i].Status != from {
			return ErrStaleStatus
		}
		t.s.transactions[i].Status = to
		return nil
	}
	return ErrStaleStatus
}

func (t *memTx) LockDepositByExternalID(_ context.Context, externalID string) (Deposit, error) {
	for _, d := range t.s.deposits {
		if externalID != "" && d.ExternalID == externalID {
			return d, nil
		}
	}
	return Deposit{}, ErrDepositNotFound
}

func (t *memTx) LockDeposit(_ context.Context, id string) (Deposit, error) {
	d, ok := t.s.deposits[id]
	if !ok {
		return Deposit{}, ErrDepositNotFound
	}
	return d, nil
}

func (t *memTx) UpdateDepositStatus(_ context.Context, id string, status Status, at time.Time) error {
	d, ok := t.s.deposits[id]
	if !ok {
		return ErrDepositNotFound
	}
	d.Status = status
	if status == StatusCompleted {
		d.ConfirmedAt = &at
	}
	d.UpdatedAt = at
	t.s.deposits[id] = d
	return nil
}

func (t *memTx) InsertWithdrawal(_ context.Context, w Withdrawal) error {
	if _, ok := t.s.accounts[w.AccountID]; !ok {
		return ErrAccountNotFound
	}
	w.UpdatedAt = w.CreatedAt
	t.s.withdrawals[w.ID] = w
	return nil
}

func (t *memTx) LockWithdrawalByExternalID(_ context.Context, externalID string) (Withdrawal, error) {
	for _, w := range t.s.withdrawals {
		if externalID != "" && w.ExternalID == externalID {
			return w, nil
		}
	}
	return Withdrawal{}, ErrWithdrawalNotFound
}

func (t *memTx) LockWithdrawal(_ context.Context, id string) (Withdrawal, error) {
	w, ok := t.s.withdrawals[id]
	if !ok {
		return Withdrawal{}, ErrWithdrawalNotFound
	}
	return w, nil
}

func (t *memTx) UpdateWithdrawalStatus(_ context.Context, id string, status Status, reason string, at time.Time) error {
	w, ok := t.s.withdrawals[id]
	if !ok {
		return ErrWithdrawalNotFound
	}
	w.Status = status
	w.FailureReason = reason
	w.SettledAt = &at
	w.UpdatedAt = at
	t.s.withdrawals[id] = w
	return nil
}

func (s *memState) clone() *memState {
	c := &memState{
		accounts:      make(map[string]Account, len(s.accounts)),
		transactions:  make([]Transaction, len(s.transactions)),
		refs:          make(map[string]int, len(s.refs)),
		deposits:      make(map[string]Deposit, len(s.deposits)),
		withdrawals:   make(map[string]Withdrawal, len(s.withdrawals)),
		games:         s.games,
		notifications: s.notifications,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	copy(c.transactions, s.transactions)
	for k, v := range s.refs {
		c.refs[k] = v
	}
	for k, v := range s.deposits {
		c.deposits[k] = v
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	return c
}

func (s *memState) findByRef(source Source, ref string) (Transaction, error) {
	i, ok := s.refs[refKey(source, ref)]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.transactions[i], nil
}

func refKey(source Source, ref string) string { return string(source) + "|" + ref }

func addCounters(a Account, c Counters) Account {
	a.TotalDeposited = a.TotalDeposited.Add(c.Deposited)
	a.TotalWithdrawn = a.TotalWithdrawn.Add(c.Withdrawn)
	a.TotalWagered = a.TotalWagered.Add(c.Wagered)
	a.TotalWon = a.TotalWon.Add(c.Won)
	return a
}
