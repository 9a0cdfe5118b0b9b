package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Postgres implementa o ledger em banco
// Locks pessimistas (FOR UPDATE) serializam escritas por conta e por depósito/saque
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// querier é o subconjunto comum entre *sql.DB e *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const (
	accountCols     = `id, balance, bonus_balance, total_deposited, total_withdrawn, total_wagered, total_won, version, created_at, updated_at`
	transactionCols = `id, account_id, type, amount, balance_before, balance_after, source, external_ref, status, game_id, metadata, created_at`
	depositCols     = `id, account_id, amount, fee, status, external_id, pix_code, qr_code, expires_at, confirmed_at, created_at, updated_at`
	withdrawalCols  = `id, account_id, amount, fee, net_amount, pix_key, pix_key_type, status, external_id, debit_transaction_id, failure_reason, settled_at, created_at, updated_at`

	uniqueViolation = "23505"
	refConstraint   = "transactions_source_external_ref_key"
)

// WithinTx abre a transação, executa fn e faz commit
// Qualquer erro (inclusive deadline do contexto) desfaz tudo
func (p *Postgres) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&pgTx{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (Account, error) {
	return getAccount(ctx, p.db, id, false)
}

// EnsureAccount cria a conta com saldo zero se ainda não existir
func (p *Postgres) EnsureAccount(ctx context.Context, id string) (Account, error) {
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO accounts(id) VALUES($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
		return Account{}, fmt.Errorf("ensure account: %w", err)
	}
	return getAccount(ctx, p.db, id, false)
}

func (p *Postgres) FindTransactionByRef(ctx context.Context, source Source, ref string) (Transaction, error) {
	return findTransactionByRef(ctx, p.db, source, ref)
}

func (p *Postgres) ListTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE account_id=$1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) InsertDeposit(ctx context.Context, d Deposit) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO deposits(id, account_id, amount, fee, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$6)`,
		d.ID, d.AccountID, d.Amount, d.Fee, d.Status, d.CreatedAt)
	return err
}

func (p *Postgres) AttachDepositProcessor(ctx context.Context, depositID string, data DepositProcessorData) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE deposits
		SET external_id=$2, pix_code=$3, qr_code=$4, fee=$5, expires_at=$6, updated_at=NOW()
		WHERE id=$1`,
		depositID, data.ExternalID, data.PixCode, data.QRCode, data.Fee, nullTime(data.ExpiresAt))
	if err != nil {
		return err
	}
	return expectOne(res, ErrDepositNotFound)
}

func (p *Postgres) GetDeposit(ctx context.Context, id string) (Deposit, error) {
	return scanDepositRow(p.db.QueryRowContext(ctx, `SELECT `+depositCols+` FROM deposits WHERE id=$1`, id))
}

// ListStalePendingDeposits devolve depósitos pendentes já registrados no processador
func (p *Postgres) ListStalePendingDeposits(ctx context.Context, createdBefore time.Time, limit int) ([]Deposit, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+depositCols+` FROM deposits
		WHERE status='pending' AND external_id IS NOT NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ExpireOrphanDeposits falha depósitos que nunca chegaram ao processador
func (p *Postgres) ExpireOrphanDeposits(ctx context.Context, createdBefore time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE deposits SET status='failed', updated_at=NOW()
		WHERE status='pending' AND external_id IS NULL AND created_at < $1`, createdBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *Postgres) AttachWithdrawalExternalID(ctx context.Context, withdrawalID, externalID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE withdrawals SET external_id=$2, updated_at=NOW() WHERE id=$1`, withdrawalID, externalID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrWithdrawalNotFound)
}

func (p *Postgres) GetWithdrawal(ctx context.Context, id string) (Withdrawal, error) {
	return scanWithdrawalRow(p.db.QueryRowContext(ctx, `SELECT `+withdrawalCols+` FROM withdrawals WHERE id=$1`, id))
}

func (p *Postgres) FindGameByCode(ctx context.Context, code string) (Game, error) {
	var g Game
	err := p.db.QueryRowContext(ctx,
		`SELECT id, external_code, name FROM games WHERE external_code=$1`, code).Scan(&g.ID, &g.ExternalCode, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, ErrGameNotFound
	}
	return g, err
}

// InsertNotification é idempotente pelo id (o worker pode reprocessar a mensagem)
func (p *Postgres) InsertNotification(ctx context.Context, n Notification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications(id, account_id, title, message, type, read, created_at)
		VALUES($1,$2,$3,$4,$5,FALSE,$6)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, n.AccountID, n.Title, n.Message, n.Type, n.CreatedAt)
	return err
}

// pgTx implementa Tx sobre *sql.Tx
type pgTx struct{ q querier }

func (t *pgTx) LockAccount(ctx context.Context, id string) (Account, error) {
	return getAccount(ctx, t.q, id, true)
}

func (t *pgTx) FindTransactionByRef(ctx context.Context, source Source, ref string) (Transaction, error) {
	return findTransactionByRef(ctx, t.q, source, ref)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr Transaction) error {
	meta, err := json.Marshal(metadataOrEmpty(tr.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO transactions(`+transactionCols+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		tr.ID, tr.AccountID, tr.Type, tr.Amount, tr.BalanceBefore, tr.BalanceAfter,
		tr.Source, nullString(tr.ExternalRef), tr.Status, tr.GameID, string(meta), tr.CreatedAt)
	if isUniqueViolation(err, refConstraint) {
		return ErrDuplicateTransaction
	}
	return err
}

func (t *pgTx) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal, c Counters) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE accounts SET
			balance = $2,
			total_deposited = total_deposited + $3,
			total_withdrawn = total_withdrawn + $4,
			total_wagered = total_wagered + $5,
			total_won = total_won + $6,
			version = version + 1,
			updated_at = NOW()
		WHERE id=$1`,
		id, balance, c.Deposited, c.Withdrawn, c.Wagered, c.Won)
	if err != nil {
		return err
	}
	return expectOne(res, ErrAccountNotFound)
}

func (t *pgTx) AddCounters(ctx context.Context, id string, c Counters) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE accounts SET
			total_deposited = total_deposited + $2,
			total_withdrawn = total_withdrawn + $3,
			total_wagered = total_wagered + $4,
			total_won = total_won + $5,
			updated_at = NOW()
		WHERE id=$1`,
		id, c.Deposited, c.Withdrawn, c.Wagered, c.Won)
	if err != nil {
		return err
	}
	return expectOne(res, ErrAccountNotFound)
}

func (t *pgTx) SetTransactionStatus(ctx context.Context, id string, from, to Status) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE transactions SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`, id, from, to)
	if err != nil {
		return err
	}
	return expectOne(res, ErrStaleStatus)
}

func (t *pgTx) LockDepositByExternalID(ctx context.Context, externalID string) (Deposit, error) {
	return scanDepositRow(t.q.QueryRowContext(ctx,
		`SELECT `+depositCols+` FROM deposits WHERE external_id=$1 FOR UPDATE`, externalID))
}

func (t *pgTx) LockDeposit(ctx context.Context, id string) (Deposit, error) {
	return scanDepositRow(t.q.QueryRowContext(ctx,
		`SELECT `+depositCols+` FROM deposits WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateDepositStatus(ctx context.Context, id string, status Status, at time.Time) error {
	var confirmedAt *time.Time
	if status == StatusCompleted {
		confirmedAt = &at
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE deposits SET status=$2, confirmed_at=COALESCE($3::timestamptz, confirmed_at), updated_at=$4
		WHERE id=$1`, id, status, nullTime(confirmedAt), at)
	if err != nil {
		return err
	}
	return expectOne(res, ErrDepositNotFound)
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w Withdrawal) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO withdrawals(id, account_id, amount, fee, net_amount, pix_key, pix_key_type, status, debit_transaction_id, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		w.ID, w.AccountID, w.Amount, w.Fee, w.NetAmount, w.PixKey, w.PixKeyType, w.Status, w.DebitTransactionID, w.CreatedAt)
	return err
}

func (t *pgTx) LockWithdrawalByExternalID(ctx context.Context, externalID string) (Withdrawal, error) {
	return scanWithdrawalRow(t.q.QueryRowContext(ctx,
		`SELECT `+withdrawalCols+` FROM withdrawals WHERE external_id=$1 FOR UPDATE`, externalID))
}

func (t *pgTx) LockWithdrawal(ctx context.Context, id string) (Withdrawal, error) {
	return scanWithdrawalRow(t.q.QueryRowContext(ctx,
		`SELECT `+withdrawalCols+` FROM withdrawals WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateWithdrawalStatus(ctx context.Context, id string, status Status, reason string, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE withdrawals SET status=$2, failure_reason=NULLIF($3::text,''), settled_at=$4, updated_at=$4
		WHERE id=$1`, id, status, reason, at)
	if err != nil {
		return err
	}
	return expectOne(res, ErrWithdrawalNotFound)
}

func getAccount(ctx context.Context, q querier, id string, forUpdate bool) (Account, error) {
	query := `SELECT ` + accountCols + ` FROM accounts WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var a Account
	err := q.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Balance, &a.BonusBalance, &a.TotalDeposited, &a.TotalWithdrawn,
		&a.TotalWagered, &a.TotalWon, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

func findTransactionByRef(ctx context.Context, q querier, source Source, ref string) (Transaction, error) {
	t, err := scanTransaction(q.QueryRowContext(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE source=$1 AND external_ref=$2`, source, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return t, err
}

func scanTransaction(s scanner) (Transaction, error) {
	var (
		t      Transaction
		ref    sql.NullString
		gameID sql.NullString
		meta   []byte
	)
	if err := s.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.Source, &ref, &t.Status, &gameID, &meta, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	t.ExternalRef = ref.String
	if gameID.Valid {
		id := gameID.String
		t.GameID = &id
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return Transaction{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return t, nil
}

func scanDepositRow(row *sql.Row) (Deposit, error) {
	d, err := scanDeposit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Deposit{}, ErrDepositNotFound
	}
	return d, err
}

func scanDeposit(s scanner) (Deposit, error) {
	var (
		d                      Deposit
		extID, pixCode, qrCode sql.NullString
		expiresAt, confirmedAt sql.NullTime
	)
	if err := s.Scan(&d.ID, &d.AccountID, &d.Amount, &d.Fee, &d.Status, &extID, &pixCode, &qrCode,
		&expiresAt, &confirmedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Deposit{}, err
	}
	d.ExternalID = extID.String
	d.PixCode = pixCode.String
	d.QRCode = qrCode.String
	d.ExpiresAt = timePtr(expiresAt)
	d.ConfirmedAt = timePtr(confirmedAt)
	return d, nil
}

func scanWithdrawalRow(row *sql.Row) (Withdrawal, error) {
	var (
		w             Withdrawal
		extID, reason sql.NullString
		settledAt     sql.NullTime
	)
	err := row.Scan(&w.ID, &w.AccountID, &w.Amount, &w.Fee, &w.NetAmount, &w.PixKey, &w.PixKeyType,
		&w.Status, &extID, &w.DebitTransactionID, &reason, &settledAt, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Withdrawal{}, ErrWithdrawalNotFound
	}
	if err != nil {
		return Withdrawal{}, err
	}
	w.ExternalID = extID.String
	w.FailureReason = reason.String
	w.SettledAt = timePtr(settledAt)
	return w, nil
}

// isUniqueViolation reconhece o conflito da constraint informada (código 23505)
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && (constraint == "" || pqErr.Constraint == constraint)
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
