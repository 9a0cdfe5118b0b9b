package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

// DuplicateError carrega a transação já registrada para a referência repetida
// errors.Is(err, repo.ErrDuplicateTransaction) continua valendo
type DuplicateError struct {
	Source      repo.Source
	ExternalRef string
	Existing    repo.Transaction
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate transaction %s:%s", e.Source, e.ExternalRef)
}

func (e *DuplicateError) Unwrap() error { return repo.ErrDuplicateTransaction }

// Guard consulta a referência externa dentro da transação que segura o lock da conta
// A constraint única (source, external_ref) continua sendo a palavra final no insert
type Guard struct{}

// IsDuplicate devolve a transação registrada quando a referência já foi aplicada
func (Guard) IsDuplicate(ctx context.Context, tx repo.Tx, source repo.Source, ref string) (bool, repo.Transaction, error) {
	if ref == "" {
		return false, repo.Transaction{}, nil
	}
	existing, err := tx.FindTransactionByRef(ctx, source, ref)
	if errors.Is(err, repo.ErrTransactionNotFound) {
		return false, repo.Transaction{}, nil
	}
	if err != nil {
		return false, repo.Transaction{}, fmt.Errorf("lookup external ref: %w", err)
	}
	return true, existing, nil
}
