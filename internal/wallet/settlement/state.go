package settlement

import (
	"errors"
	"fmt"

	"github.com/Nasci15k/nasci15kbet-416b2457/internal/wallet/repo"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Máquinas de estado de depósito e saque
// Só pending sai do lugar; estados terminais absorvem reenvios
var (
	depositTransitions = map[repo.Status][]repo.Status{
		repo.StatusPending: {repo.StatusCompleted, repo.StatusFailed, repo.StatusCancelled},
	}
	withdrawalTransitions = map[repo.Status][]repo.Status{
		repo.StatusPending: {repo.StatusCompleted, repo.StatusFailed},
	}
)

func CanTransitionDeposit(from, to repo.Status) bool {
	return allowed(depositTransitions, from, to)
}

func CanTransitionWithdrawal(from, to repo.Status) bool {
	return allowed(withdrawalTransitions, from, to)
}

func allowed(table map[repo.Status][]repo.Status, from, to repo.Status) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionError(kind, id string, from, to repo.Status) error {
	return fmt.Errorf("%w: %s %s %s -> %s", ErrInvalidTransition, kind, id, from, to)
}
