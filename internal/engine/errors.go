package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/sacaslabs/sacas-daemon/internal/cooldown"
)

// Operation failure taxonomy. NotFound and NoActiveContract come from the
// registry and ledger packages respectively.
var (
	ErrInsufficientFunds = errors.New("insufficient entropy")
	ErrInvalidAllocation = errors.New("invalid point allocation")
	ErrNotLocked         = errors.New("target not locked")
	ErrSelfTarget        = errors.New("cannot target self")
)

// CooldownError reports a gated action with the remaining wait, so the
// transport layer can attach a Retry-After.
type CooldownError struct {
	Action    cooldown.Action
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s on cooldown for %s", e.Action, e.Remaining.Round(time.Second))
}

// AsCooldown unwraps a CooldownError from an operation error.
func AsCooldown(err error) (*CooldownError, bool) {
	var ce *CooldownError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
