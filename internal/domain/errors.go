package domain

import (
	"errors"
	"fmt"

	"limit_go/pkg/quant"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable.
// The engine never retries; this only informs caller policy.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// OpError attaches the failing operation to a ledger error.
type OpError struct {
	Op  string // Operation that failed (e.g., "place", "cancel", "redeem", "fill")
	Err error  // Underlying error
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// IsRetriable reports whether the failure came from a collaborator
// (asset movement or swap execution) rather than from ledger state.
func (e *OpError) IsRetriable() bool {
	return errors.Is(e.Err, ErrTransferFailed) || errors.Is(e.Err, ErrExecutionFailed)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// NewOpError wraps err with the operation name. nil stays nil.
func NewOpError(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) && oe.Op == op {
		return err
	}
	return &OpError{Op: op, Err: err}
}

var (
	// ErrInvalidConfiguration is returned for a non-positive bucket width or an unusable pool key.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidAmount is returned when an order amount is not positive.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNothingToCancel is returned when the holder has no share at the position.
	ErrNothingToCancel = errors.New("nothing to cancel")

	// ErrInsufficientShare is returned when the holder's share is below the requested amount.
	ErrInsufficientShare = errors.New("insufficient share")

	// ErrNoClaimable is returned when redeeming a position with nothing claimable.
	ErrNoClaimable = errors.New("no claimable amount")

	// ErrPositionFilled is returned when placing into or cancelling from a
	// position that was fulfilled and still has outstanding shares.
	ErrPositionFilled = errors.New("position already filled")

	// ErrUnknownPool is returned when a pool has not been registered.
	ErrUnknownPool = errors.New("unknown pool")

	// ErrUnknownPosition is returned for a position identifier never created.
	ErrUnknownPosition = errors.New("unknown position")

	// ErrTransferFailed is returned when an asset movement is rejected. Retriable.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrExecutionFailed is returned when the pool rejects the swap. Retriable.
	ErrExecutionFailed = errors.New("execution failed")

	// ErrUnauthorized is returned when a pool-only entry point is called by someone else.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReentrant is returned when a mutating operation is invoked while another is in flight.
	ErrReentrant = errors.New("reentrant call")

	// ErrInternalConsistency is returned when a ledger invariant is violated.
	ErrInternalConsistency = errors.New("internal consistency fault")

	// ErrInsufficient is returned when a ledger cell is below the amount removed.
	ErrInsufficient = fmt.Errorf("%w: pending amount below cancelled share", ErrInternalConsistency)
)

// configError maps bucketing failures into the ledger taxonomy.
func configError(err error) error {
	switch {
	case errors.Is(err, quant.ErrInvalidWidth):
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	case errors.Is(err, quant.ErrTickOutOfRange):
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return err
}
