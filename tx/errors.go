package tx

import "github.com/pkg/errors"

var (
	// ErrTxnFinished is returned for any operation on a committed or aborted transaction.
	ErrTxnFinished = errors.New("transaction already finished")

	// ErrInvariantViolation marks log contents that recovery cannot make consistent, such as a
	// compensation record pointing at a record that does not exist. It is never retried or ignored.
	ErrInvariantViolation = errors.New("log invariant violation")
)
