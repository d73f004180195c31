package service

import (
	"errors"
	"fmt"
)

// Gateway-verification failures. All are terminal: they are detected before
// any transaction begins, so no state is mutated and retrying without fixing
// the underlying condition would see the same result.
var (
	ErrUnknownProvider     = errors.New("unknown payment provider")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrAmountMismatch      = errors.New("payment amount mismatch")
	ErrReferenceMismatch   = errors.New("payment reference mismatch")
)

type AmountMismatchError struct {
	ExpectedCents int64
	PaidCents     int64
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("paid amount %d does not match expected charge %d", e.PaidCents, e.ExpectedCents)
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }

type ReferenceMismatchError struct {
	Expected string
	Echoed   string
}

func (e *ReferenceMismatchError) Error() string {
	return fmt.Sprintf("provider echoed reference %q, expected %q", e.Echoed, e.Expected)
}

func (e *ReferenceMismatchError) Unwrap() error { return ErrReferenceMismatch }
