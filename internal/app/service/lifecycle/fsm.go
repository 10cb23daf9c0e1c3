// Package lifecycle owns the legal status transitions of transactions and payments
// and the audited writes that apply them.
package lifecycle

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fatflowers/billing/pkg/types"
)

var (
	ErrIllegalTransactionTransition = errors.New("illegal transaction transition")
	ErrIllegalPaymentTransition     = errors.New("illegal payment transition")
)

var transactionTransitions = map[types.TransactionStatus][]types.TransactionStatus{
	types.TransactionStatusCreated: {
		types.TransactionStatusPending,
		types.TransactionStatusCancelled,
		types.TransactionStatusExpired,
		types.TransactionStatusFailed,
	},
	types.TransactionStatusPending: {
		types.TransactionStatusInProgress,
		types.TransactionStatusCancelled,
		types.TransactionStatusExpired,
		types.TransactionStatusFailed,
	},
	types.TransactionStatusInProgress: {
		types.TransactionStatusSuccess,
		types.TransactionStatusFailed,
		types.TransactionStatusCancelled,
		types.TransactionStatusExpired,
	},
}

var paymentTransitions = map[types.PaymentStatus][]types.PaymentStatus{
	types.PaymentStatusPending: {
		types.PaymentStatusPaid,
		types.PaymentStatusFailed,
		types.PaymentStatusExpired,
		types.PaymentStatusCancelled,
		types.PaymentStatusRejected,
	},
}

// TransitionTransaction validates from -> to. changed is false for a same-state
// request, which callers treat as an idempotent success.
func TransitionTransaction(from, to types.TransactionStatus) (changed bool, err error) {
	if from == to {
		return false, nil
	}
	if slices.Contains(transactionTransitions[from], to) {
		return true, nil
	}
	return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransactionTransition, from, to)
}

// TransitionPayment validates from -> to. A paid payment never moves, whatever the
// request, so paid wins every race against expiry or failure.
func TransitionPayment(from, to types.PaymentStatus) (changed bool, err error) {
	if from == types.PaymentStatusPaid {
		if to == types.PaymentStatusPaid {
			return false, nil
		}
		return false, fmt.Errorf("%w: paid -> %s", ErrIllegalPaymentTransition, to)
	}
	if from == to {
		return false, nil
	}
	if slices.Contains(paymentTransitions[from], to) {
		return true, nil
	}
	return false, fmt.Errorf("%w: %s -> %s", ErrIllegalPaymentTransition, from, to)
}
