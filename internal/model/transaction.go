package model

import (
	"github.com/Veraticus/tillpoint/internal/common"
)

// TransactionState is a step in a card transaction's lifecycle.
type TransactionState string

// Transaction states. Completed, Failed and Cancelled are terminal.
const (
	StatePending      TransactionState = "pending"
	StateProcessing   TransactionState = "processing"
	StateAwaitingCard TransactionState = "awaiting_card"
	StateCompleted    TransactionState = "completed"
	StateFailed       TransactionState = "failed"
	StateCancelled    TransactionState = "cancelled"
)

// IsTerminal reports whether no further transitions can happen from s.
func (s TransactionState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// DefaultProgress is the advisory progress shown for a state when the
// terminal does not report one.
func (s TransactionState) DefaultProgress() int {
	switch s {
	case StatePending:
		return 10
	case StateProcessing:
		return 40
	case StateAwaitingCard:
		return 60
	case StateCompleted, StateFailed, StateCancelled:
		return 100
	default:
		return 0
	}
}

// TransactionKind is a sale or a refund.
type TransactionKind string

// Transaction kinds.
const (
	KindSale   TransactionKind = "sale"
	KindRefund TransactionKind = "refund"
)

// TransactionStatus is the monitor's view of the in-flight transaction.
type TransactionStatus struct {
	Error         *common.ClassifiedError `json:"error,omitempty"`
	TransactionID string                  `json:"transactionId"`
	State         TransactionState        `json:"state"`
	Kind          TransactionKind         `json:"kind"`
	Message       string                  `json:"message,omitempty"`
	Currency      string                  `json:"currency"`
	AuthCode      string                  `json:"authCode,omitempty"`
	Card          *CardDetails            `json:"cardDetails,omitempty"`
	Amount        int64                   `json:"amount"`
	Progress      int                     `json:"progress"`
}
