// Package service defines the contracts between the terminal integration
// layer and its collaborators.
package service

import (
	"context"

	"github.com/Veraticus/tillpoint/internal/model"
)

// TerminalAPI is the subset of the transport client the transaction
// monitor drives.
type TerminalAPI interface {
	Sale(ctx context.Context, req model.PaymentRequest) (*model.TransactionResponse, error)
	Refund(ctx context.Context, req model.PaymentRequest) (*model.TransactionResponse, error)
	Cancel(ctx context.Context, transactionID string) (*model.TransactionResponse, error)
	TransactionStatus(ctx context.Context, transactionID string) (*model.TransactionResponse, error)
}

// SecretStore seals terminal API keys. Implementations without a platform
// key fall back to a tagged plaintext token instead of failing.
type SecretStore interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
	Available() bool
}

// TerminalStore persists terminal definitions.
type TerminalStore interface {
	SaveTerminal(ctx context.Context, cfg model.TerminalConfig) (model.TerminalConfig, error)
	GetTerminal(ctx context.Context, id string) (model.TerminalConfig, bool, error)
	ListTerminals(ctx context.Context) ([]model.TerminalConfig, error)
	DeleteTerminal(ctx context.Context, id string) error
	APIKey(ctx context.Context, id string) (string, error)
}
