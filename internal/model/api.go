package model

import (
	"strings"
	"time"
)

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	TerminalID      string   `json:"terminalId"`
	Status          string   `json:"status"`
	FirmwareVersion string   `json:"firmwareVersion,omitempty"`
	DeviceType      string   `json:"deviceType,omitempty"`
	Platform        string   `json:"platform,omitempty"`
	DeviceName      string   `json:"deviceName,omitempty"`
	Capabilities    []string `json:"capabilities"`
	HasCardReader   bool     `json:"hasCardReader,omitempty"`
	NFCEnabled      bool     `json:"nfcEnabled,omitempty"`
}

// ConnectionStatus maps the terminal's self-reported status.
func (s StatusResponse) ConnectionStatus() ConnectionStatus {
	switch strings.ToLower(s.Status) {
	case "ready", "online", "idle":
		return StatusOnline
	case "busy", "processing":
		return StatusBusy
	default:
		return StatusOffline
	}
}

// PaymentRequest is the body of sale and refund calls. Amount is in minor
// units and Currency is an ISO 4217 code.
type PaymentRequest struct {
	Metadata              map[string]any `json:"metadata,omitempty"`
	Currency              string         `json:"currency"`
	Reference             string         `json:"reference"`
	Description           string         `json:"description,omitempty"`
	OriginalTransactionID string         `json:"originalTransactionId,omitempty"`
	Amount                int64          `json:"amount"`
}

// CardDetails is the masked card summary returned by the terminal.
type CardDetails struct {
	Brand       string `json:"brand,omitempty"`
	Last4       string `json:"last4,omitempty"`
	EntryMode   string `json:"entryMode,omitempty"`
	ExpiryMonth int    `json:"expiryMonth,omitempty"`
	ExpiryYear  int    `json:"expiryYear,omitempty"`
}

// PayloadError is an error embedded in a terminal response body.
type PayloadError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// TransactionResponse is returned by sale, refund, cancel and transaction
// status calls.
type TransactionResponse struct {
	Timestamp     time.Time     `json:"timestamp"`
	CardDetails   *CardDetails  `json:"cardDetails,omitempty"`
	Error         *PayloadError `json:"error,omitempty"`
	Progress      *int          `json:"progress,omitempty"`
	TransactionID string        `json:"transactionId"`
	Status        string        `json:"status"`
	Currency      string        `json:"currency"`
	AuthCode      string        `json:"authCode,omitempty"`
	Message       string        `json:"message,omitempty"`
	Amount        int64         `json:"amount"`
}

// State maps the terminal's status string onto the lifecycle.
func (r TransactionResponse) State() (TransactionState, bool) {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "pending", "created", "initiated":
		return StatePending, true
	case "processing", "authorizing", "in_progress":
		return StateProcessing, true
	case "awaiting_card", "waiting_for_card", "present_card":
		return StateAwaitingCard, true
	case "completed", "approved", "success", "succeeded":
		return StateCompleted, true
	case "failed", "declined", "error", "timeout", "expired":
		return StateFailed, true
	case "cancelled", "canceled", "voided":
		return StateCancelled, true
	default:
		return "", false
	}
}
