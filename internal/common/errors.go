// Package common provides the error taxonomy, failure classification, retry
// and logging utilities shared across the terminal integration layer.
package common

import (
	"errors"
	"fmt"
	"time"
)

// Common application errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorCode identifies a classified failure.
type ErrorCode string

// Network errors.
const (
	CodeNetworkConnectionRefused ErrorCode = "NETWORK_CONNECTION_REFUSED"
	CodeNetworkTimeout           ErrorCode = "NETWORK_TIMEOUT"
	CodeNetworkUnreachable       ErrorCode = "NETWORK_UNREACHABLE"
	CodeNetworkDNSFailure        ErrorCode = "NETWORK_DNS_FAILURE"
	CodeSSLHandshakeFailed       ErrorCode = "SSL_HANDSHAKE_FAILED"
)

// Terminal errors.
const (
	CodeTerminalOffline          ErrorCode = "TERMINAL_OFFLINE"
	CodeTerminalBusy             ErrorCode = "TERMINAL_BUSY"
	CodeTerminalError            ErrorCode = "TERMINAL_ERROR"
	CodeTerminalFirmwareMismatch ErrorCode = "TERMINAL_FIRMWARE_MISMATCH"
	CodeTerminalNotFound         ErrorCode = "TERMINAL_NOT_FOUND"
	CodeTerminalAuthFailed       ErrorCode = "TERMINAL_AUTH_FAILED"
)

// Transaction errors.
const (
	CodeTransactionDeclined          ErrorCode = "TRANSACTION_DECLINED"
	CodeTransactionInsufficientFunds ErrorCode = "TRANSACTION_INSUFFICIENT_FUNDS"
	CodeTransactionExpiredCard       ErrorCode = "TRANSACTION_EXPIRED_CARD"
	CodeTransactionCancelled         ErrorCode = "TRANSACTION_CANCELLED"
	CodeTransactionTimeout           ErrorCode = "TRANSACTION_TIMEOUT"
	CodeTransactionInvalidAmount     ErrorCode = "TRANSACTION_INVALID_AMOUNT"
)

// Configuration errors.
const (
	CodeConfigInvalidIP             ErrorCode = "CONFIG_INVALID_IP"
	CodeConfigInvalidPort           ErrorCode = "CONFIG_INVALID_PORT"
	CodeConfigMissingAPIKey         ErrorCode = "CONFIG_MISSING_API_KEY"
	CodeConfigInvalidCredentials    ErrorCode = "CONFIG_INVALID_CREDENTIALS"
	CodeConfigTerminalNotConfigured ErrorCode = "CONFIG_TERMINAL_NOT_CONFIGURED"
)

// System errors.
const (
	CodeSystemStateInconsistent ErrorCode = "SYSTEM_STATE_INCONSISTENT"
	CodeSystemDataCorruption    ErrorCode = "SYSTEM_DATA_CORRUPTION"
	CodeSystemUnknownError      ErrorCode = "SYSTEM_UNKNOWN_ERROR"
)

// Category groups error codes by the layer that produced them.
type Category string

// Error categories.
const (
	CategoryNetwork       Category = "network"
	CategoryTerminal      Category = "terminal"
	CategoryTransaction   Category = "transaction"
	CategoryConfiguration Category = "configuration"
	CategorySystem        Category = "system"
)

// Severity ranks how disruptive a failure is to the operator.
type Severity string

// Severities, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type codeInfo struct {
	category  Category
	message   string
	retryable bool
}

var codeTable = map[ErrorCode]codeInfo{
	CodeNetworkConnectionRefused: {CategoryNetwork, "Terminal refused the connection", true},
	CodeNetworkTimeout:           {CategoryNetwork, "Terminal did not respond in time", true},
	CodeNetworkUnreachable:       {CategoryNetwork, "Terminal is unreachable on the network", true},
	CodeNetworkDNSFailure:        {CategoryNetwork, "Terminal host name could not be resolved", true},
	// TLS failures mean the endpoint or its certificate is wrong; retrying won't help.
	CodeSSLHandshakeFailed: {CategoryNetwork, "Secure connection to the terminal failed", false},

	CodeTerminalOffline:          {CategoryTerminal, "Terminal is offline", true},
	CodeTerminalBusy:             {CategoryTerminal, "Terminal is busy with another operation", true},
	CodeTerminalError:            {CategoryTerminal, "Terminal reported an internal error", true},
	CodeTerminalFirmwareMismatch: {CategoryTerminal, "Terminal firmware is not supported", false},
	CodeTerminalNotFound:         {CategoryTerminal, "Terminal endpoint was not found", false},
	CodeTerminalAuthFailed:       {CategoryTerminal, "Terminal rejected the API key", false},

	CodeTransactionDeclined:          {CategoryTransaction, "Card was declined", false},
	CodeTransactionInsufficientFunds: {CategoryTransaction, "Insufficient funds", false},
	CodeTransactionExpiredCard:       {CategoryTransaction, "Card has expired", false},
	CodeTransactionCancelled:         {CategoryTransaction, "Transaction was cancelled", false},
	CodeTransactionTimeout:           {CategoryTransaction, "Transaction timed out on the terminal", true},
	CodeTransactionInvalidAmount:     {CategoryTransaction, "Transaction amount is invalid", false},

	CodeConfigInvalidIP:             {CategoryConfiguration, "Terminal IP address is invalid", false},
	CodeConfigInvalidPort:           {CategoryConfiguration, "Terminal port is invalid", false},
	CodeConfigMissingAPIKey:         {CategoryConfiguration, "Terminal API key is missing", false},
	CodeConfigInvalidCredentials:    {CategoryConfiguration, "Terminal credentials are invalid", false},
	CodeConfigTerminalNotConfigured: {CategoryConfiguration, "Terminal is not configured", false},

	CodeSystemStateInconsistent: {CategorySystem, "Internal state is inconsistent", false},
	CodeSystemDataCorruption:    {CategorySystem, "Stored data is corrupted", false},
	CodeSystemUnknownError:      {CategorySystem, "An unexpected error occurred", false},
}

// Codes missing here fall back to medium.
var severityTable = map[ErrorCode]Severity{
	CodeNetworkConnectionRefused: SeverityHigh,
	CodeNetworkTimeout:           SeverityMedium,
	CodeNetworkUnreachable:       SeverityHigh,
	CodeNetworkDNSFailure:        SeverityHigh,
	CodeSSLHandshakeFailed:       SeverityCritical,

	CodeTerminalOffline:          SeverityHigh,
	CodeTerminalBusy:             SeverityLow,
	CodeTerminalError:            SeverityHigh,
	CodeTerminalFirmwareMismatch: SeverityHigh,
	CodeTerminalNotFound:         SeverityHigh,
	CodeTerminalAuthFailed:       SeverityCritical,

	CodeTransactionCancelled: SeverityLow,

	CodeConfigInvalidIP:             SeverityHigh,
	CodeConfigInvalidPort:           SeverityHigh,
	CodeConfigMissingAPIKey:         SeverityHigh,
	CodeConfigInvalidCredentials:    SeverityCritical,
	CodeConfigTerminalNotConfigured: SeverityHigh,

	CodeSystemStateInconsistent: SeverityCritical,
	CodeSystemDataCorruption:    SeverityCritical,
	CodeSystemUnknownError:      SeverityHigh,
}

// KnownCode reports whether code belongs to the taxonomy.
func KnownCode(code ErrorCode) bool {
	_, ok := codeTable[code]
	return ok
}

// CategoryOf returns the category of code, or CategorySystem for unknown codes.
func CategoryOf(code ErrorCode) Category {
	if info, ok := codeTable[code]; ok {
		return info.category
	}
	return CategorySystem
}

// SeverityOf returns the fixed severity for code.
func SeverityOf(code ErrorCode) Severity {
	if sev, ok := severityTable[code]; ok {
		return sev
	}
	return SeverityMedium
}

// IsRetryableCode returns the fixed retry eligibility for code.
func IsRetryableCode(code ErrorCode) bool {
	return codeTable[code].retryable
}

// DefaultMessage returns the operator-facing message for code.
func DefaultMessage(code ErrorCode) string {
	if info, ok := codeTable[code]; ok {
		return info.message
	}
	return codeTable[CodeSystemUnknownError].message
}

// ClassifiedError is the normalized form of every failure coming out of the
// terminal layer. Severity and Retryable are derived from Code.
type ClassifiedError struct {
	Timestamp     time.Time      `json:"timestamp"`
	Err           error          `json:"-"`
	Context       map[string]any `json:"context,omitempty"`
	Code          ErrorCode      `json:"code"`
	Category      Category       `json:"category"`
	Severity      Severity       `json:"severity"`
	Message       string         `json:"message"`
	TerminalID    string         `json:"terminalId,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Retryable     bool           `json:"retryable"`
}

// ErrorOption attaches correlation data to a ClassifiedError.
type ErrorOption func(*ClassifiedError)

// WithCause records the original failure.
func WithCause(err error) ErrorOption {
	return func(e *ClassifiedError) {
		e.Err = err
	}
}

// WithTerminal sets the terminal correlation id.
func WithTerminal(id string) ErrorOption {
	return func(e *ClassifiedError) {
		if id != "" {
			e.TerminalID = id
		}
	}
}

// WithTransaction sets the transaction correlation id.
func WithTransaction(id string) ErrorOption {
	return func(e *ClassifiedError) {
		if id != "" {
			e.TransactionID = id
		}
	}
}

// WithContext adds a free-form context value.
func WithContext(key string, value any) ErrorOption {
	return func(e *ClassifiedError) {
		if e.Context == nil {
			e.Context = make(map[string]any)
		}
		e.Context[key] = value
	}
}

// WithTimestamp overrides the creation time.
func WithTimestamp(ts time.Time) ErrorOption {
	return func(e *ClassifiedError) {
		e.Timestamp = ts
	}
}

// NewClassifiedError builds an error for code. An empty message uses the
// code's default message.
func NewClassifiedError(code ErrorCode, message string, opts ...ErrorOption) *ClassifiedError {
	if message == "" {
		message = DefaultMessage(code)
	}
	e := &ClassifiedError{
		Code:      code,
		Category:  CategoryOf(code),
		Severity:  SeverityOf(code),
		Retryable: IsRetryableCode(code),
		Message:   message,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is matches another ClassifiedError by code so errors.Is works against
// bare code templates such as NewClassifiedError(CodeTerminalBusy, "").
func (e *ClassifiedError) Is(target error) bool {
	var other *ClassifiedError
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// NeedsReconfiguration reports whether the operator should be sent back to
// terminal setup rather than offered a plain retry.
func (e *ClassifiedError) NeedsReconfiguration() bool {
	return e.Severity == SeverityCritical &&
		(e.Category == CategoryNetwork || e.Category == CategoryTerminal || e.Category == CategoryConfiguration)
}

// HasCode reports whether err is a ClassifiedError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Code == code
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// RetryableError explicitly marks an otherwise unrecognized failure as
// retryable (or not).
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
