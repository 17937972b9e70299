package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorContext carries optional correlation ids into classification.
type ErrorContext struct {
	TerminalID    string
	TransactionID string
}

// Classifier turns raw failures into ClassifiedErrors. It holds no mutable
// state and may be shared between goroutines.
type Classifier struct {
	now func() time.Time
}

// NewClassifier returns a classifier stamping errors with the wall clock.
func NewClassifier() *Classifier {
	return &Classifier{now: time.Now}
}

// NewClassifierWithClock returns a classifier using now for timestamps.
func NewClassifierWithClock(now func() time.Time) *Classifier {
	return &Classifier{now: now}
}

var defaultClassifier = NewClassifier()

// Classify classifies err with the default classifier.
func Classify(err error, ec ErrorContext) *ClassifiedError {
	return defaultClassifier.Classify(err, ec)
}

// Terminal-specific payload codes, matched case-insensitively.
var terminalPayloadCodes = map[string]ErrorCode{
	"TERMINAL_OFFLINE":           CodeTerminalOffline,
	"OFFLINE":                    CodeTerminalOffline,
	"TERMINAL_BUSY":              CodeTerminalBusy,
	"BUSY":                       CodeTerminalBusy,
	"TERMINAL_ERROR":             CodeTerminalError,
	"DEVICE_ERROR":               CodeTerminalError,
	"INTERNAL_ERROR":             CodeTerminalError,
	"FIRMWARE_MISMATCH":          CodeTerminalFirmwareMismatch,
	"FIRMWARE_UNSUPPORTED":       CodeTerminalFirmwareMismatch,
	"TERMINAL_FIRMWARE_MISMATCH": CodeTerminalFirmwareMismatch,
	"TERMINAL_NOT_FOUND":         CodeTerminalNotFound,
	"UNAUTHORIZED":               CodeTerminalAuthFailed,
	"INVALID_API_KEY":            CodeTerminalAuthFailed,
	"TERMINAL_AUTH_FAILED":       CodeTerminalAuthFailed,
}

// Transaction-specific payload codes.
var transactionPayloadCodes = map[string]ErrorCode{
	"DECLINED":                       CodeTransactionDeclined,
	"CARD_DECLINED":                  CodeTransactionDeclined,
	"TRANSACTION_DECLINED":           CodeTransactionDeclined,
	"INSUFFICIENT_FUNDS":             CodeTransactionInsufficientFunds,
	"TRANSACTION_INSUFFICIENT_FUNDS": CodeTransactionInsufficientFunds,
	"EXPIRED_CARD":                   CodeTransactionExpiredCard,
	"CARD_EXPIRED":                   CodeTransactionExpiredCard,
	"TRANSACTION_EXPIRED_CARD":       CodeTransactionExpiredCard,
	"CANCELLED":                      CodeTransactionCancelled,
	"CANCELED":                       CodeTransactionCancelled,
	"TRANSACTION_CANCELLED":          CodeTransactionCancelled,
	"TIMEOUT":                        CodeTransactionTimeout,
	"TRANSACTION_TIMEOUT":            CodeTransactionTimeout,
	"INVALID_AMOUNT":                 CodeTransactionInvalidAmount,
	"TRANSACTION_INVALID_AMOUNT":     CodeTransactionInvalidAmount,
}

var networkCodes = map[NetworkFailureKind]ErrorCode{
	NetworkConnectionRefused: CodeNetworkConnectionRefused,
	NetworkTimeout:           CodeNetworkTimeout,
	NetworkUnreachable:       CodeNetworkUnreachable,
	NetworkDNSFailure:        CodeNetworkDNSFailure,
	NetworkTLSFailure:        CodeSSLHandshakeFailed,
}

// Classify never fails: anything it cannot recognize becomes
// SYSTEM_UNKNOWN_ERROR.
func (c *Classifier) Classify(err error, ec ErrorContext) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) && KnownCode(classified.Code) {
		return classified
	}

	opts := []ErrorOption{
		WithCause(err),
		WithTerminal(ec.TerminalID),
		WithTransaction(ec.TransactionID),
		WithTimestamp(c.now()),
	}

	var payload *TerminalPayloadFailure
	if errors.As(err, &payload) {
		if code, ok := lookupPayloadCode(payload.Code); ok {
			return NewClassifiedError(code, payload.Message, opts...)
		}
		return NewClassifiedError(CodeTerminalError, payload.Message,
			append(opts, WithContext("terminalCode", payload.Code))...)
	}

	var httpFailure *HTTPFailure
	if errors.As(err, &httpFailure) {
		return c.classifyHTTP(httpFailure, opts)
	}

	var netFailure *NetworkFailure
	if !errors.As(err, &netFailure) {
		kind, ok := networkKind(err)
		if !ok {
			var marked *RetryableError
			return c.classifyUnknown(err, errors.As(err, &marked) && marked.Retryable, opts)
		}
		netFailure = &NetworkFailure{Kind: kind, Err: err}
	}
	return c.classifyNetwork(netFailure, opts)
}

func (c *Classifier) classifyHTTP(f *HTTPFailure, opts []ErrorOption) *ClassifiedError {
	opts = append(opts, WithContext("statusCode", f.StatusCode))
	payloadCode, message := payloadError(f.Body)

	if code, ok := terminalPayloadCodes[payloadCode]; ok {
		return NewClassifiedError(code, message, opts...)
	}
	if code, ok := transactionPayloadCodes[payloadCode]; ok {
		return NewClassifiedError(code, message, opts...)
	}

	switch f.StatusCode {
	case http.StatusUnauthorized:
		return NewClassifiedError(CodeTerminalAuthFailed, message, opts...)
	case http.StatusNotFound:
		return NewClassifiedError(CodeTerminalNotFound, message, opts...)
	case http.StatusServiceUnavailable:
		return NewClassifiedError(CodeTerminalBusy, message, opts...)
	}

	// Other statuses take the network path.
	switch {
	case f.StatusCode == http.StatusRequestTimeout || f.StatusCode == http.StatusGatewayTimeout:
		return NewClassifiedError(CodeNetworkTimeout, message, opts...)
	case f.StatusCode >= 500:
		return NewClassifiedError(CodeNetworkUnreachable, message, opts...)
	}
	if message == "" {
		message = fmt.Sprintf("Terminal responded with unexpected HTTP status %d", f.StatusCode)
	}
	return NewClassifiedError(CodeSystemUnknownError, message, opts...)
}

func (c *Classifier) classifyNetwork(f *NetworkFailure, opts []ErrorOption) *ClassifiedError {
	if f.Kind == NetworkAborted {
		return NewClassifiedError(CodeTransactionCancelled, "Request was cancelled by the caller", opts...)
	}
	code, ok := networkCodes[f.Kind]
	if !ok {
		code = CodeNetworkUnreachable
	}
	return NewClassifiedError(code, "", opts...)
}

func (c *Classifier) classifyUnknown(err error, retryable bool, opts []ErrorOption) *ClassifiedError {
	ce := NewClassifiedError(CodeSystemUnknownError, "", opts...)
	ce.Message = fmt.Sprintf("%s: %v", ce.Message, err)
	ce.Retryable = retryable
	return ce
}

// payloadError extracts an error code and message from a terminal response
// body. It accepts {"code": ..., "message": ...}, {"error": "CODE"} and
// {"error": {"code": ..., "message": ...}}.
func payloadError(body map[string]any) (string, string) {
	if body == nil {
		return "", ""
	}
	code, _ := body["code"].(string)
	message, _ := body["message"].(string)

	switch v := body["error"].(type) {
	case string:
		if code == "" {
			code = v
		}
	case map[string]any:
		if c, ok := v["code"].(string); ok && code == "" {
			code = c
		}
		if m, ok := v["message"].(string); ok && message == "" {
			message = m
		}
	}
	return normalizeCode(code), message
}

func lookupPayloadCode(raw string) (ErrorCode, bool) {
	code := normalizeCode(raw)
	if c, ok := terminalPayloadCodes[code]; ok {
		return c, true
	}
	if c, ok := transactionPayloadCodes[code]; ok {
		return c, true
	}
	return "", false
}

func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "_", " ", "_").Replace(code)
}
