package common

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// NetworkFailureKind names the transport-level failure when no response was received.
type NetworkFailureKind string

// Network failure kinds.
const (
	NetworkConnectionRefused NetworkFailureKind = "connection_refused"
	NetworkTimeout           NetworkFailureKind = "timeout"
	NetworkUnreachable       NetworkFailureKind = "unreachable"
	NetworkDNSFailure        NetworkFailureKind = "dns_failure"
	NetworkTLSFailure        NetworkFailureKind = "tls_failure"
	// NetworkAborted is a request cancelled by its caller, not by the network.
	NetworkAborted NetworkFailureKind = "aborted"
)

// NetworkFailure is a request that never produced an HTTP response.
type NetworkFailure struct {
	Err  error
	Kind NetworkFailureKind
}

func (f *NetworkFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("network failure (%s): %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("network failure (%s)", f.Kind)
}

func (f *NetworkFailure) Unwrap() error {
	return f.Err
}

// HTTPFailure is a non-success HTTP response. Body holds the best-effort
// decoded JSON object and is never nil.
type HTTPFailure struct {
	Body       map[string]any
	StatusCode int
}

func (f *HTTPFailure) Error() string {
	return fmt.Sprintf("terminal responded with HTTP %d", f.StatusCode)
}

// TerminalPayloadFailure is an error reported inside an otherwise successful
// terminal response.
type TerminalPayloadFailure struct {
	Code    string
	Message string
}

func (f *TerminalPayloadFailure) Error() string {
	if f.Message != "" {
		return fmt.Sprintf("terminal reported %s: %s", f.Code, f.Message)
	}
	return fmt.Sprintf("terminal reported %s", f.Code)
}

// NetworkFailureFrom maps a raw transport error onto a NetworkFailure.
// callerCancelled distinguishes a caller abort from a per-call timeout.
func NetworkFailureFrom(err error, callerCancelled bool) *NetworkFailure {
	if callerCancelled {
		return &NetworkFailure{Kind: NetworkAborted, Err: err}
	}
	kind, ok := networkKind(err)
	if !ok {
		kind = NetworkUnreachable
	}
	return &NetworkFailure{Kind: kind, Err: err}
}

// networkKind recognizes transport errors; ok is false for anything that is
// not a network failure.
func networkKind(err error) (NetworkFailureKind, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return NetworkAborted, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return NetworkTimeout, true
		}
		return NetworkDNSFailure, true
	}

	if isTLSError(err) {
		return NetworkTLSFailure, true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return NetworkConnectionRefused, true
	case errors.Is(err, syscall.ETIMEDOUT):
		return NetworkTimeout, true
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.EHOSTDOWN), errors.Is(err, syscall.ECONNRESET):
		return NetworkUnreachable, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NetworkTimeout, true
		}
		return NetworkUnreachable, true
	}

	return "", false
}

func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		certInvalid x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &certInvalid)
}
