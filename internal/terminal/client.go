// Package terminal provides the HTTP transport to a single payment terminal.
package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/model"
	"github.com/Veraticus/tillpoint/internal/service"
)

// DefaultTimeout bounds a single request attempt.
const DefaultTimeout = 30 * time.Second

// StatusPath is the terminal's well-known status endpoint.
const StatusPath = "/api/status"

const (
	salePath         = "/api/transactions/sale"
	refundPath       = "/api/transactions/refund"
	transactionsPath = "/api/transactions/"
	maxResponseBytes = 1 << 20
)

// Config describes one terminal endpoint.
type Config struct {
	HTTPClient  *http.Client
	Logger      *slog.Logger
	RetryPolicy *common.RetryPolicy
	TerminalID  string
	IPAddress   string
	APIKey      string
	Port        int
	Timeout     time.Duration
}

// Client talks to one terminal. It carries that terminal's credentials and
// is not meant to be shared between terminals.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	classifier  *common.Classifier
	headers     http.Header
	baseURL     string
	terminalID  string
	retryPolicy common.RetryPolicy
	timeout     time.Duration
}

// NewClient creates a client for the terminal at cfg.IPAddress:cfg.Port.
func NewClient(cfg Config) (*Client, error) {
	if !model.IsIPv4(cfg.IPAddress) {
		return nil, common.NewClassifiedError(common.CodeConfigInvalidIP, "",
			common.WithTerminal(cfg.TerminalID),
			common.WithContext("ipAddress", cfg.IPAddress))
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, common.NewClassifiedError(common.CodeConfigInvalidPort, "",
			common.WithTerminal(cfg.TerminalID),
			common.WithContext("port", cfg.Port))
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Per-call deadlines come from the request context.
		httpClient = &http.Client{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	policy := common.DefaultRetryPolicy()
	if cfg.RetryPolicy != nil {
		policy = *cfg.RetryPolicy
	}

	logger := cfg.Logger
	if logger == nil {
		logger = common.ComponentLogger("terminal")
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Client{
		httpClient:  httpClient,
		logger:      logger.With("terminal", model.EndpointKey(cfg.IPAddress, cfg.Port)),
		classifier:  common.NewClassifier(),
		headers:     headers,
		baseURL:     fmt.Sprintf("http://%s", model.EndpointKey(cfg.IPAddress, cfg.Port)),
		terminalID:  cfg.TerminalID,
		retryPolicy: policy,
		timeout:     timeout,
	}, nil
}

// BaseURL returns http://{ip}:{port}.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	policy  common.RetryPolicy
	onRetry common.RetryFunc
	timeout time.Duration
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetryPolicy overrides the retry policy for one call.
func WithRetryPolicy(p common.RetryPolicy) CallOption {
	return func(o *callOptions) {
		o.policy = p
	}
}

// WithOnRetry observes retries of one call.
func WithOnRetry(fn common.RetryFunc) CallOption {
	return func(o *callOptions) {
		o.onRetry = fn
	}
}

// Get issues a GET and decodes the JSON response into out (which may be nil).
func (c *Client) Get(ctx context.Context, path string, out any, opts ...CallOption) error {
	return c.do(ctx, http.MethodGet, path, nil, out, nil, opts)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...CallOption) error {
	return c.do(ctx, http.MethodPost, path, body, out, nil, opts)
}

func (c *Client) do(
	ctx context.Context,
	method, path string,
	body, out any,
	check func() error,
	opts []CallOption,
) error {
	o := callOptions{policy: c.retryPolicy, timeout: c.timeout}
	for _, opt := range opts {
		opt(&o)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return c.classifier.Classify(fmt.Errorf("encode request body: %w", err), c.errorContext())
		}
	}

	_, err := common.RetryWithBackoff(ctx, func(ctx context.Context) (struct{}, error) {
		if err := c.attempt(ctx, method, path, payload, out, o.timeout); err != nil {
			return struct{}{}, err
		}
		if check != nil {
			if err := check(); err != nil {
				return struct{}{}, c.classifier.Classify(err, c.errorContext())
			}
		}
		return struct{}{}, nil
	}, o.policy, o.onRetry)
	if err != nil {
		return c.classifier.Classify(err, c.errorContext())
	}
	return nil
}

// attempt performs one request under its own timeout. Only an explicit
// cancellation of the parent context is reported as a caller abort; a parent
// deadline is a network timeout like the per-attempt one.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any, timeout time.Duration) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return c.classifier.Classify(fmt.Errorf("build request: %w", err), c.errorContext())
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifier.Classify(common.NetworkFailureFrom(err, callerCancelled(ctx)), c.errorContext())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.classifier.Classify(common.NetworkFailureFrom(err, callerCancelled(ctx)), c.errorContext())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("Terminal returned error status", "method", method, "path", path, "status", resp.StatusCode)
		return c.classifier.Classify(&common.HTTPFailure{
			StatusCode: resp.StatusCode,
			Body:       decodeBody(data),
		}, c.errorContext())
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return common.NewClassifiedError(common.CodeSystemDataCorruption,
				"Terminal returned a malformed response",
				common.WithCause(err),
				common.WithTerminal(c.terminalID),
				common.WithContext("path", path),
				common.WithContext("statusCode", resp.StatusCode))
		}
	}
	return nil
}

func callerCancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func (c *Client) errorContext() common.ErrorContext {
	return common.ErrorContext{TerminalID: c.terminalID}
}

// decodeBody parses an error body best-effort; anything that is not a JSON
// object becomes an empty map.
func decodeBody(data []byte) map[string]any {
	body := map[string]any{}
	if len(data) == 0 {
		return body
	}
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return map[string]any{}
	}
	return body
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context, opts ...CallOption) (*model.StatusResponse, error) {
	var status model.StatusResponse
	if err := c.Get(ctx, StatusPath, &status, opts...); err != nil {
		return nil, err
	}
	return &status, nil
}

// Sale starts a card sale.
func (c *Client) Sale(ctx context.Context, req model.PaymentRequest) (*model.TransactionResponse, error) {
	return c.postTransaction(ctx, salePath, req)
}

// Refund starts a card refund.
func (c *Client) Refund(ctx context.Context, req model.PaymentRequest) (*model.TransactionResponse, error) {
	return c.postTransaction(ctx, refundPath, req)
}

// Cancel asks the terminal to abort a transaction.
func (c *Client) Cancel(ctx context.Context, transactionID string) (*model.TransactionResponse, error) {
	if transactionID == "" {
		return nil, common.NewClassifiedError(common.CodeSystemStateInconsistent,
			"No transaction id to cancel", common.WithTerminal(c.terminalID))
	}
	return c.postTransaction(ctx, transactionsPath+url.PathEscape(transactionID)+"/cancel", struct{}{})
}

// TransactionStatus fetches the terminal's view of a transaction. A failure
// reported inside the payload is returned as data, not as an error.
func (c *Client) TransactionStatus(ctx context.Context, transactionID string) (*model.TransactionResponse, error) {
	var resp model.TransactionResponse
	if err := c.Get(ctx, transactionsPath+url.PathEscape(transactionID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) postTransaction(ctx context.Context, path string, body any) (*model.TransactionResponse, error) {
	var resp model.TransactionResponse
	check := func() error {
		if resp.Error != nil && resp.Error.Code != "" {
			failure := &common.TerminalPayloadFailure{Code: resp.Error.Code, Message: resp.Error.Message}
			// The next attempt decodes into the same value.
			resp = model.TransactionResponse{}
			return failure
		}
		return nil
	}
	if err := c.do(ctx, http.MethodPost, path, body, &resp, check, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResult is the outcome of a health check.
type HealthResult struct {
	Status  *model.StatusResponse
	Error   *common.ClassifiedError
	Message string
	Success bool
}

// HealthCheck probes the status endpoint once. It never returns an error;
// failures are reported in the result.
func (c *Client) HealthCheck(ctx context.Context, timeout time.Duration) HealthResult {
	status, err := c.Status(ctx, WithTimeout(timeout), WithRetryPolicy(common.SingleAttemptPolicy()))
	if err != nil {
		classified := c.classifier.Classify(err, c.errorContext())
		return HealthResult{Error: classified, Message: classified.Message}
	}
	return HealthResult{
		Success: true,
		Status:  status,
		Message: fmt.Sprintf("Terminal %s is %s", status.TerminalID, status.ConnectionStatus()),
	}
}

// TestConnection verifies the terminal is reachable and accepts the
// configured credentials.
func (c *Client) TestConnection(ctx context.Context, timeout time.Duration) error {
	result := c.HealthCheck(ctx, timeout)
	if !result.Success {
		return result.Error
	}
	if result.Status.ConnectionStatus() == model.StatusOffline {
		return common.NewClassifiedError(common.CodeTerminalOffline, "",
			common.WithTerminal(c.terminalID),
			common.WithContext("reportedStatus", result.Status.Status))
	}
	return nil
}

var _ service.TerminalAPI = (*Client)(nil)
