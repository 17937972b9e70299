// Package monitor drives a single card transaction through its lifecycle.
package monitor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/model"
	"github.com/Veraticus/tillpoint/internal/service"
)

// DefaultPollInterval is the delay between status polls.
const DefaultPollInterval = 500 * time.Millisecond

// Listener observes status changes. Calls are serialized and arrive in the
// order the changes were made; an update superseded by a later Cancel or
// Reset is not delivered. A listener must not block for long and must not
// call Cancel synchronously.
type Listener func(model.TransactionStatus)

// PaymentOptions carries the optional parts of a payment request.
type PaymentOptions struct {
	Metadata    map[string]any
	Reference   string
	Description string
}

// Monitor tracks at most one transaction at a time. All methods are safe for
// concurrent use.
type Monitor struct {
	client       service.TerminalAPI
	logger       *slog.Logger
	classifier   *common.Classifier
	listener     Listener
	status       *model.TransactionStatus
	stopPolling  context.CancelFunc
	done         chan struct{}
	pollInterval time.Duration
	generation   uint64
	mu           sync.Mutex
	notifyMu     sync.Mutex
	starting     bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPollInterval sets the delay between polls.
func WithPollInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithLogger sets the monitor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithListener registers a status listener.
func WithListener(fn Listener) Option {
	return func(m *Monitor) {
		m.listener = fn
	}
}

// New creates a monitor driving transactions through client.
func New(client service.TerminalAPI, opts ...Option) *Monitor {
	m := &Monitor{
		client:       client,
		logger:       common.ComponentLogger("monitor"),
		classifier:   common.NewClassifier(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initiate starts a sale of amount minor units and begins polling. On
// failure no transaction is left in flight.
func (m *Monitor) Initiate(ctx context.Context, amount int64, currency string, opts PaymentOptions) (string, error) {
	return m.start(ctx, model.KindSale, amount, currency, "", opts)
}

// InitiateRefund starts a refund, optionally referencing the original sale.
func (m *Monitor) InitiateRefund(
	ctx context.Context,
	amount int64,
	currency, originalTransactionID string,
	opts PaymentOptions,
) (string, error) {
	return m.start(ctx, model.KindRefund, amount, currency, originalTransactionID, opts)
}

func (m *Monitor) start(
	ctx context.Context,
	kind model.TransactionKind,
	amount int64,
	currency, originalID string,
	opts PaymentOptions,
) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if err := validatePayment(amount, currency); err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.starting || (m.status != nil && !m.status.State.IsTerminal()) {
		m.mu.Unlock()
		return "", common.NewClassifiedError(common.CodeSystemStateInconsistent,
			"A transaction is already in progress")
	}
	m.starting = true
	m.stopLocked()
	m.status = nil
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.starting = false
		m.mu.Unlock()
	}()

	req := model.PaymentRequest{
		Amount:                amount,
		Currency:              currency,
		Reference:             opts.Reference,
		Description:           opts.Description,
		Metadata:              opts.Metadata,
		OriginalTransactionID: originalID,
	}
	if req.Reference == "" {
		req.Reference = uuid.NewString()
	}

	m.logger.Info("Initiating transaction", "kind", kind, "amount", amount, "currency", currency, "reference", req.Reference)

	var resp *model.TransactionResponse
	var err error
	if kind == model.KindRefund {
		resp, err = m.client.Refund(ctx, req)
	} else {
		resp, err = m.client.Sale(ctx, req)
	}
	if err != nil {
		classified := m.classifier.Classify(err, common.ErrorContext{})
		m.logger.Error("Transaction could not be initiated", common.ErrorAttrs(classified)...)
		return "", classified
	}
	if resp == nil || resp.TransactionID == "" {
		return "", common.NewClassifiedError(common.CodeSystemDataCorruption,
			"Terminal accepted the transaction without returning an id")
	}

	state, ok := resp.State()
	if !ok {
		state = model.StatePending
	}
	status := &model.TransactionStatus{
		TransactionID: resp.TransactionID,
		State:         state,
		Kind:          kind,
		Amount:        amount,
		Currency:      currency,
		Progress:      state.DefaultProgress(),
		Message:       resp.Message,
	}
	if state == model.StateFailed {
		status.Error = m.terminalFailure(resp)
	}

	m.mu.Lock()
	m.status = status
	if !state.IsTerminal() {
		m.startPollingLocked(resp.TransactionID)
	}
	m.mu.Unlock()

	return resp.TransactionID, nil
}

func validatePayment(amount int64, currency string) error {
	if amount <= 0 {
		return common.NewClassifiedError(common.CodeTransactionInvalidAmount,
			"Amount must be a positive number of minor units",
			common.WithContext("amount", amount))
	}
	if len(currency) != 3 || strings.IndexFunc(currency, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
		return common.NewClassifiedError(common.CodeTransactionInvalidAmount,
			"Currency must be a three-letter ISO 4217 code",
			common.WithContext("currency", currency))
	}
	return nil
}

// startPollingLocked must be called with m.mu held.
func (m *Monitor) startPollingLocked(transactionID string) {
	m.generation++
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stopPolling = cancel
	m.done = done
	go m.poll(ctx, m.generation, transactionID, done)
}

// stopLocked must be called with m.mu held. Bumping the generation makes any
// in-flight poll result stale.
func (m *Monitor) stopLocked() {
	m.generation++
	if m.stopPolling != nil {
		m.stopPolling()
		m.stopPolling = nil
	}
}

// poll runs one status request per interval, never overlapping, until the
// transaction reaches a terminal state or polling is stopped.
func (m *Monitor) poll(ctx context.Context, generation uint64, transactionID string, done chan struct{}) {
	defer close(done)

	logger := m.logger.With("transaction", transactionID)
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		resp, err := m.client.TransactionStatus(ctx, transactionID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			classified := m.classifier.Classify(err, common.ErrorContext{TransactionID: transactionID})
			logger.Warn("Status poll failed, continuing", common.ErrorAttrs(classified)...)
			timer.Reset(m.pollInterval)
			continue
		}

		status, finished, applied := m.apply(generation, resp)
		if !applied {
			return
		}
		m.notify(generation, status)
		if finished {
			logger.Info("Transaction finished", "state", status.State)
			return
		}
		timer.Reset(m.pollInterval)
	}
}

// apply records a poll result unless it has been superseded.
func (m *Monitor) apply(generation uint64, resp *model.TransactionResponse) (model.TransactionStatus, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation || m.status == nil || m.status.State.IsTerminal() {
		return model.TransactionStatus{}, false, false
	}

	state, ok := resp.State()
	if !ok {
		m.logger.Debug("Ignoring unrecognized transaction status", "status", resp.Status)
		state = m.status.State
	}

	s := m.status
	s.State = state
	s.Progress = state.DefaultProgress()
	if resp.Progress != nil && !state.IsTerminal() {
		s.Progress = min(max(*resp.Progress, 0), 100)
	}
	if resp.Message != "" {
		s.Message = resp.Message
	}
	if resp.AuthCode != "" {
		s.AuthCode = resp.AuthCode
	}
	if resp.CardDetails != nil {
		s.Card = resp.CardDetails
	}
	if state == model.StateFailed {
		s.Error = m.terminalFailure(resp)
	}
	if state.IsTerminal() && m.stopPolling != nil {
		m.stopPolling()
		m.stopPolling = nil
	}
	return *s, state.IsTerminal(), true
}

// notify hands status to the listener unless a newer change has bumped the
// generation since it was recorded. notifyMu is taken before mu.
func (m *Monitor) notify(generation uint64, status model.TransactionStatus) {
	if m.listener == nil {
		return
	}
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	current := generation == m.generation
	m.mu.Unlock()
	if current {
		m.listener(status)
	}
}

// terminalFailure classifies a failure the terminal reported as data.
func (m *Monitor) terminalFailure(resp *model.TransactionResponse) *common.ClassifiedError {
	failure := &common.TerminalPayloadFailure{Code: resp.Status, Message: resp.Message}
	if resp.Error != nil && resp.Error.Code != "" {
		failure = &common.TerminalPayloadFailure{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return m.classifier.Classify(failure, common.ErrorContext{TransactionID: resp.TransactionID})
}

// Status returns the current transaction status, if any.
func (m *Monitor) Status() (model.TransactionStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil {
		return model.TransactionStatus{}, false
	}
	return *m.status, true
}

// Active reports whether a non-terminal transaction is tracked.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status != nil && !m.status.State.IsTerminal()
}

// Done is closed when the current polling loop exits.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.done
}

// Cancel stops polling, marks the transaction cancelled and asks the
// terminal to abort it. The local state is cancelled even when the terminal
// request fails. It returns false when no transaction was in progress.
func (m *Monitor) Cancel(ctx context.Context) bool {
	m.mu.Lock()
	if m.status == nil || m.status.State.IsTerminal() {
		m.mu.Unlock()
		return false
	}
	m.stopLocked()
	generation := m.generation
	m.status.State = model.StateCancelled
	m.status.Progress = model.StateCancelled.DefaultProgress()
	m.status.Message = "Transaction cancelled"
	status := *m.status
	m.mu.Unlock()

	m.notify(generation, status)

	if _, err := m.client.Cancel(ctx, status.TransactionID); err != nil {
		classified := m.classifier.Classify(err, common.ErrorContext{TransactionID: status.TransactionID})
		m.logger.Warn("Terminal did not acknowledge cancellation", common.ErrorAttrs(classified)...)
	} else {
		m.logger.Info("Transaction cancelled", "transaction", status.TransactionID)
	}
	return true
}

// Reset stops polling and forgets the current transaction without
// contacting the terminal.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.status = nil
}
