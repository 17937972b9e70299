// Package testutil provides fakes and fixtures shared by package tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/Veraticus/tillpoint/internal/model"
)

// Failure is a canned non-success response.
type Failure struct {
	Body   map[string]any
	Status int
}

// FakeTerminal is an in-process payment terminal speaking the terminal REST
// API. Behaviour is scripted per test; every request is counted.
type FakeTerminal struct {
	server       *httptest.Server
	failures     map[string][]Failure
	scripts      map[string][]model.TransactionResponse
	counts       map[string]int
	lastPayment  *model.PaymentRequest
	saleResponse *model.TransactionResponse
	status       model.StatusResponse
	apiKey       string
	nextID       int
	mu           sync.Mutex
}

// FakeOption configures a FakeTerminal.
type FakeOption func(*FakeTerminal)

// WithFakeStatus replaces the default status payload.
func WithFakeStatus(status model.StatusResponse) FakeOption {
	return func(f *FakeTerminal) {
		f.status = status
	}
}

// WithFakeAPIKey makes the fake reject requests without this bearer token.
func WithFakeAPIKey(key string) FakeOption {
	return func(f *FakeTerminal) {
		f.apiKey = key
	}
}

// NewFakeTerminal starts a fake terminal on a loopback port. It is closed
// when the test finishes.
func NewFakeTerminal(t *testing.T, opts ...FakeOption) *FakeTerminal {
	t.Helper()

	f := &FakeTerminal{
		failures: make(map[string][]Failure),
		scripts:  make(map[string][]model.TransactionResponse),
		counts:   make(map[string]int),
		status: model.StatusResponse{
			TerminalID:      "fake-terminal-1",
			Status:          "online",
			FirmwareVersion: "2.4.1",
			DeviceType:      "dedicated",
			Platform:        "paydroid",
			DeviceName:      "Counter 1",
			Capabilities:    []string{"nfc", "chip", "swipe"},
			HasCardReader:   true,
			NFCEnabled:      true,
		},
	}
	for _, opt := range opts {
		opt(f)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", f.handleStatus)
	mux.HandleFunc("POST /api/transactions/sale", f.handlePayment)
	mux.HandleFunc("POST /api/transactions/refund", f.handlePayment)
	mux.HandleFunc("POST /api/transactions/{id}/cancel", f.handleCancel)
	mux.HandleFunc("GET /api/transactions/{id}", f.handleTransaction)

	f.server = httptest.NewServer(f.authorize(mux))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the fake's base URL.
func (f *FakeTerminal) URL() string {
	return f.server.URL
}

// IP returns the loopback address the fake listens on.
func (f *FakeTerminal) IP() string {
	host, _, _ := net.SplitHostPort(f.server.Listener.Addr().String())
	return host
}

// Port returns the fake's TCP port.
func (f *FakeTerminal) Port() int {
	_, port, _ := net.SplitHostPort(f.server.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// Terminal returns a model.Terminal pointing at the fake.
func (f *FakeTerminal) Terminal() model.Terminal {
	return model.Terminal{
		ID:        f.status.TerminalID,
		Name:      f.status.DeviceName,
		IPAddress: f.IP(),
		Port:      f.Port(),
		APIKey:    f.apiKey,
		Status:    model.StatusOnline,
	}
}

// FailNext queues failures for the request "METHOD path", served before any
// success.
func (f *FakeTerminal) FailNext(method, path string, failures ...Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := method + " " + path
	f.failures[key] = append(f.failures[key], failures...)
}

// ScriptTransaction sets the responses returned by successive status polls
// of transaction id. The last step repeats once the script is exhausted.
func (f *FakeTerminal) ScriptTransaction(id string, steps ...model.TransactionResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[id] = steps
}

// SetSaleResponse overrides the response to sale and refund requests.
func (f *FakeTerminal) SetSaleResponse(resp model.TransactionResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saleResponse = &resp
}

// Calls returns how many requests "METHOD path" received, failures included.
func (f *FakeTerminal) Calls(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[method+" "+path]
}

// LastPayment returns the most recent sale or refund request body.
func (f *FakeTerminal) LastPayment() *model.PaymentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPayment
}

func (f *FakeTerminal) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.counts[r.Method+" "+r.URL.Path]++
		failure, failed := f.popFailure(r.Method + " " + r.URL.Path)
		apiKey := f.apiKey
		f.mu.Unlock()

		if apiKey != "" && r.Header.Get("Authorization") != "Bearer "+apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":   "UNAUTHORIZED",
				"message": "invalid api key",
			})
			return
		}
		if failed {
			writeJSON(w, failure.Status, failure.Body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// popFailure must be called with f.mu held.
func (f *FakeTerminal) popFailure(key string) (Failure, bool) {
	queue := f.failures[key]
	if len(queue) == 0 {
		return Failure{}, false
	}
	f.failures[key] = queue[1:]
	return queue[0], true
}

func (f *FakeTerminal) handleStatus(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	status := f.status
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, status)
}

func (f *FakeTerminal) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req model.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "INVALID_REQUEST"})
		return
	}

	f.mu.Lock()
	f.lastPayment = &req
	f.nextID++
	resp := model.TransactionResponse{
		TransactionID: fmt.Sprintf("tx-%d", f.nextID),
		Status:        "pending",
		Amount:        req.Amount,
		Currency:      req.Currency,
	}
	if f.saleResponse != nil {
		resp = *f.saleResponse
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeTerminal) handleCancel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.TransactionResponse{
		TransactionID: r.PathValue("id"),
		Status:        "cancelled",
	})
}

func (f *FakeTerminal) handleTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	steps := f.scripts[id]
	var resp model.TransactionResponse
	found := len(steps) > 0
	if found {
		resp = steps[0]
		if len(steps) > 1 {
			f.scripts[id] = steps[1:]
		}
	}
	f.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "unknown transaction " + id})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
