package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/discovery"
	"github.com/Veraticus/tillpoint/internal/model"
	"github.com/Veraticus/tillpoint/internal/testutil"
	"github.com/Veraticus/tillpoint/internal/testutil/storetest"
)

const testAPIKey = "sk_test_counter"

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	server *Server
	fake   *testutil.FakeTerminal
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()

	fake := testutil.NewFakeTerminal(t, testutil.WithFakeAPIKey(testAPIKey))
	policy := common.DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond

	cfg := Config{
		Store:         storetest.NewTestStore(t),
		Scanner:       discovery.NewScanner(discovery.WithPorts(fake.Port()), discovery.WithProbeTimeout(time.Second)),
		RetryPolicy:   &policy,
		LocalRange:    func() (string, bool) { return "", false },
		Timeout:       2 * time.Second,
		HealthTimeout: time.Second,
		PollInterval:  10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := NewServer(cfg)
	t.Cleanup(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.current != nil {
			s.current.Reset()
		}
	})
	return &harness{server: s, fake: fake}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) addTerminal(t *testing.T) model.TerminalConfig {
	t.Helper()

	rec := h.do(t, http.MethodPost, "/api/terminals", model.TerminalConfig{
		Name:      "Counter 1",
		IPAddress: h.fake.IP(),
		Port:      h.fake.Port(),
		APIKey:    testAPIKey,
		Enabled:   true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var saved model.TerminalConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	return saved
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func decodeTransaction(t *testing.T, rec *httptest.ResponseRecorder) transactionResponse {
	t.Helper()
	var body transactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestTerminals_SaveAndList(t *testing.T) {
	h := newHarness(t)
	saved := h.addTerminal(t)

	assert.NotEmpty(t, saved.ID)
	assert.Empty(t, saved.APIKey)
	assert.Empty(t, saved.SealedAPIKey)

	rec := h.do(t, http.MethodGet, "/api/terminals", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Terminals []model.TerminalConfig `json:"terminals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Terminals, 1)
	assert.Equal(t, saved.ID, list.Terminals[0].ID)
	assert.Empty(t, list.Terminals[0].SealedAPIKey)
	assert.NotContains(t, rec.Body.String(), testAPIKey)
}

func TestTerminals_SaveRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      model.TerminalConfig
		wantCode common.ErrorCode
	}{
		{
			name:     "bad ip",
			cfg:      model.TerminalConfig{Name: "x", IPAddress: "10.0.0", Port: 8080, APIKey: "k"},
			wantCode: common.CodeConfigInvalidIP,
		},
		{
			name:     "bad port",
			cfg:      model.TerminalConfig{Name: "x", IPAddress: "10.0.0.1", Port: 70000, APIKey: "k"},
			wantCode: common.CodeConfigInvalidPort,
		},
		{
			name:     "missing key",
			cfg:      model.TerminalConfig{Name: "x", IPAddress: "10.0.0.1", Port: 8080},
			wantCode: common.CodeConfigMissingAPIKey,
		},
	}

	h := newHarness(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/terminals", tt.cfg)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}

func TestTerminals_SaveRejectsMalformedJSON(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/api/terminals", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidRequest, decodeError(t, rec).Code)
}

func TestTerminals_Delete(t *testing.T) {
	h := newHarness(t)
	saved := h.addTerminal(t)

	rec := h.do(t, http.MethodDelete, "/api/terminals/"+saved.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/terminals/"+saved.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, common.CodeConfigTerminalNotConfigured, decodeError(t, rec).Code)
}

func TestHealth_RecordsStatus(t *testing.T) {
	h := newHarness(t)
	saved := h.addTerminal(t)

	rec := h.do(t, http.MethodGet, "/api/terminals/"+saved.ID+"/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.True(t, health.Success)
	require.NotNil(t, health.Status)
	assert.Equal(t, "2.4.1", health.Status.FirmwareVersion)
	assert.Nil(t, health.Error)

	cfg, found, err := h.server.store.GetTerminal(context.Background(), saved.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StatusOnline, cfg.LastStatus)
	assert.NotNil(t, cfg.LastSeen)
}

func TestHealth_ReportsFailureInBody(t *testing.T) {
	h := newHarness(t)
	saved := h.addTerminal(t)
	h.fake.FailNext(http.MethodGet, "/api/status", testutil.Failure{Status: 503, Body: map[string]any{}})

	rec := h.do(t, http.MethodGet, "/api/terminals/"+saved.ID+"/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.False(t, health.Success)
	require.NotNil(t, health.Error)
	assert.Equal(t, common.CodeTerminalBusy, health.Error.Code)
	assert.Equal(t, 1, h.fake.Calls(http.MethodGet, "/api/status"))

	cfg, _, err := h.server.store.GetTerminal(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, cfg.LastStatus)
}

func TestHealth_UnknownTerminal(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/api/terminals/missing/health", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScan(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/discovery/scan", scanRequest{Range: h.fake.IP()})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Range     string           `json:"range"`
		Terminals []model.Terminal `json:"terminals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, h.fake.IP(), body.Range)
	require.Len(t, body.Terminals, 1)
	assert.True(t, body.Terminals[0].RequiresAuth)
}

func TestScan_NoRangeAndNoLocalNetwork(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/discovery/scan", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScan_FallsBackToLocalRange(t *testing.T) {
	var h *harness
	h = newHarness(t, func(cfg *Config) {
		cfg.LocalRange = func() (string, bool) { return h.fake.IP(), true }
	})

	rec := h.do(t, http.MethodPost, "/api/discovery/scan", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"range":"`+h.fake.IP()+`"`)
}

func TestSale_RunsToCompletion(t *testing.T) {
	h := newHarness(t)
	saved := h.addTerminal(t)
	h.fake.ScriptTransaction("tx-1",
		model.TransactionResponse{TransactionID: "tx-1", Status: "processing"},
		model.TransactionResponse{TransactionID: "tx-1", Status: "completed", AuthCode: "A1B2"},
	)

	rec := h.do(t, http.MethodPost, "/api/terminals/"+saved.ID+"/sale", paymentRequest{Amount: 1250, Currency: "gbp"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	started := decodeTransaction(t, rec)
	assert.Equal(t, saved.ID, started.TerminalID)
	assert.Equal(t, "tx-1", started.Status.TransactionID)
	assert.Equal(t, model.KindSale, started.Status.Kind)

	require.NotNil(t, h.fake.LastPayment())
	assert.Equal(t, int64(1250), h.fake.LastPayment().Amount)
	assert.Equal(t, "GBP", h.fake.LastPayment().Currency)

	require.Eventually(t, func() bool {
		rec := h.do(t, http.MethodGet, "/api/transaction", nil)
		return rec.Code == http.StatusOK && decodeTransaction(t, rec).Status.State == model.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	final := decodeTransaction(t, h.do(t, http.MethodGet, "/api/transaction", nil))
	assert.Equal(t, "A1B2", final.Status.AuthCode)
	assert.Equal(t, 100, final.Status.Progress)

	// A finished transaction does not block the next one.
	rec = h.do(t, http.MethodPost, "/api/terminals/"+saved.ID+"/sale", paymentRequest{Amount: 300, Currency: "GBP"})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSale_RejectedWhileActive(t *testing.T) {
	h := newHarness(t)
	saved := h.addTerminal(t)
	h.fake.ScriptTransaction("tx-1", model.TransactionResponse{TransactionID: "tx-1", Status: "processing"})

	rec := h.do(t, http.MethodPost, "/api/terminals/"+saved.ID+"/sale", paymentRequest{Amount: 1000, Currency: "EUR"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/terminals/"+saved.ID+"/refund", paymentRequest{Amount: 1000, Currency: "EUR"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, common.CodeSystemStateInconsistent, decodeError(t, rec).Code)

	rec = h.do(t, http.MethodDelete, "/api/terminals/"+saved.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSale_InvalidAmount(t *testing.T) {
	h := newHarness(t)
	saved := h.addTerminal(t)

	for _, req := range []paymentRequest{
		{Amount: 0, Currency: "GBP"},
		{Amount: -5, Currency: "GBP"},
		{Amount: 100, Currency: "POUNDS"},
	} {
		rec := h.do(t, http.MethodPost, "/api/terminals/"+saved.ID+"/sale", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, common.CodeTransactionInvalidAmount, decodeError(t, rec).Code)
	}
	assert.Nil(t, h.fake.LastPayment())
}

func TestSale_TerminalDeclines(t *testing.T) {
	h := newHarness(t)
	saved := h.addTerminal(t)
	h.fake.SetSaleResponse(model.TransactionResponse{
		Status: "declined",
		Error:  &model.PayloadError{Code: "DECLINED", Message: "do not honor"},
	})

	rec := h.do(t, http.MethodPost, "/api/terminals/"+saved.ID+"/sale", paymentRequest{Amount: 1000, Currency: "GBP"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, common.CodeTransactionDeclined, body.Code)
	assert.Equal(t, "do not honor", body.Message)

	rec = h.do(t, http.MethodGet, "/api/transaction", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRefund_SendsOriginalTransaction(t *testing.T) {
	h := newHarness(t)
	saved := h.addTerminal(t)
	h.fake.ScriptTransaction("tx-1", model.TransactionResponse{TransactionID: "tx-1", Status: "completed"})

	rec := h.do(t, http.MethodPost, "/api/terminals/"+saved.ID+"/refund", paymentRequest{
		Amount:                500,
		Currency:              "USD",
		OriginalTransactionID: "tx-0",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, model.KindRefund, decodeTransaction(t, rec).Status.Kind)
	require.NotNil(t, h.fake.LastPayment())
	assert.Equal(t, "tx-0", h.fake.LastPayment().OriginalTransactionID)
}

func TestCancel(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/transaction/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	saved := h.addTerminal(t)
	h.fake.ScriptTransaction("tx-1", model.TransactionResponse{TransactionID: "tx-1", Status: "processing"})
	rec = h.do(t, http.MethodPost, "/api/terminals/"+saved.ID+"/sale", paymentRequest{Amount: 1000, Currency: "GBP"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/transaction/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StateCancelled, decodeTransaction(t, rec).Status.State)
	assert.Equal(t, 1, h.fake.Calls(http.MethodPost, "/api/transactions/tx-1/cancel"))

	rec = h.do(t, http.MethodPost, "/api/transaction/reset", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/transaction", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  *common.ClassifiedError
		want int
	}{
		{common.NewClassifiedError(common.CodeConfigTerminalNotConfigured, "", common.WithCause(common.ErrNotFound)), http.StatusNotFound},
		{common.NewClassifiedError(common.CodeConfigTerminalNotConfigured, "disabled"), http.StatusConflict},
		{common.NewClassifiedError(common.CodeTerminalBusy, ""), http.StatusServiceUnavailable},
		{common.NewClassifiedError(common.CodeNetworkTimeout, ""), http.StatusGatewayTimeout},
		{common.NewClassifiedError(common.CodeTerminalAuthFailed, ""), http.StatusBadGateway},
		{common.NewClassifiedError(common.CodeTransactionDeclined, ""), http.StatusUnprocessableEntity},
		{common.NewClassifiedError(common.CodeSystemUnknownError, ""), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
