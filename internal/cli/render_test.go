package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/model"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: "10", want: 1000},
		{input: "10.00", want: 1000},
		{input: "12.5", want: 1250},
		{input: " 0.01 ", want: 1},
		{input: "12.500", want: 1250},
		{input: "12.505", wantErr: true},
		{input: "0", wantErr: true},
		{input: "-3.00", wantErr: true},
		{input: "ten", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, common.HasCode(err, common.CodeTransactionInvalidAmount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "12.50 GBP", FormatAmount(1250, "GBP"))
	assert.Equal(t, "0.05 EUR", FormatAmount(5, "EUR"))
}

func TestFormatClassifiedError(t *testing.T) {
	tests := []struct {
		err      error
		name     string
		contains []string
	}{
		{
			name:     "auth failure asks for reconfiguration",
			err:      common.NewClassifiedError(common.CodeTerminalAuthFailed, ""),
			contains: []string{"TERMINAL_AUTH_FAILED", "till terminals add"},
		},
		{
			name:     "busy can be retried",
			err:      common.NewClassifiedError(common.CodeTerminalBusy, ""),
			contains: []string{"TERMINAL_BUSY", "retried"},
		},
		{
			name:     "raw errors are classified",
			err:      errors.New("kaboom"),
			contains: []string{"SYSTEM_UNKNOWN_ERROR", "kaboom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := FormatClassifiedError(tt.err)
			for _, want := range tt.contains {
				assert.Contains(t, out, want)
			}
		})
	}
	assert.Empty(t, FormatClassifiedError(nil))

	plain := FormatClassifiedError(common.NewUserError("No terminals configured", nil))
	assert.Contains(t, plain, "No terminals configured")
	assert.NotContains(t, plain, "SYSTEM_UNKNOWN_ERROR")
}

func TestFormatTransaction(t *testing.T) {
	completed := model.TransactionStatus{
		TransactionID: "tx-1",
		State:         model.StateCompleted,
		Kind:          model.KindSale,
		Amount:        1000,
		Currency:      "GBP",
		AuthCode:      "A1B2",
		Card:          &model.CardDetails{Brand: "visa", Last4: "4242"},
	}
	out := FormatTransaction(completed)
	assert.Contains(t, out, "Sale 10.00 GBP approved")
	assert.Contains(t, out, "A1B2")
	assert.Contains(t, out, "4242")

	failed := completed
	failed.State = model.StateFailed
	failed.Error = common.NewClassifiedError(common.CodeTransactionDeclined, "do not honor")
	assert.Contains(t, FormatTransaction(failed), "do not honor")

	pending := completed
	pending.State = model.StateProcessing
	pending.Progress = 50
	assert.Contains(t, FormatTransaction(pending), "50%")
}

func TestRenderReceipt(t *testing.T) {
	tests := []struct {
		status  model.TransactionStatus
		name    string
		want    []string
		without []string
	}{
		{
			name: "sale with card",
			status: model.TransactionStatus{
				TransactionID: "tx-9",
				State:         model.StateCompleted,
				Kind:          model.KindSale,
				Amount:        1250,
				Currency:      "GBP",
				AuthCode:      "ZX81",
				Card:          &model.CardDetails{Brand: "mastercard", Last4: "0005"},
			},
			want: []string{"Sale receipt", "tx-9", "12.50 GBP", "ZX81", "mastercard ending 0005"},
		},
		{
			name: "refund without auth code",
			status: model.TransactionStatus{
				TransactionID: "tx-10",
				State:         model.StateCompleted,
				Kind:          model.KindRefund,
				Amount:        300,
				Currency:      "EUR",
			},
			want:    []string{"Refund receipt", "tx-10", "3.00 EUR"},
			without: []string{"Auth code", "Card"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := RenderReceipt(tt.status)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			for _, w := range tt.without {
				assert.NotContains(t, out, w)
			}
		})
	}
}

func TestFormatScanTitle(t *testing.T) {
	out := FormatScanTitle("Scanning 10.0.0.0/30 (2 addresses)")
	assert.Contains(t, out, scanIcon)
	assert.Contains(t, out, "10.0.0.0/30")
}

func TestRenderTerminalConfigs(t *testing.T) {
	seen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := RenderTerminalConfigs(&buf, []model.TerminalConfig{
		{ID: "t1", Name: "Front desk", IPAddress: "192.168.1.50", Port: 8080, Enabled: true, LastSeen: &seen, LastStatus: model.StatusOnline},
		{ID: "t2", Name: "Bar", IPAddress: "192.168.1.51", Port: 8081},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "192.168.1.50:8080")
	assert.Contains(t, out, "Front desk")
	assert.Contains(t, out, "Never")
	assert.Contains(t, out, "online")
}

func TestRenderDiscovered(t *testing.T) {
	var buf bytes.Buffer
	err := RenderDiscovered(&buf, []model.Terminal{
		{IPAddress: "10.0.0.5", Port: 8080, Name: "Counter", Platform: model.PlatformPaydroid, Status: model.StatusOnline, FirmwareVersion: "2.4.1"},
		{IPAddress: "10.0.0.6", Port: 8080, Status: model.StatusOnline, RequiresAuth: true},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "10.0.0.5:8080")
	assert.Contains(t, buf.String(), "API key required")

	header, _, _ := strings.Cut(buf.String(), "\n")
	assert.Contains(t, header, "Endpoint")
	assert.Contains(t, header, "Status")
}
