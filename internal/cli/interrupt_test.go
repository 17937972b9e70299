package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer provides thread-safe access to a bytes.Buffer.
type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (s *syncBuffer) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestNewInterruptHandler(t *testing.T) {
	tests := []struct {
		writer io.Writer
		name   string
	}{
		{
			name:   "with custom writer",
			writer: &bytes.Buffer{},
		},
		{
			name:   "with nil writer",
			writer: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInterruptHandler(tt.writer)
			assert.NotNil(t, handler)
			assert.NotNil(t, handler.writer)
			assert.False(t, handler.interrupted)
		})
	}
}

func TestHandleInterrupts(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx, cancel := context.WithCancel(context.Background())
	ctx = handler.HandleInterrupts(ctx, true)

	// Context should not be canceled initially
	select {
	case <-ctx.Done():
		t.Fatal("Context should not be canceled initially")
	default:
	}

	cancel()

	time.Sleep(50 * time.Millisecond)

	assert.True(t, handler.WasInterrupted())
	outputStr := output.String()
	assert.Contains(t, outputStr, "Interrupted!")
	assert.Contains(t, outputStr, "Cancelling the transaction")
}

func TestHandleInterrupts_NoProgress(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx, cancel := context.WithCancel(context.Background())
	_ = handler.HandleInterrupts(ctx, false)

	cancel()

	time.Sleep(50 * time.Millisecond)

	assert.True(t, handler.WasInterrupted())
	outputStr := output.String()
	assert.Contains(t, outputStr, "Interrupted!")
	assert.NotContains(t, outputStr, "Cancelling the transaction")
}

func TestMultipleInterrupts(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx, cancel := context.WithCancel(context.Background())
	_ = handler.HandleInterrupts(ctx, true)

	cancel()

	time.Sleep(50 * time.Millisecond)

	// Message should only be shown once
	outputStr := output.String()
	count := strings.Count(outputStr, "Interrupted!")
	assert.Equal(t, 1, count, "Interrupt message should only be shown once")
}

func TestShowInterruptMessage(t *testing.T) {
	tests := []struct {
		name        string
		expected    []string
		notExpected []string
		inFlight    bool
	}{
		{
			name:     "transaction in flight",
			inFlight: true,
			expected: []string{
				"Interrupted!",
				"Cancelling the transaction",
			},
			notExpected: []string{},
		},
		{
			name:     "nothing in flight",
			inFlight: false,
			expected: []string{
				"Interrupted!",
			},
			notExpected: []string{
				"Cancelling the transaction",
				"Check the terminal screen",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var output bytes.Buffer
			handler := &InterruptHandler{
				writer:   &output,
				inFlight: tt.inFlight,
			}

			handler.showInterruptMessage()

			outputStr := output.String()
			for _, expected := range tt.expected {
				assert.Contains(t, outputStr, expected)
			}
			for _, notExpected := range tt.notExpected {
				assert.NotContains(t, outputStr, notExpected)
			}
		})
	}
}

func TestStop_IsNotAnInterrupt(t *testing.T) {
	output := &syncBuffer{}
	handler := NewInterruptHandler(output)

	ctx := handler.HandleInterrupts(context.Background(), true)
	handler.Stop()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should be released by Stop")
	}
	time.Sleep(20 * time.Millisecond)

	assert.False(t, handler.WasInterrupted())
	assert.Empty(t, output.String())
}
