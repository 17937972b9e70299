package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler turns Ctrl-C into a cancelled context and tells the
// operator what happens to the transaction in flight.
type InterruptHandler struct {
	writer      io.Writer
	cancelFunc  context.CancelFunc
	interrupted bool
	stopped     bool
	inFlight    bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{
		writer: writer,
	}
}

// HandleInterrupts returns a context cancelled on SIGINT, SIGTERM or
// cancellation of ctx. inFlight says whether a transaction is on the
// terminal and will be cancelled there.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context, inFlight bool) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.cancelFunc = cancel
	h.inFlight = inFlight

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
		case <-ctx.Done():
		}
		h.mu.Lock()
		if !h.interrupted && !h.stopped {
			h.interrupted = true
			h.showInterruptMessage()
		}
		h.mu.Unlock()
		cancel()
	}()

	return ctx
}

// Stop releases the handler without reporting an interrupt.
func (h *InterruptHandler) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	if h.cancelFunc != nil {
		h.cancelFunc()
	}
}

func (h *InterruptHandler) showInterruptMessage() {
	msg := "\n\n" + FormatWarning("Interrupted!")

	if h.inFlight {
		msg += "\n" + FormatInfo("Cancelling the transaction on the terminal. Check the terminal screen before retrying.")
	}

	msg += "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted returns true if the process was interrupted.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
