package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/tillpoint/internal/discovery"
	"github.com/Veraticus/tillpoint/internal/model"
)

// ScanProgress draws a progress bar fed by the scanner's progress callback.
type ScanProgress struct {
	bar    *progressbar.ProgressBar
	writer io.Writer
	found  int
}

// NewScanProgress creates a bar for a scan of total addresses.
func NewScanProgress(w io.Writer, total int) *ScanProgress {
	p := &ScanProgress{writer: w}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]Scanning...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
	return p
}

// Update is a discovery.ProgressFunc.
func (p *ScanProgress) Update(progress discovery.Progress) {
	if progress.Found != p.found {
		p.found = progress.Found
		p.bar.Describe(fmt.Sprintf("[cyan][bold]Scanning...[reset] %d found", progress.Found))
	}
	if err := p.bar.Set(progress.Scanned); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

// Finish completes the bar even when the scan stopped early.
func (p *ScanProgress) Finish() {
	if err := p.bar.Finish(); err != nil {
		slog.Warn("Failed to finish progress bar", "error", err)
	}
}

// TransactionProgress shows a transaction's progress as the monitor
// reports it.
type TransactionProgress struct {
	bar   *progressbar.ProgressBar
	state model.TransactionState
}

// NewTransactionProgress creates a bar running from 0 to 100.
func NewTransactionProgress(w io.Writer) *TransactionProgress {
	return &TransactionProgress{
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetWriter(w),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan][bold]Waiting for terminal...[reset]"),
			progressbar.OptionOnCompletion(func() {
				if _, err := fmt.Fprintln(w); err != nil {
					slog.Warn("Failed to write newline after progress bar", "error", err)
				}
			}),
		),
	}
}

// Update is a monitor listener.
func (p *TransactionProgress) Update(status model.TransactionStatus) {
	if status.State != p.state {
		p.state = status.State
		desc := status.Message
		if desc == "" {
			desc = string(status.State)
		}
		p.bar.Describe("[cyan][bold]" + desc + "[reset]")
	}
	if err := p.bar.Set(status.Progress); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
	if status.State.IsTerminal() {
		if err := p.bar.Finish(); err != nil {
			slog.Warn("Failed to finish progress bar", "error", err)
		}
	}
}
