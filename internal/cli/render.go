package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/model"
)

// minorUnitExponent is the number of decimal places in the supported
// currencies' minor unit.
const minorUnitExponent = 2

// FormatClassifiedError renders err for the operator with its code and a
// hint about what to do next.
func FormatClassifiedError(err error) string {
	if err == nil {
		return ""
	}
	var userErr *common.UserError
	if errors.As(err, &userErr) && !errors.As(err, new(*common.ClassifiedError)) {
		return FormatError(userErr.UserMessage)
	}

	var ce *common.ClassifiedError
	if !errors.As(err, &ce) {
		ce = common.Classify(err, common.ErrorContext{})
	}

	line := fmt.Sprintf("%s %s (%s)", ErrorIcon, ce.Message, ce.Code)
	switch ce.Severity {
	case common.SeverityCritical:
		line = CriticalStyle.Render(line)
	case common.SeverityLow:
		line = WarningStyle.Render(line)
	default:
		line = ErrorStyle.Render(line)
	}

	switch {
	case ce.NeedsReconfiguration() || ce.Category == common.CategoryConfiguration:
		line += "\n" + FormatInfo("Check the terminal's IP address, port and API key with 'till terminals add'.")
	case ce.Retryable:
		line += "\n" + FormatInfo("This can be retried.")
	}
	return line
}

// StatusBadge renders a connection status with its icon.
func StatusBadge(status model.ConnectionStatus) string {
	switch status {
	case model.StatusOnline:
		return SuccessStyle.Render(OnlineIcon + " online")
	case model.StatusBusy:
		return WarningStyle.Render(OnlineIcon + " busy")
	case model.StatusOffline:
		return ErrorStyle.Render(OfflineIcon + " offline")
	default:
		return SubtleStyle.Render(OfflineIcon + " unknown")
	}
}

// RenderTerminalConfigs writes configured terminals as a table.
func RenderTerminalConfigs(w io.Writer, terminals []model.TerminalConfig) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
		TableHeaderStyle.Render("ID"),
		TableHeaderStyle.Render("Name"),
		TableHeaderStyle.Render("Endpoint"),
		TableHeaderStyle.Render("Enabled"),
		TableHeaderStyle.Render("Last Seen")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, t := range terminals {
		lastSeen := "Never"
		if t.LastSeen != nil {
			lastSeen = t.LastSeen.Local().Format("2006-01-02 15:04")
		}
		enabled := "yes"
		if !t.Enabled {
			enabled = "no"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s %s\n",
			t.ID, t.Name, t.Endpoint(), enabled, lastSeen, StatusBadge(t.LastStatus)); err != nil {
			return fmt.Errorf("failed to write terminal row: %w", err)
		}
	}
	return tw.Flush()
}

// RenderDiscovered writes terminals found by a scan as a table.
func RenderDiscovered(w io.Writer, terminals []model.Terminal) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
		TableHeaderStyle.Render("Endpoint"),
		TableHeaderStyle.Render("Name"),
		TableHeaderStyle.Render("Platform"),
		TableHeaderStyle.Render("Firmware"),
		TableHeaderStyle.Render("Status")); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, t := range terminals {
		status := StatusBadge(t.Status)
		if t.RequiresAuth {
			status += " " + WarningStyle.Render("(API key required)")
		}
		firmware := t.FirmwareVersion
		if firmware == "" {
			firmware = "-"
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.Endpoint(), t.Name, t.Platform, firmware, status); err != nil {
			return fmt.Errorf("failed to write terminal row: %w", err)
		}
	}
	return tw.Flush()
}

// ParseAmount converts an operator-entered amount such as "12.50" into
// minor units.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, common.NewClassifiedError(common.CodeTransactionInvalidAmount,
			fmt.Sprintf("%q is not an amount", s), common.WithCause(err))
	}
	if !d.IsPositive() {
		return 0, common.NewClassifiedError(common.CodeTransactionInvalidAmount, "Amount must be greater than zero")
	}
	if d.Exponent() < -minorUnitExponent && !d.Equal(d.Truncate(minorUnitExponent)) {
		return 0, common.NewClassifiedError(common.CodeTransactionInvalidAmount,
			fmt.Sprintf("Amount %s has more than %d decimal places", s, minorUnitExponent))
	}
	return d.Shift(minorUnitExponent).IntPart(), nil
}

// FormatAmount renders minor units as "12.50 GBP".
func FormatAmount(minor int64, currency string) string {
	return decimal.New(minor, -minorUnitExponent).StringFixed(minorUnitExponent) + " " + currency
}

// FormatTransaction renders a transaction status line.
func FormatTransaction(status model.TransactionStatus) string {
	amount := FormatAmount(status.Amount, status.Currency)
	switch status.State {
	case model.StateCompleted:
		line := fmt.Sprintf("%s %s approved", kindLabel(status.Kind), amount)
		if status.AuthCode != "" {
			line += " (auth " + status.AuthCode + ")"
		}
		if status.Card != nil && status.Card.Last4 != "" {
			line += fmt.Sprintf(" %s ending %s", status.Card.Brand, status.Card.Last4)
		}
		return FormatSuccess(line)
	case model.StateFailed:
		if status.Error != nil {
			return FormatClassifiedError(status.Error)
		}
		return FormatError(fmt.Sprintf("Transaction %s failed", status.TransactionID))
	case model.StateCancelled:
		return FormatWarning(fmt.Sprintf("Transaction %s cancelled", status.TransactionID))
	default:
		msg := status.Message
		if msg == "" {
			msg = string(status.State)
		}
		return FormatInfo(fmt.Sprintf("%s: %s (%d%%)", amount, msg, status.Progress))
	}
}

// RenderReceipt boxes the details of a completed transaction.
func RenderReceipt(status model.TransactionStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transaction  %s\n", status.TransactionID)
	fmt.Fprintf(&b, "Amount       %s", FormatAmount(status.Amount, status.Currency))
	if status.AuthCode != "" {
		fmt.Fprintf(&b, "\nAuth code    %s", status.AuthCode)
	}
	if status.Card != nil && status.Card.Last4 != "" {
		fmt.Fprintf(&b, "\nCard         %s ending %s", status.Card.Brand, status.Card.Last4)
	}
	return renderBox(kindLabel(status.Kind)+" receipt", b.String())
}

func kindLabel(kind model.TransactionKind) string {
	if kind == model.KindRefund {
		return "Refund"
	}
	return "Sale"
}
