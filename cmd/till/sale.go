package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tillpoint/internal/cli"
	"github.com/Veraticus/tillpoint/internal/model"
	"github.com/Veraticus/tillpoint/internal/monitor"
)

func saleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sale <terminal-id> <amount>",
		Short: "Take a card payment",
		Long: `Send a sale to a terminal and follow it until the card holder completes
or abandons it. The amount is in major units, e.g. 12.50. Ctrl-C cancels the
transaction on the terminal.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransaction(cmd, model.KindSale, args)
		},
	}
	addPaymentFlags(cmd)
	return cmd
}

func refundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refund <terminal-id> <amount>",
		Short: "Refund a card payment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransaction(cmd, model.KindRefund, args)
		},
	}
	addPaymentFlags(cmd)
	cmd.Flags().String("original", "", "id of the sale being refunded")
	return cmd
}

func addPaymentFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("currency", "c", "GBP", "ISO 4217 currency code")
	cmd.Flags().String("reference", "", "merchant reference (default: generated)")
	cmd.Flags().String("description", "", "description shown on the terminal")
}

func runTransaction(cmd *cobra.Command, kind model.TransactionKind, args []string) error {
	id := args[0]
	amount, err := cli.ParseAmount(args[1])
	if err != nil {
		return err
	}

	currency, _ := cmd.Flags().GetString("currency")
	reference, _ := cmd.Flags().GetString("reference")
	description, _ := cmd.Flags().GetString("description")

	store, err := initStorage(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStorage(store)

	client, err := newClient(cmd.Context(), store, id)
	if err != nil {
		return err
	}

	progress := cli.NewTransactionProgress(os.Stderr)
	mon := monitor.New(client,
		monitor.WithPollInterval(loaded.Monitor.PollInterval),
		monitor.WithListener(progress.Update))
	defer mon.Reset()

	interrupts := cli.NewInterruptHandler(os.Stderr)
	ctx := interrupts.HandleInterrupts(cmd.Context(), true)
	defer interrupts.Stop()

	opts := monitor.PaymentOptions{Reference: reference, Description: description}
	if kind == model.KindRefund {
		original, _ := cmd.Flags().GetString("original")
		_, err = mon.InitiateRefund(ctx, amount, currency, original, opts)
	} else {
		_, err = mon.Initiate(ctx, amount, currency, opts)
	}
	if err != nil {
		return err
	}

	fmt.Println(cli.FormatInfo(fmt.Sprintf("Present card for %s", cli.FormatAmount(amount, currency)))) //nolint:forbidigo // User-facing output

	select {
	case <-mon.Done():
	case <-ctx.Done():
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mon.Cancel(cancelCtx)
	}

	status, ok := mon.Status()
	if !ok {
		return nil
	}
	if status.State == model.StateFailed && status.Error != nil {
		return status.Error
	}
	fmt.Println(cli.FormatTransaction(status)) //nolint:forbidigo // User-facing output
	if status.State == model.StateCompleted {
		fmt.Println(cli.RenderReceipt(status)) //nolint:forbidigo // User-facing output
	}
	return nil
}
