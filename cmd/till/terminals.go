package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tillpoint/internal/cli"
	"github.com/Veraticus/tillpoint/internal/model"
)

func terminalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terminals",
		Short: "Manage configured terminals",
	}

	cmd.AddCommand(terminalsListCmd())
	cmd.AddCommand(terminalsAddCmd())
	cmd.AddCommand(terminalsRemoveCmd())

	return cmd
}

func terminalsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured terminals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			format, _ := cmd.Flags().GetString("output")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			terminals, err := store.ListTerminals(ctx)
			if err != nil {
				return err
			}
			if format != cli.FormatTable {
				return cli.WriteTerminalConfigs(os.Stdout, terminals, format)
			}
			if len(terminals) == 0 {
				fmt.Println(cli.InfoStyle.Render("No terminals configured. Use 'till scan' then 'till terminals add'.")) //nolint:forbidigo // User-facing output
				return nil
			}

			fmt.Println(cli.FormatTitle("Terminals")) //nolint:forbidigo // User-facing output
			return cli.RenderTerminalConfigs(os.Stdout, terminals)
		},
	}

	cmd.Flags().StringP("output", "o", cli.FormatTable, "output format (table, json, yaml)")
	return cmd
}

func terminalsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name> <ip>",
		Short: "Add or update a terminal",
		Long: `Store a terminal's endpoint and API key. Passing --id updates an existing
terminal; omitting --api-key on update keeps the stored key.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, _ := cmd.Flags().GetString("id")
			port, _ := cmd.Flags().GetInt("port")
			apiKey, _ := cmd.Flags().GetString("api-key")
			disabled, _ := cmd.Flags().GetBool("disabled")
			skipCheck, _ := cmd.Flags().GetBool("skip-check")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			saved, err := store.SaveTerminal(ctx, model.TerminalConfig{
				ID:           id,
				Name:         args[0],
				IPAddress:    args[1],
				Port:         port,
				APIKey:       apiKey,
				TerminalType: model.TerminalDedicated,
				Enabled:      !disabled,
				AutoConnect:  true,
			})
			if err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Saved terminal %s (%s)", saved.Name, saved.ID))) //nolint:forbidigo // User-facing output

			if skipCheck || disabled {
				return nil
			}
			client, err := newClient(ctx, store, saved.ID)
			if err != nil {
				return err
			}
			if err := client.TestConnection(ctx, loaded.Discovery.ProbeTimeout); err != nil {
				fmt.Println(cli.FormatWarning("Saved, but the terminal did not answer:")) //nolint:forbidigo // User-facing output
				fmt.Println(cli.FormatClassifiedError(err))                               //nolint:forbidigo // User-facing output
				return nil
			}
			fmt.Println(cli.FormatSuccess("Terminal is reachable")) //nolint:forbidigo // User-facing output
			return nil
		},
	}

	cmd.Flags().String("id", "", "id of the terminal to update")
	cmd.Flags().Int("port", 8080, "terminal API port")
	cmd.Flags().String("api-key", "", "terminal API key")
	cmd.Flags().Bool("disabled", false, "store the terminal disabled")
	cmd.Flags().Bool("skip-check", false, "do not test the connection after saving")

	return cmd
}

func terminalsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a terminal",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			if err := store.DeleteTerminal(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess("Removed terminal " + args[0])) //nolint:forbidigo // User-facing output
			return nil
		},
	}
}
