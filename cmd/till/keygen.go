package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/tillpoint/internal/cli"
	"github.com/Veraticus/tillpoint/internal/secrets"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key for sealing terminal API keys",
		Long: `Print a new random key. Put it in secrets.key (or TILL_SECRETS_KEY) to
store terminal API keys encrypted. Keys saved before the change stay
readable.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			key, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			warning := cli.SubtleStyle.Render("Keep this key safe; sealed API keys cannot be read without it.")
			fmt.Println(key)     //nolint:forbidigo // User-facing output
			fmt.Println(warning) //nolint:forbidigo // User-facing output
			return nil
		},
	}
}
