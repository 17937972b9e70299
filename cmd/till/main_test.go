package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	want := []string{"scan", "terminals", "health", "sale", "refund", "serve", "keygen", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	for _, sub := range []string{"list", "add", "remove"} {
		cmd, _, err := rootCmd.Find([]string{"terminals", sub})
		require.NoError(t, err, sub)
		assert.Equal(t, sub, cmd.Name())
	}
}

func TestPaymentFlags(t *testing.T) {
	refund := refundCmd()
	for _, flag := range []string{"currency", "reference", "description", "original"} {
		assert.NotNil(t, refund.Flags().Lookup(flag), flag)
	}
	assert.Nil(t, saleCmd().Flags().Lookup("original"))
	assert.Equal(t, "GBP", saleCmd().Flags().Lookup("currency").DefValue)
}

func TestTerminalsListOutputFlag(t *testing.T) {
	flag := terminalsListCmd().Flags().Lookup("output")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
	assert.Equal(t, "o", flag.Shorthand)
}
