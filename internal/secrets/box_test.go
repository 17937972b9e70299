package secrets

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tillpoint/internal/common"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func TestBox_SealsAndOpens(t *testing.T) {
	box, err := NewBox(testKey(7))
	require.NoError(t, err)
	assert.True(t, box.Available())

	token, err := box.Encrypt("sk_live_123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, SealedPrefix))
	assert.NotContains(t, token, "sk_live_123")

	other, err := box.Encrypt("sk_live_123")
	require.NoError(t, err)
	assert.NotEqual(t, token, other, "nonces must differ")

	plain, err := box.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "sk_live_123", plain)
}

func TestBox_PlaintextFallback(t *testing.T) {
	box, err := NewBox(nil)
	require.NoError(t, err)
	assert.False(t, box.Available())

	token, err := box.Encrypt("dev-key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, PlainPrefix))

	plain, err := box.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "dev-key", plain)

	// A keyed box still opens plaintext tokens written before a key existed.
	keyed, err := NewBox(testKey(1))
	require.NoError(t, err)
	plain, err = keyed.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "dev-key", plain)
}

func TestBox_DecryptFailures(t *testing.T) {
	sealer, err := NewBox(testKey(1))
	require.NoError(t, err)
	token, err := sealer.Encrypt("secret")
	require.NoError(t, err)

	wrongKey, err := NewBox(testKey(2))
	require.NoError(t, err)
	noKey, err := NewBox(nil)
	require.NoError(t, err)

	tests := []struct {
		box      *Box
		name     string
		token    string
		wantCode common.ErrorCode
	}{
		{name: "wrong key", box: wrongKey, token: token, wantCode: common.CodeConfigInvalidCredentials},
		{name: "no key", box: noKey, token: token, wantCode: common.CodeConfigInvalidCredentials},
		{name: "unknown format", box: sealer, token: "hunter2", wantCode: common.CodeSystemDataCorruption},
		{name: "bad base64", box: sealer, token: SealedPrefix + "!!!", wantCode: common.CodeSystemDataCorruption},
		{name: "truncated", box: sealer, token: SealedPrefix + "AAAA", wantCode: common.CodeSystemDataCorruption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.box.Decrypt(tt.token)
			assert.True(t, common.HasCode(err, tt.wantCode), "got %v", err)
		})
	}

	_, err = noKey.Decrypt(token)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNewBox_KeyValidation(t *testing.T) {
	_, err := NewBox([]byte("short"))
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	_, err = NewBoxFromBase64("not base64!")
	assert.ErrorIs(t, err, common.ErrInvalidConfig)

	encoded, err := GenerateKey()
	require.NoError(t, err)
	box, err := NewBoxFromBase64(encoded)
	require.NoError(t, err)
	assert.True(t, box.Available())

	box, err = NewBoxFromBase64("")
	require.NoError(t, err)
	assert.False(t, box.Available())
}
