package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Veraticus/tillpoint/internal/model"
)

func exportFixture() []model.TerminalConfig {
	return []model.TerminalConfig{{
		ID:           "t1",
		Name:         "Front counter",
		IPAddress:    "192.168.1.40",
		Port:         8080,
		APIKey:       "plain-key",
		SealedAPIKey: "enc:v1:abc",
		Enabled:      true,
	}}
}

func TestWriteTerminalConfigs(t *testing.T) {
	tests := []struct {
		decode func([]byte, any) error
		name   string
		format string
	}{
		{name: "json", format: FormatJSON, decode: json.Unmarshal},
		{name: "yaml", format: FormatYAML, decode: yaml.Unmarshal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteTerminalConfigs(&buf, exportFixture(), tt.format))

			assert.NotContains(t, buf.String(), "plain-key")
			assert.NotContains(t, buf.String(), "enc:v1")

			var records []terminalRecord
			require.NoError(t, tt.decode(buf.Bytes(), &records))
			require.Len(t, records, 1)
			assert.Equal(t, "t1", records[0].ID)
			assert.Equal(t, "192.168.1.40", records[0].IPAddress)
			assert.Equal(t, 8080, records[0].Port)
			assert.True(t, records[0].Enabled)
		})
	}
}

func TestWriteTerminalConfigs_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteTerminalConfigs(&buf, exportFixture(), "xml"))
}
