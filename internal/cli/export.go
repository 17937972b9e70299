package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/tillpoint/internal/model"
)

// Output formats for listings.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// terminalRecord is the exported shape of a configured terminal. API keys,
// sealed or not, are never written.
type terminalRecord struct {
	LastSeen     *time.Time `json:"lastSeen,omitempty" yaml:"last_seen,omitempty"`
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	IPAddress    string     `json:"ipAddress" yaml:"ip_address"`
	TerminalType string     `json:"terminalType,omitempty" yaml:"terminal_type,omitempty"`
	LastStatus   string     `json:"lastStatus,omitempty" yaml:"last_status,omitempty"`
	Port         int        `json:"port" yaml:"port"`
	Enabled      bool       `json:"enabled" yaml:"enabled"`
	AutoConnect  bool       `json:"autoConnect" yaml:"auto_connect"`
}

// WriteTerminalConfigs writes terminals in the given format.
func WriteTerminalConfigs(w io.Writer, terminals []model.TerminalConfig, format string) error {
	records := make([]terminalRecord, 0, len(terminals))
	for _, t := range terminals {
		records = append(records, terminalRecord{
			LastSeen:     t.LastSeen,
			ID:           t.ID,
			Name:         t.Name,
			IPAddress:    t.IPAddress,
			TerminalType: string(t.TerminalType),
			LastStatus:   string(t.LastStatus),
			Port:         t.Port,
			Enabled:      t.Enabled,
			AutoConnect:  t.AutoConnect,
		})
	}

	switch format {
	case FormatTable, "":
		return RenderTerminalConfigs(w, terminals)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	case FormatYAML:
		data, err := yaml.Marshal(records)
		if err != nil {
			return fmt.Errorf("failed to encode terminals: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}
