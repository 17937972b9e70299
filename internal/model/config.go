package model

import (
	"net"
	"strings"
	"time"

	"github.com/Veraticus/tillpoint/internal/common"
)

// DeviceInfo is optional descriptive data kept with a configured terminal.
type DeviceInfo struct {
	Platform        string   `json:"platform,omitempty"`
	Model           string   `json:"model,omitempty"`
	FirmwareVersion string   `json:"firmwareVersion,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
}

// TerminalConfig is a persisted terminal definition. APIKey holds the
// plaintext key only on its way into the store; SealedAPIKey is what is
// persisted.
type TerminalConfig struct {
	DeviceInfo   *DeviceInfo      `json:"deviceInfo,omitempty"`
	LastSeen     *time.Time       `json:"lastSeen,omitempty"`
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	IPAddress    string           `json:"ipAddress"`
	APIKey       string           `json:"apiKey,omitempty"`
	SealedAPIKey string           `json:"sealedApiKey,omitempty"`
	TerminalType TerminalType     `json:"terminalType,omitempty"`
	LastStatus   ConnectionStatus `json:"lastStatus,omitempty"`
	Port         int              `json:"port"`
	Enabled      bool             `json:"enabled"`
	AutoConnect  bool             `json:"autoConnect"`
}

// Endpoint returns the configured host:port.
func (c TerminalConfig) Endpoint() string {
	return EndpointKey(c.IPAddress, c.Port)
}

// Validate checks the record's shape: a dotted-quad IPv4 address, a port in
// [1, 65535], and non-empty name and API key.
func (c TerminalConfig) Validate() error {
	opts := []common.ErrorOption{common.WithTerminal(c.ID)}

	if !IsIPv4(c.IPAddress) {
		return common.NewClassifiedError(common.CodeConfigInvalidIP,
			"Terminal IP address must be a dotted-quad IPv4 address",
			append(opts, common.WithContext("ipAddress", c.IPAddress))...)
	}
	if c.Port < 1 || c.Port > 65535 {
		return common.NewClassifiedError(common.CodeConfigInvalidPort,
			"Terminal port must be between 1 and 65535",
			append(opts, common.WithContext("port", c.Port))...)
	}
	if strings.TrimSpace(c.Name) == "" {
		return common.NewClassifiedError(common.CodeConfigTerminalNotConfigured,
			"Terminal name is required", opts...)
	}
	if strings.TrimSpace(c.APIKey) == "" && c.SealedAPIKey == "" {
		return common.NewClassifiedError(common.CodeConfigMissingAPIKey, "", opts...)
	}
	return nil
}

// IsIPv4 reports whether s is a dotted-quad IPv4 address.
func IsIPv4(s string) bool {
	if strings.Count(s, ".") != 3 || strings.Contains(s, ":") {
		return false
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}
