// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// ConnectionStatus is a terminal's last known reachability.
type ConnectionStatus string

// Connection status constants.
const (
	StatusOnline  ConnectionStatus = "online"
	StatusOffline ConnectionStatus = "offline"
	StatusBusy    ConnectionStatus = "busy"
)

// TerminalType distinguishes dedicated hardware from a phone or tablet
// acting as a terminal.
type TerminalType string

// Terminal types.
const (
	TerminalDedicated   TerminalType = "dedicated"
	TerminalDeviceBased TerminalType = "device-based"
)

// Platform is the operating system family a terminal runs.
type Platform string

// Known platforms.
const (
	PlatformAndroid  Platform = "android"
	PlatformPaydroid Platform = "paydroid"
	PlatformIOS      Platform = "ios"
)

// Capabilities lists how a terminal can accept a card.
type Capabilities struct {
	NFC        bool `json:"nfc"`
	Chip       bool `json:"chip"`
	Swipe      bool `json:"swipe"`
	CardReader bool `json:"cardReader"`
}

// Terminal is a discovered or configured payment device. IPAddress and Port
// identify the physical endpoint.
type Terminal struct {
	LastSeen        time.Time        `json:"lastSeen"`
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	IPAddress       string           `json:"ipAddress"`
	Status          ConnectionStatus `json:"status"`
	Type            TerminalType     `json:"terminalType"`
	Platform        Platform         `json:"platform"`
	FirmwareVersion string           `json:"firmwareVersion,omitempty"`
	APIKey          string           `json:"-"`
	Capabilities    Capabilities     `json:"capabilities"`
	Port            int              `json:"port"`
	// RequiresAuth marks a terminal that answered but rejected the probe's credentials.
	RequiresAuth bool `json:"requiresAuth"`
}

// Endpoint returns the host:port the terminal listens on.
func (t Terminal) Endpoint() string {
	return EndpointKey(t.IPAddress, t.Port)
}

// BaseURL returns the terminal's HTTP base URL.
func (t Terminal) BaseURL() string {
	return fmt.Sprintf("http://%s", t.Endpoint())
}

// SameDevice reports whether two records describe the same physical endpoint.
func (t Terminal) SameDevice(other Terminal) bool {
	return t.Endpoint() == other.Endpoint()
}

// EndpointKey formats ip and port as a host:port key.
func EndpointKey(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}
