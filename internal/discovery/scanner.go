// Package discovery finds payment terminals on the local network.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/model"
	"github.com/Veraticus/tillpoint/internal/terminal"
)

// Scanner defaults.
const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultBatchSize    = 10
)

// DefaultPorts are probed on every candidate address, in order.
func DefaultPorts() []int {
	return []int{8080, 8081, 3000}
}

// Progress is reported after each batch.
type Progress struct {
	Scanned int
	Total   int
	Found   int
}

// ProgressFunc receives scan progress.
type ProgressFunc func(Progress)

// Scanner probes addresses for the terminal status endpoint.
type Scanner struct {
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time
	apiKey       string
	ports        []int
	probeTimeout time.Duration
	batchSize    int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPorts sets the candidate ports.
func WithPorts(ports ...int) Option {
	return func(s *Scanner) {
		if len(ports) > 0 {
			s.ports = ports
		}
	}
}

// WithProbeTimeout bounds each status request.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithBatchSize sets how many addresses are probed concurrently.
func WithBatchSize(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithHTTPClient sets the HTTP client shared by all probes.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Scanner) {
		s.httpClient = c
	}
}

// WithLogger sets the scanner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// WithAPIKey sends a bearer token with every probe.
func WithAPIKey(key string) Option {
	return func(s *Scanner) {
		s.apiKey = key
	}
}

// NewScanner creates a scanner.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		httpClient:   &http.Client{},
		logger:       common.ComponentLogger("discovery"),
		now:          time.Now,
		ports:        DefaultPorts(),
		probeTimeout: DefaultProbeTimeout,
		batchSize:    DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan probes every address in expr and returns the terminals found, one per
// endpoint. Batches run one after another; a probe that fails or times out
// never affects its siblings. Scan stops early when ctx is cancelled and
// returns what it found so far.
func (s *Scanner) Scan(ctx context.Context, expr string, onProgress ProgressFunc) []model.Terminal {
	addrs := expandRange(expr, s.logger)
	if len(addrs) == 0 {
		return []model.Terminal{}
	}

	s.logger.Info("Scanning for terminals", "range", expr, "addresses", len(addrs), "ports", s.ports)
	start := s.now()

	found := make([]model.Terminal, 0)
	seen := make(map[string]int)

	for offset := 0; offset < len(addrs); offset += s.batchSize {
		if ctx.Err() != nil {
			break
		}

		batch := addrs[offset:min(offset+s.batchSize, len(addrs))]
		results := make([]*model.Terminal, len(batch))

		var g errgroup.Group
		for i, ip := range batch {
			g.Go(func() error {
				if t, ok := s.Probe(ctx, ip); ok {
					results[i] = &t
				}
				return nil
			})
		}
		_ = g.Wait()

		for _, t := range results {
			if t == nil {
				continue
			}
			if idx, dup := seen[t.Endpoint()]; dup {
				found[idx] = *t
				continue
			}
			seen[t.Endpoint()] = len(found)
			found = append(found, *t)
		}

		if onProgress != nil {
			onProgress(Progress{
				Scanned: offset + len(batch),
				Total:   len(addrs),
				Found:   len(found),
			})
		}
	}

	s.logger.Info("Scan finished", "found", len(found), "duration", s.now().Sub(start))
	return found
}

// Probe checks one address on each candidate port. The first port answering
// the status endpoint with 2xx, or with 401 for the probe's credentials,
// wins. A 2xx whose body cannot be read still counts, with default
// capabilities.
func (s *Scanner) Probe(ctx context.Context, ip string) (model.Terminal, bool) {
	single := common.SingleAttemptPolicy()

	for _, port := range s.ports {
		if ctx.Err() != nil {
			return model.Terminal{}, false
		}

		client, err := terminal.NewClient(terminal.Config{
			HTTPClient:  s.httpClient,
			Logger:      s.logger,
			RetryPolicy: &single,
			IPAddress:   ip,
			APIKey:      s.apiKey,
			Port:        port,
			Timeout:     s.probeTimeout,
		})
		if err != nil {
			s.logger.Debug("Skipping invalid endpoint", "ip", ip, "port", port, "error", err)
			return model.Terminal{}, false
		}

		status, err := client.Status(ctx)
		if err == nil {
			t := s.terminalFromStatus(ip, port, status)
			s.logger.Info("Terminal found", "ip", ip, "port", port, "terminal", t.ID)
			return t, true
		}

		code, answered := statusCode(err)
		switch {
		case answered && code == http.StatusUnauthorized:
			t := s.unauthenticatedTerminal(ip, port)
			s.logger.Info("Terminal found, authentication required", "ip", ip, "port", port)
			return t, true
		case answered && code >= 200 && code < 300:
			t := s.terminalFromStatus(ip, port, &model.StatusResponse{Status: "ready"})
			s.logger.Warn("Terminal found with unreadable status", "ip", ip, "port", port, "error", err)
			return t, true
		default:
			s.logger.Debug("No terminal on port", "ip", ip, "port", port, "error", err)
		}
	}
	return model.Terminal{}, false
}

func (s *Scanner) terminalFromStatus(ip string, port int, status *model.StatusResponse) model.Terminal {
	platform := detectPlatform(status.Platform)
	caps := detectCapabilities(status)

	t := model.Terminal{
		LastSeen:        s.now(),
		ID:              status.TerminalID,
		Name:            status.DeviceName,
		IPAddress:       ip,
		Port:            port,
		Status:          status.ConnectionStatus(),
		Type:            detectType(status.DeviceType, platform),
		Platform:        platform,
		FirmwareVersion: status.FirmwareVersion,
		Capabilities:    caps,
	}
	if t.ID == "" {
		t.ID = EndpointID(ip, port)
	}
	if t.Name == "" {
		t.Name = fmt.Sprintf("Terminal %s", t.Endpoint())
	}
	return t
}

func (s *Scanner) unauthenticatedTerminal(ip string, port int) model.Terminal {
	t := model.Terminal{
		LastSeen:     s.now(),
		ID:           EndpointID(ip, port),
		IPAddress:    ip,
		Port:         port,
		Status:       model.StatusOnline,
		Type:         model.TerminalDeviceBased,
		Platform:     model.PlatformAndroid,
		RequiresAuth: true,
	}
	t.Name = fmt.Sprintf("Terminal %s", t.Endpoint())
	return t
}

// statusCode returns the HTTP status a terminal answered with, if the
// failure came from a response at all.
func statusCode(err error) (int, bool) {
	var ce *common.ClassifiedError
	if !errors.As(err, &ce) {
		return 0, false
	}
	code, ok := ce.Context["statusCode"].(int)
	return code, ok
}

// EndpointID derives a stable id for a terminal that did not report one.
func EndpointID(ip string, port int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("http://"+model.EndpointKey(ip, port))).String()
}

func detectPlatform(raw string) model.Platform {
	raw = strings.ToLower(raw)
	switch {
	case strings.Contains(raw, "paydroid"):
		return model.PlatformPaydroid
	case strings.Contains(raw, "ios"):
		return model.PlatformIOS
	default:
		return model.PlatformAndroid
	}
}

func detectType(raw string, platform model.Platform) model.TerminalType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dedicated", "terminal", "pos":
		return model.TerminalDedicated
	case "device-based", "device", "phone", "tablet", "mobile":
		return model.TerminalDeviceBased
	}
	if platform == model.PlatformPaydroid {
		return model.TerminalDedicated
	}
	return model.TerminalDeviceBased
}

func detectCapabilities(status *model.StatusResponse) model.Capabilities {
	caps := model.Capabilities{
		NFC:        status.NFCEnabled,
		CardReader: status.HasCardReader,
	}
	for _, c := range status.Capabilities {
		switch strings.ToLower(strings.TrimSpace(c)) {
		case "nfc", "contactless", "tap":
			caps.NFC = true
		case "chip", "emv", "icc":
			caps.Chip = true
		case "swipe", "magstripe", "msr":
			caps.Swipe = true
		case "card_reader", "cardreader":
			caps.CardReader = true
		}
	}
	if caps.Chip || caps.Swipe {
		caps.CardReader = true
	}
	return caps
}
