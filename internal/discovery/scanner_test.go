package discovery

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tillpoint/internal/model"
	"github.com/Veraticus/tillpoint/internal/testutil"
)

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestScanner_FindsTerminal(t *testing.T) {
	fake := testutil.NewFakeTerminal(t)
	scanner := NewScanner(
		WithPorts(closedPort(t), fake.Port()),
		WithProbeTimeout(time.Second),
	)

	var progress []Progress
	found := scanner.Scan(context.Background(), fake.IP(), func(p Progress) {
		progress = append(progress, p)
	})

	require.Len(t, found, 1)
	term := found[0]
	assert.Equal(t, "fake-terminal-1", term.ID)
	assert.Equal(t, "Counter 1", term.Name)
	assert.Equal(t, fake.Port(), term.Port)
	assert.Equal(t, model.StatusOnline, term.Status)
	assert.Equal(t, model.PlatformPaydroid, term.Platform)
	assert.Equal(t, model.TerminalDedicated, term.Type)
	assert.Equal(t, model.Capabilities{NFC: true, Chip: true, Swipe: true, CardReader: true}, term.Capabilities)
	assert.False(t, term.RequiresAuth)
	assert.Equal(t, "2.4.1", term.FirmwareVersion)

	assert.Equal(t, []Progress{{Scanned: 1, Total: 1, Found: 1}}, progress)
}

func TestScanner_UnauthenticatedTerminalIsFound(t *testing.T) {
	fake := testutil.NewFakeTerminal(t, testutil.WithFakeAPIKey("secret"))
	scanner := NewScanner(WithPorts(fake.Port()), WithProbeTimeout(time.Second))

	term, ok := scanner.Probe(context.Background(), fake.IP())
	require.True(t, ok)
	assert.True(t, term.RequiresAuth)
	assert.Equal(t, model.StatusOnline, term.Status)
	assert.Equal(t, EndpointID(fake.IP(), fake.Port()), term.ID)

	authed := NewScanner(WithPorts(fake.Port()), WithAPIKey("secret"))
	term, ok = authed.Probe(context.Background(), fake.IP())
	require.True(t, ok)
	assert.False(t, term.RequiresAuth)
	assert.Equal(t, "fake-terminal-1", term.ID)
}

func TestScanner_FoundIsDecidedByStatusCode(t *testing.T) {
	tests := []struct {
		name             string
		body             string
		status           int
		wantFound        bool
		wantRequiresAuth bool
	}{
		{name: "2xx with unreadable body", status: http.StatusOK, body: "<html>ok</html>", wantFound: true},
		{name: "401 carrying a payload code", status: http.StatusUnauthorized, body: `{"error":"BUSY"}`, wantFound: true, wantRequiresAuth: true},
		{name: "401 without body", status: http.StatusUnauthorized, wantFound: true, wantRequiresAuth: true},
		{name: "404", status: http.StatusNotFound, body: `{}`},
		{name: "503 busy", status: http.StatusServiceUnavailable, body: `{"error":"BUSY"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(srv.Close)
			addr := srv.Listener.Addr().(*net.TCPAddr)

			scanner := NewScanner(WithPorts(addr.Port), WithProbeTimeout(time.Second))
			term, ok := scanner.Probe(context.Background(), addr.IP.String())

			require.Equal(t, tt.wantFound, ok)
			if !tt.wantFound {
				return
			}
			assert.Equal(t, tt.wantRequiresAuth, term.RequiresAuth)
			assert.Equal(t, EndpointID(addr.IP.String(), addr.Port), term.ID)
			assert.Equal(t, addr.Port, term.Port)
			assert.Equal(t, model.StatusOnline, term.Status)
		})
	}
}

func TestScanner_ReportsProgressPerBatch(t *testing.T) {
	scanner := NewScanner(
		WithPorts(closedPort(t)),
		WithBatchSize(5),
		WithProbeTimeout(500*time.Millisecond),
	)

	var progress []Progress
	found := scanner.Scan(context.Background(), "127.0.0.1-127.0.0.12", func(p Progress) {
		progress = append(progress, p)
	})

	assert.Empty(t, found)
	assert.Equal(t, []Progress{
		{Scanned: 5, Total: 12, Found: 0},
		{Scanned: 10, Total: 12, Found: 0},
		{Scanned: 12, Total: 12, Found: 0},
	}, progress)
}

func TestScanner_InvalidRangeYieldsEmptyResult(t *testing.T) {
	called := false
	found := NewScanner().Scan(context.Background(), "garbage", func(Progress) { called = true })
	assert.NotNil(t, found)
	assert.Empty(t, found)
	assert.False(t, called)
}

func TestScanner_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	found := NewScanner(WithPorts(closedPort(t))).Scan(ctx, "127.0.0.0/24", nil)
	assert.Empty(t, found)
}

func TestDetection(t *testing.T) {
	tests := []struct {
		name         string
		status       model.StatusResponse
		wantPlatform model.Platform
		wantType     model.TerminalType
		wantCaps     model.Capabilities
	}{
		{
			name:         "ios phone",
			status:       model.StatusResponse{Platform: "iOS 17", Capabilities: []string{"contactless"}},
			wantPlatform: model.PlatformIOS,
			wantType:     model.TerminalDeviceBased,
			wantCaps:     model.Capabilities{NFC: true},
		},
		{
			name:         "unknown platform defaults to android",
			status:       model.StatusResponse{Platform: "linux", NFCEnabled: true, HasCardReader: true},
			wantPlatform: model.PlatformAndroid,
			wantType:     model.TerminalDeviceBased,
			wantCaps:     model.Capabilities{NFC: true, CardReader: true},
		},
		{
			name:         "explicit dedicated device type",
			status:       model.StatusResponse{Platform: "android", DeviceType: "Dedicated", Capabilities: []string{"EMV", "msr"}},
			wantPlatform: model.PlatformAndroid,
			wantType:     model.TerminalDedicated,
			wantCaps:     model.Capabilities{Chip: true, Swipe: true, CardReader: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := detectPlatform(tt.status.Platform)
			assert.Equal(t, tt.wantPlatform, platform)
			assert.Equal(t, tt.wantType, detectType(tt.status.DeviceType, platform))
			assert.Equal(t, tt.wantCaps, detectCapabilities(&tt.status))
		})
	}
}

func TestEndpointIDIsStable(t *testing.T) {
	assert.Equal(t, EndpointID("10.0.0.5", 8080), EndpointID("10.0.0.5", 8080))
	assert.NotEqual(t, EndpointID("10.0.0.5", 8080), EndpointID("10.0.0.5", 8081))
}
