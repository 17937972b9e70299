package discovery

import (
	"encoding/binary"
	"log/slog"
	"net"
	"strings"

	"github.com/Veraticus/tillpoint/internal/model"
)

// MaxAddresses caps how many addresses one scan enumerates.
const MaxAddresses = 256

// ExpandRange turns a range expression into candidate IPv4 addresses. It
// accepts a single address, CIDR notation, or "start-end". Invalid input
// logs a warning and yields nil.
func ExpandRange(expr string) []string {
	return expandRange(expr, slog.Default())
}

func expandRange(expr string, logger *slog.Logger) []string {
	expr = strings.TrimSpace(expr)

	switch {
	case strings.Contains(expr, "/"):
		addrs, ok := expandCIDR(expr)
		if !ok {
			logger.Warn("Invalid CIDR range", "range", expr)
		}
		return addrs
	case strings.Contains(expr, "-"):
		addrs, ok := expandSpan(expr)
		if !ok {
			logger.Warn("Invalid address range", "range", expr)
		}
		return addrs
	case model.IsIPv4(expr):
		return []string{expr}
	default:
		logger.Warn("Invalid scan range", "range", expr)
		return nil
	}
}

func expandCIDR(expr string) ([]string, bool) {
	ip, network, err := net.ParseCIDR(expr)
	if err != nil || ip.To4() == nil {
		return nil, false
	}
	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil, false
	}

	first := toUint32(network.IP.To4())
	size := uint64(1) << uint(32-ones)
	last := first + uint32(size-1)

	switch ones {
	case 32:
		return []string{fromUint32(first)}, true
	case 31:
		// Point-to-point links have no network or broadcast address.
		return []string{fromUint32(first), fromUint32(last)}, true
	}

	// Skip the network and broadcast addresses.
	start, end := first+1, last-1
	if uint64(end-start)+1 > MaxAddresses {
		end = start + MaxAddresses - 1
	}
	return enumerate(start, end), true
}

func expandSpan(expr string) ([]string, bool) {
	from, to, ok := strings.Cut(expr, "-")
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if !ok || !model.IsIPv4(from) || !model.IsIPv4(to) {
		return nil, false
	}

	start := toUint32(net.ParseIP(from).To4())
	end := toUint32(net.ParseIP(to).To4())
	if end < start {
		return []string{}, true
	}
	if end-start > MaxAddresses-1 {
		end = start + MaxAddresses - 1
	}
	return enumerate(start, end), true
}

func enumerate(start, end uint32) []string {
	addrs := make([]string, 0, end-start+1)
	for n := start; ; n++ {
		addrs = append(addrs, fromUint32(n))
		if n == end {
			break
		}
	}
	return addrs
}

func toUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip)
}

func fromUint32(n uint32) string {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)
	return ip.String()
}

// LocalNetworkRange returns the /24 of the first non-loopback IPv4
// interface, for pre-filling a scan range.
func LocalNetworkRange() (string, bool) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", false
	}

	var addrs []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		addrs = append(addrs, ifaceAddrs...)
	}
	return localRangeFrom(addrs)
}

func localRangeFrom(addrs []net.Addr) (string, bool) {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		ip4 := ip.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
			continue
		}
		return net.IPv4(ip4[0], ip4[1], ip4[2], 0).String() + "/24", true
	}
	return "", false
}
