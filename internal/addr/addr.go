// Package addr implements node identity: an (IPv4, port) pair with the
// resolution rules the overlay uses to turn a "host:port" string into a
// routable address.
package addr

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// NodeAddress identifies a node by its IPv4 address and listening port.
// It is immutable once constructed.
type NodeAddress struct {
	IP   [4]byte
	Port uint16
}

// New builds a NodeAddress from an already-resolved IPv4 address and port.
func New(ip net.IP, port uint16) (NodeAddress, error) {
	v4 := ip.To4()
	if v4 == nil {
		return NodeAddress{}, fmt.Errorf("addr: %s is not an IPv4 address", ip)
	}
	var a NodeAddress
	copy(a.IP[:], v4)
	a.Port = port
	return a, nil
}

// Parse resolves "host:port" to a NodeAddress. If the host resolves to a
// loopback address, the local hostname is re-resolved in an attempt to
// find a non-loopback IPv4 address, per the addressing contract.
func Parse(hostport string) (NodeAddress, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("addr: parse %q: %w", hostport, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("addr: parse port %q: %w", portStr, err)
	}
	ip, err := resolveIPv4(host)
	if err != nil {
		return NodeAddress{}, err
	}
	if ip.IsLoopback() {
		if better, ok := nonLoopbackLocalIPv4(); ok {
			ip = better
		}
	}
	return New(ip, uint16(port))
}

func resolveIPv4(host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("addr: %s does not resolve to IPv4", host)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("addr: lookup %q: %w", host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("addr: %q has no IPv4 address", host)
}

// nonLoopbackLocalIPv4 re-resolves the local hostname, looking for a
// non-loopback IPv4 address to use instead of 127.0.0.1.
func nonLoopbackLocalIPv4() (net.IP, bool) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, false
	}
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil, false
	}
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil || v4.IsLoopback() {
			continue
		}
		return v4, true
	}
	return nil, false
}

// String renders "a.b.c.d:port".
func (a NodeAddress) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.Port)
}

// Equal compares both the IP and the port.
func (a NodeAddress) Equal(other NodeAddress) bool {
	return a.IP == other.IP && a.Port == other.Port
}

// IsZero reports whether a is the zero-value address.
func (a NodeAddress) IsZero() bool {
	return a.IP == [4]byte{} && a.Port == 0
}

// WithPort returns a copy of a with the port replaced.
func (a NodeAddress) WithPort(port uint16) NodeAddress {
	return NodeAddress{IP: a.IP, Port: port}
}

// ParseNeighborList decodes the ";"-separated "ip:port;ip:port;" wire
// format used by Neighbors responses. An empty or ";"-only string yields
// an empty, non-nil slice.
func ParseNeighborList(s string) ([]NodeAddress, error) {
	out := []NodeAddress{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		a, err := Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// EncodeNeighborList renders the ";"-separated wire format. An empty list
// encodes as the single byte ";".
func EncodeNeighborList(addrs []NodeAddress) string {
	if len(addrs) == 0 {
		return ";"
	}
	var b strings.Builder
	for _, a := range addrs {
		b.WriteString(a.String())
		b.WriteByte(';')
	}
	return b.String()
}
