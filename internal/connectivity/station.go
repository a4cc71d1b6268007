package connectivity

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// LinkStation reports on a host network interface. Joining the network is
// left to the host (NetworkManager, wpa_supplicant, systemd-networkd), so
// Connect only checks that the interface exists; readiness means the link is
// up with a global unicast IPv4 address.
type LinkStation struct {
	name       string
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

// NewLinkStation returns a station for the named interface, for example wlan0.
func NewLinkStation(name string) (*LinkStation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("connectivity: interface name must be provided")
	}
	return &LinkStation{
		name:       name,
		interfaces: net.Interfaces,
		addrs:      func(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() },
	}, nil
}

// Activate verifies the interface exists.
func (s *LinkStation) Activate() error {
	_, err := s.lookup()
	return err
}

// Connect is a no-op beyond Activate; association is owned by the host.
func (s *LinkStation) Connect(_, _ string) error {
	return s.Activate()
}

// IsConnected reports whether the link is up with a usable address.
func (s *LinkStation) IsConnected() bool {
	return s.LocalAddress() != ""
}

// LocalAddress returns the first global unicast IPv4 address, or "".
func (s *LinkStation) LocalAddress() string {
	iface, err := s.lookup()
	if err != nil || iface.Flags&net.FlagUp == 0 {
		return ""
	}
	addrs, err := s.addrs(iface)
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && ip4.IsGlobalUnicast() {
			return ip4.String()
		}
	}
	return ""
}

func (s *LinkStation) lookup() (net.Interface, error) {
	ifaces, err := s.interfaces()
	if err != nil {
		return net.Interface{}, fmt.Errorf("connectivity: list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Name == s.name {
			return iface, nil
		}
	}
	return net.Interface{}, fmt.Errorf("connectivity: interface %s not found", s.name)
}

// StaticStation is always connected. It is used on hosts where the network is
// managed entirely outside the agent.
type StaticStation struct {
	Address string
}

// Activate implements Station.
func (StaticStation) Activate() error { return nil }

// Connect implements Station.
func (StaticStation) Connect(_, _ string) error { return nil }

// IsConnected implements Station.
func (StaticStation) IsConnected() bool { return true }

// LocalAddress implements Station.
func (s StaticStation) LocalAddress() string {
	if s.Address == "" {
		return "0.0.0.0"
	}
	return s.Address
}
