// Package netutil enumerates the local IPv4 interfaces the server binds
// its discovery listeners to and advertises in UPnP descriptions.
package netutil

import "net"

// InterfaceAddr pairs a network interface with one of its IPv4 addresses.
type InterfaceAddr struct {
	Iface net.Interface
	IP    net.IP
}

// InterfaceAddrs returns every up, non-loopback, multicast-capable
// interface together with its first IPv4 address.
func InterfaceAddrs() []InterfaceAddr {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []InterfaceAddr
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			out = append(out, InterfaceAddr{Iface: ifi, IP: ip4})
			break
		}
	}
	return out
}

// LocalIPs returns all usable IPv4 addresses, private 192.168.0.0/16
// ranges first. Renderers on home networks almost always live there.
func LocalIPs() []string {
	var preferred, rest []string
	for _, ia := range InterfaceAddrs() {
		s := ia.IP.String()
		if ia.IP[0] == 192 && ia.IP[1] == 168 {
			preferred = append(preferred, s)
		} else {
			rest = append(rest, s)
		}
	}
	return append(preferred, rest...)
}

// PrimaryIP returns the address used in LOCATION headers and stream URLs.
// Falls back to loopback when the host has no usable interface.
func PrimaryIP() string {
	if ips := LocalIPs(); len(ips) > 0 {
		return ips[0]
	}
	return "127.0.0.1"
}
