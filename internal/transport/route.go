package transport

import (
	"fmt"
	"net"
	"net/netip"
)

// route is the egress interface and source address used to reach a target.
type route struct {
	Src   netip.Addr
	Iface *net.Interface
}

// lookupRoute asks the kernel which source address it would use for target
// by connecting a UDP socket; no packet is sent. A configured interface name
// overrides the kernel's choice.
func lookupRoute(target netip.Addr, ifaceName string) (route, error) {
	if ifaceName != "" {
		iface, err := net.InterfaceByName(ifaceName)
		if err != nil {
			return route{}, err
		}
		src, err := interfaceAddr(iface, target.Is4())
		if err != nil {
			return route{}, err
		}
		return route{Src: src, Iface: iface}, nil
	}

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(target, 9)))
	if err != nil {
		return route{}, fmt.Errorf("no route to %s: %w", target, err)
	}
	defer conn.Close()

	src := conn.LocalAddr().(*net.UDPAddr).AddrPort().Addr().Unmap()
	iface, err := interfaceFor(src)
	if err != nil {
		return route{}, err
	}
	return route{Src: src, Iface: iface}, nil
}

func interfaceFor(addr netip.Addr) (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip, ok := netip.AddrFromSlice(ipnet.IP)
			if ok && ip.Unmap() == addr {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface owns %s", addr)
}

func interfaceAddr(iface *net.Interface, want4 bool) (netip.Addr, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if ip.Is4() == want4 && !ip.IsLinkLocalUnicast() {
			return ip, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("interface %s has no usable address", iface.Name)
}
