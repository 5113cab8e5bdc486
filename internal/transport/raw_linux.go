//go:build linux

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

// pollSlice bounds a single blocking read so cancellation is noticed.
const pollSlice = 100 * time.Millisecond

func (r *Raw) sendARP(ctx context.Context, probe Probe, timeout time.Duration) ([]Exchange, error) {
	target := probe.Target
	if !target.Is4() {
		return nil, newError("arp", target, errors.New("ARP needs an IPv4 target"))
	}

	rt, err := lookupRoute(target, r.iface)
	if err != nil {
		return nil, newError("route", target, err)
	}
	if len(rt.Iface.HardwareAddr) != 6 {
		return nil, newError("arp", target, fmt.Errorf("interface %s has no Ethernet address", rt.Iface.Name))
	}

	frame, err := buildARPRequest(rt.Iface.HardwareAddr, rt.Src, target)
	if err != nil {
		return nil, newError("arp", target, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ARP)))
	if err != nil {
		return nil, newError("socket", target, err)
	}
	defer unix.Close(fd)

	local := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ARP),
		Ifindex:  rt.Iface.Index,
	}
	if err := unix.Bind(fd, &local); err != nil {
		return nil, newError("bind", target, err)
	}

	dst := local
	dst.Halen = 6
	copy(dst.Addr[:], broadcastMAC)
	if err := unix.Sendto(fd, frame, 0, &dst); err != nil {
		return nil, newError("sendto", target, err)
	}

	dec := newARPDecoder()
	var out []Exchange
	err = receive(ctx, fd, timeout, func(data []byte, _ unix.Sockaddr) {
		if reply, ok := dec.reply(data, target); ok {
			out = append(out, Exchange{Request: probe, Reply: reply})
		}
	})
	if err != nil {
		return nil, newError("recvfrom", target, err)
	}
	return out, nil
}

func (r *Raw) sendSYN(ctx context.Context, probe Probe, timeout time.Duration) ([]Exchange, error) {
	target := probe.Target
	rt, err := lookupRoute(target, r.iface)
	if err != nil {
		return nil, newError("route", target, err)
	}

	sent := probe
	if sent.SrcPort == 0 {
		sent.SrcPort = ephemeralPort()
	}
	if sent.Seq == 0 {
		sent.Seq = rand.Uint32()
	}

	segment, err := buildTCP(rt.Src, target, sent.SrcPort, sent.Port, sent.Seq, 0, FlagSYN)
	if err != nil {
		return nil, newError("tcp", target, err)
	}

	fd, sa, err := openTCP(target)
	if err != nil {
		return nil, newError("socket", target, err)
	}
	defer unix.Close(fd)

	if err := unix.Sendto(fd, segment, 0, sa); err != nil {
		return nil, newError("sendto", target, err)
	}

	dec := newTCPDecoder()
	var out []Exchange
	err = receive(ctx, fd, timeout, func(data []byte, from unix.Sockaddr) {
		var (
			seg tcpSegment
			ok  bool
		)
		if target.Is4() {
			seg, ok = dec.packet4(data)
		} else {
			seg, ok = dec.segment6(data, sockaddrAddr(from))
		}
		if !ok || seg.Source != target || seg.DstPort != sent.SrcPort {
			return
		}
		out = append(out, Exchange{
			Request: sent,
			Reply: Reply{
				Source: seg.Source,
				Port:   seg.SrcPort,
				Flags:  seg.Flags,
				Ack:    seg.Ack,
				TTL:    seg.TTL,
			},
		})
	})
	if err != nil {
		return nil, newError("recvfrom", target, err)
	}
	return out, nil
}

func (r *Raw) sendRST(probe Probe) error {
	target := probe.Target
	rt, err := lookupRoute(target, r.iface)
	if err != nil {
		return newError("route", target, err)
	}

	segment, err := buildTCP(rt.Src, target, probe.SrcPort, probe.Port, probe.Seq, 0, FlagRST)
	if err != nil {
		return newError("tcp", target, err)
	}

	fd, sa, err := openTCP(target)
	if err != nil {
		return newError("socket", target, err)
	}
	defer unix.Close(fd)

	if err := unix.Sendto(fd, segment, 0, sa); err != nil {
		return newError("sendto", target, err)
	}
	return nil
}

func openTCP(target netip.Addr) (int, unix.Sockaddr, error) {
	if target.Is4() {
		fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_TCP)
		return fd, &unix.SockaddrInet4{Addr: target.As4()}, err
	}
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_RAW, unix.IPPROTO_TCP)
	return fd, &unix.SockaddrInet6{Addr: target.As16()}, err
}

// receive hands every datagram read from fd to handle until timeout elapses
// or ctx is done.
func receive(ctx context.Context, fd int, timeout time.Duration, handle func([]byte, unix.Sockaddr)) error {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 65536)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return nil
		}
		// A zero SO_RCVTIMEO blocks forever.
		remaining = min(max(remaining, time.Millisecond), pollSlice)

		tv := unix.NsecToTimeval(remaining.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return err
		}

		n, from, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		handle(buf[:n], from)
	}
}

func sockaddrAddr(sa unix.Sockaddr) netip.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrFrom4(sa.Addr)
	case *unix.SockaddrInet6:
		return netip.AddrFrom16(sa.Addr).Unmap()
	default:
		return netip.Addr{}
	}
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}
