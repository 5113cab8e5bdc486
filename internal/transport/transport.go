// Package transport sends single raw probes (ARP, ICMP echo, TCP SYN/RST)
// and collects the replies observed inside a timeout window.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Kind selects the packet shape of a probe.
type Kind int

const (
	KindARP Kind = iota + 1
	KindICMPEcho
	KindTCPSyn
	KindTCPReset
)

func (k Kind) String() string {
	switch k {
	case KindARP:
		return "arp"
	case KindICMPEcho:
		return "icmp"
	case KindTCPSyn:
		return "tcp_syn"
	case KindTCPReset:
		return "tcp_rst"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TCPFlags holds the TCP control bits of a reply.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 0x01
	FlagSYN TCPFlags = 0x02
	FlagRST TCPFlags = 0x04
	FlagPSH TCPFlags = 0x08
	FlagACK TCPFlags = 0x10
)

// Has reports whether every bit of want is set.
func (f TCPFlags) Has(want TCPFlags) bool {
	return f&want == want
}

// Probe describes one packet to transmit.
type Probe struct {
	Kind   Kind
	Target netip.Addr

	// TCP only. SrcPort and Seq are chosen by the transport for SYN probes
	// when left zero and are reported back in the Exchange.
	Port    uint16
	SrcPort uint16
	Seq     uint32

	// ICMP only.
	TTL         int
	PayloadSize int
}

// Reply is what came back for a probe.
type Reply struct {
	Source       netip.Addr
	HardwareAddr net.HardwareAddr
	Port         uint16
	Flags        TCPFlags
	Ack          uint32
	TTL          int
	RTT          time.Duration
}

// Exchange pairs a probe, as actually sent, with one of its replies.
type Exchange struct {
	Request Probe
	Reply   Reply
}

// Transport sends a probe and returns the replies seen before timeout.
// Probes that receive no reply yield an empty result, not an error. A
// cancelled ctx ends the reply window early. Errors are always *Error and
// mean the transport itself is unusable.
type Transport interface {
	Send(ctx context.Context, probe Probe, timeout, interval time.Duration) ([]Exchange, error)
}

// Error is a socket or permission failure.
type Error struct {
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("transport %s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, target netip.Addr, err error) *Error {
	e := &Error{Op: op, Err: err}
	if target.IsValid() {
		e.Target = target.String()
	}
	return e
}
