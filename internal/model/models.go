// Package model defines core data structures for netscan.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/netscan/internal/iprange"
)

// UnknownHost is the hostname used when reverse resolution fails.
const UnknownHost = "Unknown"

// ScanMode selects the scan pipeline.
type ScanMode int

const (
	ModeARP ScanMode = iota + 1
	ModeICMP
	ModePort
)

// Modes lists every scan mode in display order.
var Modes = []ScanMode{ModeARP, ModeICMP, ModePort}

func (m ScanMode) String() string {
	switch m {
	case ModeARP:
		return "arp"
	case ModeICMP:
		return "icmp"
	case ModePort:
		return "port"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Label returns the human readable name of the mode.
func (m ScanMode) Label() string {
	switch m {
	case ModeARP:
		return "ARP scan"
	case ModeICMP:
		return "Ping sweep"
	case ModePort:
		return "Port scan"
	default:
		return m.String()
	}
}

// ParseScanMode accepts the short names and the display labels.
func ParseScanMode(s string) (ScanMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arp", "arp scan":
		return ModeARP, nil
	case "icmp", "ping", "ping sweep":
		return ModeICMP, nil
	case "port", "port scan":
		return ModePort, nil
	default:
		return 0, fmt.Errorf("unknown scan mode %q", s)
	}
}

// ScanRequest is a fully validated scan description. It is built once and
// only read afterwards.
type ScanRequest struct {
	Mode  ScanMode
	Range *iprange.Range

	Timeout    time.Duration
	TTL        int
	Interval   time.Duration
	PacketSize int

	// Zero unless Mode is ModePort.
	StartPort int
	EndPort   int
}

// HostRecord is one discovered device.
type HostRecord struct {
	IP        string `json:"ip"`
	MAC       string `json:"mac"`
	Hostname  string `json:"hostname"`
	OpenPorts []int  `json:"open_ports"`
}

// NewHostRecord returns a record with an empty, non-nil port list.
func NewHostRecord(ip, mac, hostname string) HostRecord {
	return HostRecord{
		IP:        ip,
		MAC:       mac,
		Hostname:  hostname,
		OpenPorts: []int{},
	}
}

// PortsString joins the open ports with ", ".
func (h HostRecord) PortsString() string {
	parts := make([]string, len(h.OpenPorts))
	for i, p := range h.OpenPorts {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ", ")
}
