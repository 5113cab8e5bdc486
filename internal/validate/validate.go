// Package validate turns raw scan form fields into a model.ScanRequest.
//
// The error messages are shown to users verbatim and are part of the
// interface; tests pin every one of them.
package validate

import (
	"math"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/user/netscan/internal/iprange"
	"github.com/user/netscan/internal/model"
)

// Messages returned in Error.Message.
const (
	MsgInvalidIP          = "Invalid IP address format. Please enter a valid IP address."
	MsgStartAfterEnd      = "Start IP must be less than End IP."
	MsgInvalidPrefix      = "Invalid prefix. Prefix must be an integer between 0 and 32."
	MsgPrefixRange        = "Prefix must be between 0 and 32."
	MsgOutsideSubnet      = "Both IPs should be within the subnet range defined by the prefix."
	MsgInvalidTimeout     = "Invalid input for timeout. Please enter a numeric value between 0 and 60 seconds."
	MsgTimeoutRange       = "Timeout must be between 0 and 60 seconds."
	MsgInvalidTTL         = "Invalid input for TTL. Please enter a numeric value between 1 and 255."
	MsgTTLRange           = "TTL must be between 1 and 255."
	MsgInvalidInterval    = "Invalid input for interval. Please enter a numeric value between 0 and 60 seconds."
	MsgIntervalRange      = "Interval must be between 0 and 60 seconds."
	MsgInvalidPacketSize  = "Invalid input for packet size. Please enter a numeric value between 1 and 65507 bytes."
	MsgPacketSizeRange    = "Packet size must be between 1 and 65507 bytes."
	MsgInvalidPort        = "Invalid input for port number. Please enter a numeric value between 1 and 65535."
	MsgStartPortRange     = "Start port number must be between 1 and 65535."
	MsgEndPortRange       = "End port number must be between 1 and 65535."
	MsgEndPortBeforeStart = "End port number cannot be less than start port number."
	MsgInvalidMode        = "Invalid scan type. Choose one of: arp, icmp, port."
)

const (
	maxSeconds    = 60
	maxTTL        = 255
	maxPacketSize = 65507
	maxPort       = 65535
	maxPrefix     = 32
)

// Error is a rejected input field.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func fail(field, msg string) *Error {
	return &Error{Field: field, Message: msg}
}

// Input holds the scan form exactly as the user typed it.
type Input struct {
	Mode       string
	StartIP    string
	EndIP      string
	Prefix     string
	Timeout    string
	TTL        string
	Interval   string
	PacketSize string
	StartPort  string
	EndPort    string
}

// Request checks every field of in and builds the scan request. Fields are
// checked in a fixed order and the first failure is returned as *Error.
func Request(in Input) (model.ScanRequest, error) {
	var req model.ScanRequest

	mode, err := model.ParseScanMode(in.Mode)
	if err != nil {
		return req, fail("mode", MsgInvalidMode)
	}
	req.Mode = mode

	start, end, verr := addresses(in.StartIP, in.EndIP)
	if verr != nil {
		return req, verr
	}
	// ARP resolves IPv4 addresses only.
	if mode == model.ModeARP && !start.Is4() {
		return req, fail("start_ip", MsgInvalidIP)
	}

	prefix, verr := parsePrefix(in.Prefix)
	if verr != nil {
		return req, verr
	}

	network := netip.PrefixFrom(start, min(prefix, start.BitLen())).Masked()
	if !network.Contains(start) || !network.Contains(end) {
		return req, fail("prefix", MsgOutsideSubnet)
	}

	if req.Timeout, verr = seconds("timeout", in.Timeout, MsgInvalidTimeout, MsgTimeoutRange); verr != nil {
		return req, verr
	}
	if req.TTL, verr = integer("ttl", in.TTL, 1, maxTTL, MsgInvalidTTL, MsgTTLRange); verr != nil {
		return req, verr
	}
	if req.Interval, verr = seconds("interval", in.Interval, MsgInvalidInterval, MsgIntervalRange); verr != nil {
		return req, verr
	}
	if req.PacketSize, verr = integer("packet_size", in.PacketSize, 1, maxPacketSize, MsgInvalidPacketSize, MsgPacketSizeRange); verr != nil {
		return req, verr
	}

	if mode == model.ModePort {
		if req.StartPort, req.EndPort, verr = ports(in.StartPort, in.EndPort); verr != nil {
			return req, verr
		}
	}

	rng, err := iprange.Resolve(start.String(), end.String(), prefix)
	if err != nil {
		return req, fail("ip", err.Error())
	}
	req.Range = rng
	return req, nil
}

func parseIP(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}

func addresses(startIn, endIn string) (netip.Addr, netip.Addr, *Error) {
	start, ok := parseIP(startIn)
	if !ok {
		return start, start, fail("start_ip", MsgInvalidIP)
	}
	end := start
	if strings.TrimSpace(endIn) != "" {
		if end, ok = parseIP(endIn); !ok || end.Is4() != start.Is4() {
			return start, end, fail("end_ip", MsgInvalidIP)
		}
	}
	if start.Compare(end) > 0 {
		return start, end, fail("end_ip", MsgStartAfterEnd)
	}
	return start, end, nil
}

func parsePrefix(s string) (int, *Error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fail("prefix", MsgInvalidPrefix)
	}
	if p < 0 || p > maxPrefix {
		return 0, fail("prefix", MsgPrefixRange)
	}
	return p, nil
}

// seconds parses a decimal number of seconds in (0, 60].
func seconds(field, s, invalid, outOfRange string) (time.Duration, *Error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fail(field, invalid)
	}
	if math.IsNaN(f) || f <= 0 || f > maxSeconds {
		return 0, fail(field, outOfRange)
	}
	d := time.Duration(f * float64(time.Second))
	if d <= 0 {
		return 0, fail(field, outOfRange)
	}
	return d, nil
}

func integer(field, s string, lo, hi int, invalid, outOfRange string) (int, *Error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fail(field, invalid)
	}
	if n < lo || n > hi {
		return 0, fail(field, outOfRange)
	}
	return n, nil
}

func ports(startIn, endIn string) (int, int, *Error) {
	start, err := strconv.Atoi(strings.TrimSpace(startIn))
	if err != nil {
		return 0, 0, fail("start_port", MsgInvalidPort)
	}
	end := start
	if strings.TrimSpace(endIn) != "" {
		if end, err = strconv.Atoi(strings.TrimSpace(endIn)); err != nil {
			return 0, 0, fail("end_port", MsgInvalidPort)
		}
	}
	switch {
	case start < 1 || start > maxPort:
		return 0, 0, fail("start_port", MsgStartPortRange)
	case end < 1 || end > maxPort:
		return 0, 0, fail("end_port", MsgEndPortRange)
	case end < start:
		return 0, 0, fail("end_port", MsgEndPortBeforeStart)
	}
	return start, end, nil
}
