package transport

import (
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

	serializeOpts = gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
)

// buildARPRequest returns a broadcast Ethernet frame asking who has target.
func buildARPRequest(srcMAC net.HardwareAddr, srcIP, target netip.Addr) ([]byte, error) {
	src4 := srcIP.As4()
	dst4 := target.As4()

	eth := layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       broadcastMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(srcMAC),
		SourceProtAddress: src4[:],
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    dst4[:],
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, &eth, &arp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildTCP returns a bare TCP segment from src:srcPort to dst:dstPort with a
// checksum computed over the matching pseudo header.
func buildTCP(src, dst netip.Addr, srcPort, dstPort uint16, seq, ack uint32, flags TCPFlags) ([]byte, error) {
	tcp := layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		Ack:     ack,
		Window:  1024,
		SYN:     flags.Has(FlagSYN),
		RST:     flags.Has(FlagRST),
		ACK:     flags.Has(FlagACK),
	}

	var network gopacket.NetworkLayer
	if dst.Is4() {
		network = &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP(src.AsSlice()),
			DstIP:    net.IP(dst.AsSlice()),
		}
	} else {
		network = &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolTCP,
			SrcIP:      net.IP(src.AsSlice()),
			DstIP:      net.IP(dst.AsSlice()),
		}
	}
	if err := tcp.SetNetworkLayerForChecksum(network); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, &tcp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// arpDecoder pulls ARP replies out of Ethernet frames.
type arpDecoder struct {
	eth     layers.Ethernet
	arp     layers.ARP
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newARPDecoder() *arpDecoder {
	d := &arpDecoder{decoded: make([]gopacket.LayerType, 0, 2)}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &d.eth, &d.arp)
	d.parser.IgnoreUnsupported = true
	return d
}

// reply returns the sender of frame if it is an ARP reply from target.
func (d *arpDecoder) reply(frame []byte, target netip.Addr) (Reply, bool) {
	if err := d.parser.DecodeLayers(frame, &d.decoded); err != nil {
		return Reply{}, false
	}
	if !hasLayer(d.decoded, layers.LayerTypeARP) || d.arp.Operation != layers.ARPReply {
		return Reply{}, false
	}

	src, ok := netip.AddrFromSlice(d.arp.SourceProtAddress)
	if !ok || src.Unmap() != target {
		return Reply{}, false
	}

	mac := make(net.HardwareAddr, len(d.arp.SourceHwAddress))
	copy(mac, d.arp.SourceHwAddress)
	return Reply{Source: src.Unmap(), HardwareAddr: mac}, true
}

// tcpSegment is the part of a TCP reply used for correlation.
type tcpSegment struct {
	Source  netip.Addr
	SrcPort uint16
	DstPort uint16
	Flags   TCPFlags
	Ack     uint32
	TTL     int
}

// tcpDecoder decodes TCP replies read from raw sockets. IPv4 raw sockets
// deliver the IP header, IPv6 raw sockets deliver the bare segment.
type tcpDecoder struct {
	ip4     layers.IPv4
	tcp     layers.TCP
	parser4 *gopacket.DecodingLayerParser
	parser6 *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newTCPDecoder() *tcpDecoder {
	d := &tcpDecoder{decoded: make([]gopacket.LayerType, 0, 2)}
	d.parser4 = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, &d.ip4, &d.tcp)
	d.parser4.IgnoreUnsupported = true
	d.parser6 = gopacket.NewDecodingLayerParser(layers.LayerTypeTCP, &d.tcp)
	d.parser6.IgnoreUnsupported = true
	return d
}

// packet4 decodes an IPv4 datagram carrying TCP.
func (d *tcpDecoder) packet4(data []byte) (tcpSegment, bool) {
	if err := d.parser4.DecodeLayers(data, &d.decoded); err != nil {
		return tcpSegment{}, false
	}
	if !hasLayer(d.decoded, layers.LayerTypeTCP) {
		return tcpSegment{}, false
	}
	src, ok := netip.AddrFromSlice(d.ip4.SrcIP)
	if !ok {
		return tcpSegment{}, false
	}
	seg := d.segment(src.Unmap())
	seg.TTL = int(d.ip4.TTL)
	return seg, true
}

// segment6 decodes a bare TCP segment received from src.
func (d *tcpDecoder) segment6(data []byte, src netip.Addr) (tcpSegment, bool) {
	if err := d.parser6.DecodeLayers(data, &d.decoded); err != nil {
		return tcpSegment{}, false
	}
	if !hasLayer(d.decoded, layers.LayerTypeTCP) {
		return tcpSegment{}, false
	}
	return d.segment(src), true
}

func (d *tcpDecoder) segment(src netip.Addr) tcpSegment {
	var flags TCPFlags
	if d.tcp.FIN {
		flags |= FlagFIN
	}
	if d.tcp.SYN {
		flags |= FlagSYN
	}
	if d.tcp.RST {
		flags |= FlagRST
	}
	if d.tcp.PSH {
		flags |= FlagPSH
	}
	if d.tcp.ACK {
		flags |= FlagACK
	}
	return tcpSegment{
		Source:  src,
		SrcPort: uint16(d.tcp.SrcPort),
		DstPort: uint16(d.tcp.DstPort),
		Flags:   flags,
		Ack:     d.tcp.Ack,
	}
}

func hasLayer(decoded []gopacket.LayerType, want gopacket.LayerType) bool {
	for _, lt := range decoded {
		if lt == want {
			return true
		}
	}
	return false
}
