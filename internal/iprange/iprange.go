// Package iprange resolves a start/end/prefix triple into the ordered set of
// target addresses a scan walks over.
package iprange

import (
	"fmt"
	"iter"
	"math/big"
	"net/netip"
	"strings"
)

// InvalidRangeError reports an address range that cannot be scanned.
type InvalidRangeError struct {
	Start  string
	End    string
	Prefix int
	Reason string
}

func (e *InvalidRangeError) Error() string {
	if e.Start == "" {
		return "invalid range: " + e.Reason
	}
	end := e.End
	if end == "" {
		end = e.Start
	}
	return fmt.Sprintf("invalid range %s-%s/%d: %s", e.Start, end, e.Prefix, e.Reason)
}

// Range is an immutable, ascending sequence of distinct addresses lying
// inside a single network.
type Range struct {
	first   netip.Addr
	last    netip.Addr
	network netip.Prefix
	blocks  []netip.Prefix
}

// Resolve builds the range [start, end] and checks that both ends lie inside
// start/prefix. An empty end selects the single address start.
func Resolve(start, end string, prefix int) (*Range, error) {
	fail := func(format string, args ...interface{}) (*Range, error) {
		return nil, &InvalidRangeError{
			Start:  start,
			End:    end,
			Prefix: prefix,
			Reason: fmt.Sprintf(format, args...),
		}
	}

	first, err := parseAddr(start)
	if err != nil {
		return fail("start address %q is not a valid IP address", start)
	}

	last := first
	if strings.TrimSpace(end) != "" {
		last, err = parseAddr(end)
		if err != nil {
			return fail("end address %q is not a valid IP address", end)
		}
	}

	if first.Is4() != last.Is4() {
		return fail("start and end addresses belong to different families")
	}
	if prefix < 0 || prefix > first.BitLen() {
		return fail("prefix must be between 0 and %d", first.BitLen())
	}
	if first.Compare(last) > 0 {
		return fail("start address is greater than end address")
	}

	network := netip.PrefixFrom(first, prefix).Masked()
	if !network.Contains(last) {
		return fail("end address is outside %s", network)
	}

	return &Range{
		first:   first,
		last:    last,
		network: network,
		blocks:  summarize(first, last),
	}, nil
}

func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.WithZone("").Unmap(), nil
}

// First returns the lowest address of the range.
func (r *Range) First() netip.Addr { return r.first }

// Last returns the highest address of the range.
func (r *Range) Last() netip.Addr { return r.last }

// Network returns the subnet every address of the range belongs to.
func (r *Range) Network() netip.Prefix { return r.network }

// Blocks returns the minimal CIDR cover of the range in ascending order.
func (r *Range) Blocks() []netip.Prefix {
	out := make([]netip.Prefix, len(r.blocks))
	copy(out, r.blocks)
	return out
}

// Count returns the number of addresses in the range.
func (r *Range) Count() *big.Int {
	total := new(big.Int)
	for _, b := range r.blocks {
		size := new(big.Int).Lsh(big.NewInt(1), uint(b.Addr().BitLen()-b.Bits()))
		total.Add(total, size)
	}
	return total
}

// All yields every address in ascending order. Addresses are generated on
// demand and each call starts from the beginning.
func (r *Range) All() iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		for _, b := range r.blocks {
			end := lastAddr(b)
			for a := b.Addr(); ; a = a.Next() {
				if !yield(a) {
					return
				}
				if a == end {
					break
				}
			}
		}
	}
}

// Strings materializes the range. Only meant for small ranges.
func (r *Range) Strings() []string {
	var out []string
	for a := range r.All() {
		out = append(out, a.String())
	}
	return out
}

func (r *Range) String() string {
	if r.first == r.last {
		return r.first.String()
	}
	return r.first.String() + "-" + r.last.String()
}

// summarize returns the minimal list of prefixes covering [first, last].
func summarize(first, last netip.Addr) []netip.Prefix {
	var blocks []netip.Prefix
	cur := first
	for {
		b := largestBlock(cur, last)
		blocks = append(blocks, b)
		end := lastAddr(b)
		if end.Compare(last) >= 0 {
			return blocks
		}
		cur = end.Next()
	}
}

// largestBlock returns the widest prefix starting exactly at cur that does
// not extend past last.
func largestBlock(cur, last netip.Addr) netip.Prefix {
	bits := cur.BitLen()
	for ones := 0; ones < bits; ones++ {
		p := netip.PrefixFrom(cur, ones).Masked()
		if p.Addr() == cur && lastAddr(p).Compare(last) <= 0 {
			return p
		}
	}
	return netip.PrefixFrom(cur, bits)
}

// lastAddr returns the highest address of p.
func lastAddr(p netip.Prefix) netip.Addr {
	if p.Addr().Is4() {
		b := p.Addr().As4()
		setHostBits(b[:], p.Bits())
		return netip.AddrFrom4(b)
	}
	b := p.Addr().As16()
	setHostBits(b[:], p.Bits())
	return netip.AddrFrom16(b)
}

func setHostBits(b []byte, ones int) {
	for i := range b {
		switch {
		case ones >= (i+1)*8:
		case ones <= i*8:
			b[i] = 0xff
		default:
			b[i] |= 0xff >> (ones - i*8)
		}
	}
}
