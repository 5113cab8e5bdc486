package iprange

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveProperties(t *testing.T) {
	tests := []struct {
		name   string
		start  string
		end    string
		prefix int
		count  int64
	}{
		{"single", "192.168.1.5", "", 24, 1},
		{"small v4", "192.168.1.5", "192.168.1.20", 24, 16},
		{"whole /24", "10.0.0.0", "10.0.0.255", 24, 256},
		{"crosses octet", "10.0.0.250", "10.0.1.3", 16, 10},
		{"v6", "2001:db8::fffe", "2001:db8::1:2", 64, 5},
		{"prefix zero", "8.8.8.8", "8.8.8.9", 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Resolve(tt.start, tt.end, tt.prefix)
			require.NoError(t, err)

			network := netip.PrefixFrom(netip.MustParseAddr(tt.start), tt.prefix).Masked()
			var prev netip.Addr
			n := 0
			for a := range r.All() {
				assert.True(t, network.Contains(a), "%s outside %s", a, network)
				if prev.IsValid() {
					assert.Equal(t, -1, prev.Compare(a), "not ascending at %s", a)
				}
				prev = a
				n++
			}
			assert.EqualValues(t, tt.count, n)
			assert.EqualValues(t, tt.count, r.Count().Int64())
			assert.Equal(t, r.First(), netip.MustParseAddr(tt.start))
			assert.Equal(t, prev, r.Last())
		})
	}
}

func TestResolveSingleAddress(t *testing.T) {
	r, err := Resolve("192.168.1.5", "", 24)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.1.5"}, r.Strings())
	assert.Equal(t, "192.168.1.5", r.String())
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name   string
		start  string
		end    string
		prefix int
	}{
		{"start greater than end", "192.168.1.10", "192.168.1.5", 24},
		{"bad start", "192.168.1", "", 24},
		{"bad end", "192.168.1.1", "nope", 24},
		{"mixed families", "192.168.1.1", "2001:db8::1", 24},
		{"prefix too large v4", "192.168.1.1", "", 33},
		{"prefix negative", "192.168.1.1", "", -1},
		{"prefix too large v6", "2001:db8::1", "", 129},
		{"end outside subnet", "192.168.1.5", "192.168.2.1", 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Resolve(tt.start, tt.end, tt.prefix)
			assert.Nil(t, r)
			var rangeErr *InvalidRangeError
			require.True(t, errors.As(err, &rangeErr), "got %v", err)
			assert.NotEmpty(t, rangeErr.Reason)
		})
	}
}

func TestBlocksAreMinimalCover(t *testing.T) {
	r, err := Resolve("192.168.1.5", "192.168.1.20", 24)
	require.NoError(t, err)

	want := []netip.Prefix{
		netip.MustParsePrefix("192.168.1.5/32"),
		netip.MustParsePrefix("192.168.1.6/31"),
		netip.MustParsePrefix("192.168.1.8/29"),
		netip.MustParsePrefix("192.168.1.16/30"),
		netip.MustParsePrefix("192.168.1.20/32"),
	}
	assert.Equal(t, want, r.Blocks())
}

func TestAllIsLazyAndRestartable(t *testing.T) {
	r, err := Resolve("::", "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff", 0)
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("::/0")}, r.Blocks())

	take := func() []string {
		var got []string
		for a := range r.All() {
			got = append(got, a.String())
			if len(got) == 3 {
				break
			}
		}
		return got
	}

	first := take()
	assert.Equal(t, []string{"::", "::1", "::2"}, first)
	assert.Equal(t, first, take())
}

func TestResolveTopOfAddressSpace(t *testing.T) {
	r, err := Resolve("255.255.255.254", "255.255.255.255", 31)
	require.NoError(t, err)
	assert.Equal(t, []string{"255.255.255.254", "255.255.255.255"}, r.Strings())
}

func TestResolveStripsZoneAndMapping(t *testing.T) {
	r, err := Resolve("::ffff:10.0.0.1", "", 24)
	require.NoError(t, err)
	assert.True(t, r.First().Is4())

	r, err = Resolve("fe80::1%eth0", "", 64)
	require.NoError(t, err)
	assert.Equal(t, "", r.First().Zone())
}
