package transport

import (
	"context"
	"net/netip"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// sendICMP sends a single echo request and records every echo reply that
// arrives before timeout.
func (r *Raw) sendICMP(ctx context.Context, probe Probe, timeout, interval time.Duration) ([]Exchange, error) {
	pinger, err := probing.NewPinger(probe.Target.String())
	if err != nil {
		return nil, newError("icmp", probe.Target, err)
	}

	pinger.Count = 1
	if timeout > 0 {
		pinger.Timeout = timeout
	}
	if interval > 0 {
		pinger.Interval = interval
	}
	if probe.TTL > 0 {
		pinger.TTL = probe.TTL
	}
	if probe.PayloadSize > 0 {
		pinger.Size = probe.PayloadSize
	}
	pinger.SetPrivileged(r.privileged)

	var (
		mu        sync.Mutex
		exchanges []Exchange
	)
	pinger.OnRecv = func(pkt *probing.Packet) {
		if pkt.IPAddr == nil {
			return
		}
		src, ok := netip.AddrFromSlice(pkt.IPAddr.IP)
		if !ok {
			return
		}
		mu.Lock()
		exchanges = append(exchanges, Exchange{
			Request: probe,
			Reply: Reply{
				Source: src.Unmap(),
				TTL:    pkt.TTL,
				RTT:    pkt.Rtt,
			},
		})
		mu.Unlock()
	}

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		pinger.Stop()
		err = <-done
	}
	if err != nil {
		return nil, newError("icmp", probe.Target, err)
	}

	mu.Lock()
	defer mu.Unlock()
	return exchanges, nil
}
