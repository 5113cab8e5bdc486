//go:build !linux

package transport

import (
	"context"
	"time"
)

func (r *Raw) sendARP(_ context.Context, probe Probe, _ time.Duration) ([]Exchange, error) {
	return nil, newError("arp", probe.Target, errUnsupported)
}

func (r *Raw) sendSYN(_ context.Context, probe Probe, _ time.Duration) ([]Exchange, error) {
	return nil, newError("tcp", probe.Target, errUnsupported)
}

func (r *Raw) sendRST(probe Probe) error {
	return newError("tcp", probe.Target, errUnsupported)
}
