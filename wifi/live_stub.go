//go:build !pcap
// +build !pcap

package wifi

import (
	"context"
	"errors"

	"github.com/hb9tf/wifiradar/link"
)

const LiveSourceName = "live"

// Live needs libpcap; build with -tags=pcap to capture from an interface.
type Live struct {
	Interface string
	Decoder   Decoder
}

func (l *Live) Name() string {
	return LiveSourceName
}

func (l *Live) Capture(ctx context.Context, observations chan<- link.Observation) error {
	return errors.New("live capture not available: rebuild with -tags=pcap")
}
