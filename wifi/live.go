//go:build pcap
// +build pcap

package wifi

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/hb9tf/wifiradar/link"
)

const LiveSourceName = "live"

// Live captures from a network interface in monitor mode. The interface
// must already be tuned to the wanted channel.
type Live struct {
	Interface string
	Decoder   Decoder
}

func (l *Live) Name() string {
	return LiveSourceName
}

func (l *Live) Capture(ctx context.Context, observations chan<- link.Observation) error {
	handle, err := pcap.OpenLive(l.Interface, 65535, true, 250*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to open interface %s: %w", l.Interface, err)
	}
	defer handle.Close()

	if lt := handle.LinkType(); lt != layers.LinkTypeIEEE80211Radio {
		return fmt.Errorf("interface %s has link type %s, is it in monitor mode?", l.Interface, lt)
	}
	glog.Infof("capturing on %s\n", l.Interface)

	src := gopacket.NewPacketSource(handle, layers.LayerTypeRadioTap)
	src.NoCopy = true
	packets := src.Packets()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case packet, ok := <-packets:
			if !ok {
				return fmt.Errorf("capture on %s ended", l.Interface)
			}
			o, ok := l.Decoder.Decode(packet, time.Now())
			if !ok {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case observations <- o:
			}
		}
	}
}
