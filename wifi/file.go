package wifi

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/hb9tf/wifiradar/link"
)

const FileSourceName = "pcap"

// File replays a pcap capture. Observations are stamped with the time they
// are replayed at, so a recording feeds the pipeline like live traffic.
type File struct {
	Path string
	// Speed scales the recorded inter-packet gaps: 1 replays in real time,
	// 2 twice as fast. Zero or less replays as fast as possible.
	Speed   float64
	Decoder Decoder
}

func (f *File) Name() string {
	return FileSourceName
}

func (f *File) Capture(ctx context.Context, observations chan<- link.Observation) error {
	fh, err := os.Open(f.Path)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", f.Path, err)
	}
	defer fh.Close()

	r, err := pcapgo.NewReader(fh)
	if err != nil {
		return fmt.Errorf("failed to read pcap header of %s: %w", f.Path, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeIEEE80211Radio {
		return fmt.Errorf("%s has link type %s, need radiotap (%s)", f.Path, lt, layers.LinkTypeIEEE80211Radio)
	}
	glog.Infof("replaying %s at speed %.1f\n", f.Path, f.Speed)

	var first time.Time
	replayStart := time.Now()
	count, accepted := 0, 0
	for {
		data, ci, err := r.ReadPacketData()
		if err == io.EOF {
			glog.Infof("pcap replay of %s complete: %d packets, %d observations\n", f.Path, count, accepted)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed reading %s after %d packets: %w", f.Path, count, err)
		}
		count++

		if f.Speed > 0 {
			if first.IsZero() {
				first = ci.Timestamp
			}
			due := replayStart.Add(time.Duration(float64(ci.Timestamp.Sub(first)) / f.Speed))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		packet := gopacket.NewPacket(data, layers.LayerTypeRadioTap, gopacket.NoCopy)
		o, ok := f.Decoder.Decode(packet, time.Now())
		if !ok {
			continue
		}
		accepted++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case observations <- o:
		}
	}
}
