// Package wifi turns captured 802.11 frames into observations. Frames are
// expected with a radiotap header, as written by interfaces in monitor mode.
package wifi

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/hb9tf/wifiradar/link"
)

// FrameKind selects frames by their 802.11 type.
type FrameKind int

const (
	Beacon FrameKind = iota
	ProbeRequest
	ProbeResponse
	Management
	Control
	Data
)

var frameKinds = map[string]FrameKind{
	"beacon":         Beacon,
	"probe_request":  ProbeRequest,
	"probe_response": ProbeResponse,
	"management":     Management,
	"control":        Control,
	"data":           Data,
}

// ParseFrameKinds maps names such as "Beacon" or "Data" to frame kinds.
func ParseFrameKinds(names []string) ([]FrameKind, error) {
	var kinds []FrameKind
	for _, n := range names {
		k, ok := frameKinds[strings.ToLower(strings.ReplaceAll(n, " ", "_"))]
		if !ok {
			return nil, fmt.Errorf("%q is not a supported packet type, pick one of: beacon, probe_request, probe_response, management, control, data", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (k FrameKind) matches(t layers.Dot11Type) bool {
	switch k {
	case Beacon:
		return t == layers.Dot11TypeMgmtBeacon
	case ProbeRequest:
		return t == layers.Dot11TypeMgmtProbeReq
	case ProbeResponse:
		return t == layers.Dot11TypeMgmtProbeResp
	case Management:
		return t.MainType() == layers.Dot11TypeMgmt
	case Control:
		return t.MainType() == layers.Dot11TypeCtrl
	case Data:
		return t.MainType() == layers.Dot11TypeData
	}
	return false
}

// Decoder extracts the transmitter address and antenna signal of a frame.
// Frames without either are skipped.
type Decoder struct {
	// Kinds limits the accepted frame types. Empty accepts every frame.
	Kinds []FrameKind
	// Spectrum, when set, attaches frequency bins derived from each
	// transmitter's recent readings.
	Spectrum *link.Spectrum
}

func (d *Decoder) accepts(t layers.Dot11Type) bool {
	if len(d.Kinds) == 0 {
		return true
	}
	for _, k := range d.Kinds {
		if k.matches(t) {
			return true
		}
	}
	return false
}

// Decode returns the observation carried by packet, stamped with ts.
func (d *Decoder) Decode(packet gopacket.Packet, ts time.Time) (link.Observation, bool) {
	rt, ok := packet.Layer(layers.LayerTypeRadioTap).(*layers.RadioTap)
	if !ok || !rt.Present.DBMAntennaSignal() {
		return link.Observation{}, false
	}
	dot11, ok := packet.Layer(layers.LayerTypeDot11).(*layers.Dot11)
	if !ok || !d.accepts(dot11.Type) {
		return link.Observation{}, false
	}
	origin, ok := link.AddrFrom(dot11.Address2)
	if !ok {
		return link.Observation{}, false
	}

	o := link.Observation{
		Timestamp: ts,
		Origin:    origin,
		Signal:    int(rt.DBMAntennaSignal),
	}
	if d.Spectrum != nil {
		o.Spectrum = d.Spectrum.Add(origin, o.Signal)
	}
	return o, true
}
