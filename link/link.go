package link

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Observation is one link-layer event as seen by a capture source.
// Observations are never modified once handed to a buffer.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`
	Origin    Addr      `json:"origin"`

	// Signal is the received signal strength in dBm.
	Signal int `json:"signal"`
	// Phase in radians, when the source can derive one.
	Phase Optional[float64] `json:"phase"`
	// Spectrum holds frequency bin energies of a short raw-sample window.
	Spectrum Optional[[]float64] `json:"spectrum"`
}

// Source produces observations until ctx is done or the input is exhausted.
type Source interface {
	Name() string
	Capture(ctx context.Context, observations chan<- Observation) error
}

// Addr is a 48-bit link-layer address.
type Addr [6]byte

func ParseAddr(s string) (Addr, error) {
	var a Addr
	hw, err := net.ParseMAC(s)
	if err != nil {
		return a, err
	}
	if len(hw) != len(a) {
		return a, fmt.Errorf("%q is not a 48-bit address", s)
	}
	copy(a[:], hw)
	return a, nil
}

// AddrFrom converts a hardware address, reporting false unless it is 48 bits long.
func AddrFrom(hw net.HardwareAddr) (Addr, bool) {
	var a Addr
	if len(hw) != len(a) {
		return a, false
	}
	copy(a[:], hw)
	return a, true
}

func (a Addr) String() string {
	return net.HardwareAddr(a[:]).String()
}

func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Addr) UnmarshalText(text []byte) error {
	parsed, err := ParseAddr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
