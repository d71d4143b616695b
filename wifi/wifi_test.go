package wifi

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hb9tf/wifiradar/link"
)

var transmitter = []byte{0x02, 0x11, 0x22, 0x33, 0x44, 0x55}

// radiotap returns a minimal radiotap header carrying only the antenna
// signal in dBm.
func radiotap(signal int8) []byte {
	return []byte{0x00, 0x00, 0x09, 0x00, 0x20, 0x00, 0x00, 0x00, byte(signal)}
}

// header80211 returns a three-address 802.11 header with the given first
// frame control byte.
func header80211(fc byte) []byte {
	h := []byte{fc, 0x00, 0x00, 0x00}
	h = append(h, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	h = append(h, transmitter...)
	h = append(h, transmitter...)
	return append(h, 0x00, 0x00)
}

func dataFrame(signal int8) []byte {
	frame := append(radiotap(signal), header80211(0x08)...)
	return append(frame, 0xaa, 0xaa, 0x03, 0x00, 0x00, 0x00, 0x08, 0x00)
}

func beaconFrame(signal int8) []byte {
	frame := append(radiotap(signal), header80211(0x80)...)
	// Timestamp, beacon interval, capabilities, empty SSID.
	frame = append(frame, make([]byte, 8)...)
	frame = append(frame, 0x64, 0x00, 0x01, 0x04)
	return append(frame, 0x00, 0x00)
}

func noSignalFrame() []byte {
	frame := []byte{0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}
	return append(frame, header80211(0x08)...)
}

func decode(t *testing.T, d *Decoder, data []byte) (link.Observation, bool) {
	t.Helper()
	packet := gopacket.NewPacket(data, layers.LayerTypeRadioTap, gopacket.Default)
	return d.Decode(packet, time.Unix(100, 0))
}

func TestDecode(t *testing.T) {
	d := &Decoder{}
	o, ok := decode(t, d, dataFrame(-42))
	require.True(t, ok)
	assert.Equal(t, -42, o.Signal)
	assert.Equal(t, "02:11:22:33:44:55", o.Origin.String())
	assert.Equal(t, time.Unix(100, 0), o.Timestamp)
	assert.False(t, o.Phase.Valid)
	assert.False(t, o.Spectrum.Valid)

	o, ok = decode(t, d, beaconFrame(-70))
	require.True(t, ok)
	assert.Equal(t, -70, o.Signal)

	_, ok = decode(t, d, noSignalFrame())
	assert.False(t, ok, "frames without antenna signal carry nothing to score")
}

func TestDecodeFrameKinds(t *testing.T) {
	kinds, err := ParseFrameKinds([]string{"Beacon"})
	require.NoError(t, err)
	d := &Decoder{Kinds: kinds}

	_, ok := decode(t, d, beaconFrame(-50))
	assert.True(t, ok)
	_, ok = decode(t, d, dataFrame(-50))
	assert.False(t, ok)

	kinds, err = ParseFrameKinds([]string{"Beacon", "Data"})
	require.NoError(t, err)
	d.Kinds = kinds
	_, ok = decode(t, d, dataFrame(-50))
	assert.True(t, ok)

	_, err = ParseFrameKinds([]string{"Bogus"})
	assert.Error(t, err)
}

func TestDecodeSpectrum(t *testing.T) {
	d := &Decoder{Spectrum: link.NewSpectrum(4)}
	var o link.Observation
	for i, s := range []int8{-40, -60, -40, -60} {
		var ok bool
		o, ok = decode(t, d, dataFrame(s))
		require.True(t, ok)
		if i < 3 {
			assert.False(t, o.Spectrum.Valid)
		}
	}
	bins, ok := o.Spectrum.Get()
	require.True(t, ok)
	assert.Len(t, bins, 3)
}

func writePcap(t *testing.T, frames [][]byte, gap time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	fh, err := os.Create(path)
	require.NoError(t, err)
	defer fh.Close()

	w := pcapgo.NewWriter(fh)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeIEEE80211Radio))
	ts := time.Unix(1700000000, 0)
	for _, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(f), Length: len(f)}
		require.NoError(t, w.WritePacket(ci, f))
		ts = ts.Add(gap)
	}
	return path
}

func collect(t *testing.T, src link.Source) []link.Observation {
	t.Helper()
	ch := make(chan link.Observation, 100)
	require.NoError(t, src.Capture(context.Background(), ch))
	close(ch)
	var out []link.Observation
	for o := range ch {
		out = append(out, o)
	}
	return out
}

func TestFileReplay(t *testing.T) {
	path := writePcap(t, [][]byte{dataFrame(-40), noSignalFrame(), beaconFrame(-55), dataFrame(-41)}, time.Millisecond)

	before := time.Now()
	src := &File{Path: path}
	assert.Equal(t, "pcap", src.Name())
	got := collect(t, src)

	require.Len(t, got, 3)
	assert.Equal(t, []int{-40, -55, -41}, []int{got[0].Signal, got[1].Signal, got[2].Signal})
	for _, o := range got {
		assert.False(t, o.Timestamp.Before(before), "replayed observations are stamped at replay time")
	}
}

func TestFileReplayPaced(t *testing.T) {
	path := writePcap(t, [][]byte{dataFrame(-40), dataFrame(-41), dataFrame(-42)}, 20*time.Millisecond)

	start := time.Now()
	got := collect(t, &File{Path: path, Speed: 1})
	require.Len(t, got, 3)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.GreaterOrEqual(t, got[2].Timestamp.Sub(got[0].Timestamp), 30*time.Millisecond)
}

func TestFileReplayCancel(t *testing.T) {
	path := writePcap(t, [][]byte{dataFrame(-40), dataFrame(-41)}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan link.Observation, 10)

	done := make(chan error, 1)
	go func() { done <- (&File{Path: path, Speed: 1}).Capture(ctx, ch) }()
	<-ch
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not stop after cancel")
	}
}

func TestFileErrors(t *testing.T) {
	ch := make(chan link.Observation, 1)
	err := (&File{Path: filepath.Join(t.TempDir(), "missing.pcap")}).Capture(context.Background(), ch)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "ethernet.pcap")
	fh, err := os.Create(path)
	require.NoError(t, err)
	w := pcapgo.NewWriter(fh)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	require.NoError(t, fh.Close())

	err = (&File{Path: path}).Capture(context.Background(), ch)
	assert.Error(t, err)
}
