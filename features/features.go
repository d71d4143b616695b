// Package features reduces a batch of observations to a fixed set of
// scalar statistics.
//
// Every statistic degrades to 0 when its inputs are absent: an empty batch
// has zero RSSI mean and variance, a batch without phases has zero phase
// variance and delta, a batch without spectra has zero FFT energy. Absence
// is never an error. Whether a phase mean exists is kept in PhaseMean so a
// missing phase is not confused with a measured one.
package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hb9tf/wifiradar/link"
)

type FeatureSet struct {
	PacketCount int `json:"packetCount"`

	RSSIMean     float64 `json:"rssiMean"`
	RSSIVariance float64 `json:"rssiVariance"`

	// PhaseVariance is the linear population variance of the valid phases.
	PhaseVariance float64 `json:"phaseVariance"`
	// PhaseDelta is the absolute change of the mean phase since the previous batch.
	PhaseDelta float64                `json:"phaseDelta"`
	PhaseMean  link.Optional[float64] `json:"phaseMean"`

	// FFTEnergy is the sum of squared bin magnitudes over all spectra.
	FFTEnergy float64 `json:"fftEnergy"`
}

// Extract computes the feature set of batch. prev is the feature set of the
// batch before it, or nil on the first cycle.
func Extract(batch []link.Observation, prev *FeatureSet) FeatureSet {
	fs := FeatureSet{PacketCount: len(batch)}
	if len(batch) == 0 {
		return fs
	}

	rssi := make([]float64, 0, len(batch))
	var phases []float64
	for _, o := range batch {
		rssi = append(rssi, float64(o.Signal))
		if p, ok := o.Phase.Get(); ok && isFinite(p) {
			phases = append(phases, p)
		}
		if bins, ok := o.Spectrum.Get(); ok {
			fs.FFTEnergy += energy(bins)
		}
	}
	fs.RSSIMean, fs.RSSIVariance = stat.PopMeanVariance(rssi, nil)

	if len(phases) > 0 {
		mean, variance := stat.PopMeanVariance(phases, nil)
		fs.PhaseVariance = variance
		fs.PhaseMean = link.Some(mean)
		if prev != nil {
			if prevMean, ok := prev.PhaseMean.Get(); ok {
				fs.PhaseDelta = math.Abs(mean - prevMean)
			}
		}
	}
	return fs
}

func energy(bins []float64) float64 {
	e := floats.Dot(bins, bins)
	if !isFinite(e) {
		return 0
	}
	return e
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
