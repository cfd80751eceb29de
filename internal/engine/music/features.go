package music

import "math"

// Buffer is one block of mono samples normalised to [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Features summarise one buffer. All values are in [0, 1].
type Features struct {
	Peak float64
	RMS  float64
	Low  float64
	Mid  float64
	High float64
}

// Band split frequencies in Hz.
const (
	lowCutoff  = 250.0
	highCutoff = 4000.0
)

// Analyzer computes Features. It keeps filter state between buffers so
// band energies are continuous across buffer edges.
type Analyzer struct {
	lowState  float64
	highState float64
	prevIn    float64
}

// Analyze reduces buf. An empty buffer is silence.
func (a *Analyzer) Analyze(buf Buffer) Features {
	if len(buf.Samples) == 0 {
		return Features{}
	}
	rate := float64(buf.SampleRate)
	if rate <= 0 {
		rate = 48000
	}

	lowAlpha := onePoleAlpha(lowCutoff, rate)
	highRC := 1 / (2 * math.Pi * highCutoff)
	highAlpha := highRC / (highRC + 1/rate)

	var peak, sumSq, lowSq, highSq float64
	for _, s := range buf.Samples {
		x := float64(s)
		if ax := math.Abs(x); ax > peak {
			peak = ax
		}
		sumSq += x * x

		a.lowState += lowAlpha * (x - a.lowState)
		lowSq += a.lowState * a.lowState

		a.highState = highAlpha * (a.highState + x - a.prevIn)
		a.prevIn = x
		highSq += a.highState * a.highState
	}

	n := float64(len(buf.Samples))
	f := Features{
		Peak: math.Min(peak, 1),
		RMS:  math.Min(math.Sqrt(sumSq/n), 1),
	}
	if sumSq > 0 {
		f.Low = clamp01(lowSq / sumSq)
		f.High = clamp01(highSq / sumSq)
		f.Mid = clamp01(1 - f.Low - f.High)
	}
	return f
}

// Reset clears the filter state.
func (a *Analyzer) Reset() {
	*a = Analyzer{}
}

func onePoleAlpha(cutoff, rate float64) float64 {
	dt := 1 / rate
	rc := 1 / (2 * math.Pi * cutoff)
	return dt / (rc + dt)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}
