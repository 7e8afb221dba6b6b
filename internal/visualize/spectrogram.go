package visualize

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// powerFloor keeps silent bins finite after the log.
const powerFloor = 1e-20

// Spectrogram holds one-sided power spectral density columns in dB.
// It implements plotter.GridXYZ: columns are time, rows are frequency bins.
type Spectrogram struct {
	Power      [][]float64 // [column][bin]
	SampleRate int
	NFFT       int
	Hop        int
}

// ComputeSpectrogram slides a Hann window of nfft samples over samples,
// advancing nfft-overlap samples per column. The hop is widened when the
// signal would otherwise produce more than maxColumns columns. Signals
// shorter than one window are zero padded.
func ComputeSpectrogram(samples []float64, sampleRate, nfft, overlap, maxColumns int) (*Spectrogram, error) {
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if nfft < 2 || overlap < 0 || overlap >= nfft {
		return nil, errors.New("window must be at least 2 samples and longer than the overlap")
	}

	if len(samples) < nfft {
		padded := make([]float64, nfft)
		copy(padded, samples)
		samples = padded
	}

	hop := nfft - overlap
	span := len(samples) - nfft
	if maxColumns > 1 && span/hop+1 > maxColumns {
		hop = (span + maxColumns - 2) / (maxColumns - 1)
	}

	window := make([]float64, nfft)
	var windowPower float64
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(nfft-1))
		windowPower += window[i] * window[i]
	}
	scale := 1 / (float64(sampleRate) * windowPower)
	bins := nfft/2 + 1

	s := &Spectrogram{SampleRate: sampleRate, NFFT: nfft, Hop: hop}
	frame := make([]float64, nfft)
	for start := 0; start+nfft <= len(samples); start += hop {
		for i := range frame {
			frame[i] = samples[start+i] * window[i]
		}
		spectrum := fft.FFTReal(frame)

		col := make([]float64, bins)
		for j := range col {
			p := math.Pow(cmplx.Abs(spectrum[j]), 2) * scale
			// one-sided: fold negative frequencies except DC and Nyquist
			if j != 0 && !(nfft%2 == 0 && j == bins-1) {
				p *= 2
			}
			col[j] = 10 * math.Log10(math.Max(p, powerFloor))
		}
		s.Power = append(s.Power, col)
	}
	return s, nil
}

// Dims returns the number of columns and frequency bins.
func (s *Spectrogram) Dims() (c, r int) {
	if len(s.Power) == 0 {
		return 0, 0
	}
	return len(s.Power), len(s.Power[0])
}

// Z returns the power of column c at bin r, in dB.
func (s *Spectrogram) Z(c, r int) float64 {
	return s.Power[c][r]
}

// X returns the time in seconds at the centre of column c.
func (s *Spectrogram) X(c int) float64 {
	return float64(c*s.Hop+s.NFFT/2) / float64(s.SampleRate)
}

// Y returns the frequency in Hz of bin r.
func (s *Spectrogram) Y(r int) float64 {
	return float64(r) * float64(s.SampleRate) / float64(s.NFFT)
}
