// Package visualize draws a waveform and its spectrogram, one above the
// other, and can show the result in a desktop window.
package visualize

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/satindergrewal/stemprep/internal/audio"
)

// Options controls the rendered figure.
type Options struct {
	WidthIn  float64 // figure width in inches
	HeightIn float64 // figure height in inches

	MaxPoints  int // waveform points after min/max decimation
	MaxColumns int // spectrogram columns

	NFFT    int
	Overlap int
	VMin    float64 // dB mapped to the bottom of the colour scale
	VMax    float64 // dB mapped to the top
}

// DefaultOptions returns a 15x10 inch figure with a 256 point FFT and a
// -20..50 dB colour range.
func DefaultOptions() Options {
	return Options{
		WidthIn:    15,
		HeightIn:   10,
		MaxPoints:  4000,
		MaxColumns: 1024,
		NFFT:       256,
		Overlap:    128,
		VMin:       -20,
		VMax:       50,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.WidthIn <= 0 {
		o.WidthIn = d.WidthIn
	}
	if o.HeightIn <= 0 {
		o.HeightIn = d.HeightIn
	}
	if o.MaxPoints <= 0 {
		o.MaxPoints = d.MaxPoints
	}
	if o.MaxColumns <= 0 {
		o.MaxColumns = d.MaxColumns
	}
	if o.NFFT <= 0 {
		o.NFFT, o.Overlap = d.NFFT, d.Overlap
	}
	if o.VMin >= o.VMax {
		o.VMin, o.VMax = d.VMin, d.VMax
	}
	return o
}

// Render draws the first channel of buf: amplitude over time on top and the
// spectrogram below.
func Render(buf *audio.Buffer, opts Options) (image.Image, error) {
	c, err := render(buf, opts.withDefaults())
	if err != nil {
		return nil, err
	}
	return c.Image(), nil
}

// RenderFile decodes wavPath and writes the figure to pngPath.
func RenderFile(wavPath, pngPath string, opts Options) error {
	buf, err := audio.ReadFile(wavPath)
	if err != nil {
		return err
	}
	c, err := render(buf, opts.withDefaults())
	if err != nil {
		return err
	}

	if dir := filepath.Dir(pngPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	f, err := os.Create(pngPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", pngPath, err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", pngPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", pngPath, err)
	}
	slog.Debug("Rendered figure", slog.String("wav", wavPath), slog.String("png", pngPath))
	return nil
}

func render(buf *audio.Buffer, opts Options) (*vgimg.Canvas, error) {
	if buf == nil || buf.Channels <= 0 || buf.SampleRate <= 0 || buf.Frames() == 0 {
		return nil, fmt.Errorf("%w: nothing to draw", audio.ErrFormat)
	}

	left := buf.Channel(0)
	samples := make([]float64, len(left))
	for i, v := range left {
		samples[i] = float64(v)
	}
	duration := buf.Seconds()

	wave, err := waveformPlot(samples, buf.SampleRate, duration, opts.MaxPoints)
	if err != nil {
		return nil, err
	}
	spec, err := spectrogramPlot(samples, buf.SampleRate, duration, opts)
	if err != nil {
		return nil, err
	}

	img := vgimg.New(vg.Length(opts.WidthIn)*vg.Inch, vg.Length(opts.HeightIn)*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      2,
		Cols:      1,
		PadX:      4 * vg.Millimeter,
		PadY:      6 * vg.Millimeter,
		PadTop:    2 * vg.Millimeter,
		PadBottom: 2 * vg.Millimeter,
		PadLeft:   2 * vg.Millimeter,
		PadRight:  4 * vg.Millimeter,
	}
	canvases := plot.Align([][]*plot.Plot{{wave}, {spec}}, tiles, dc)
	wave.Draw(canvases[0][0])
	spec.Draw(canvases[1][0])
	return img, nil
}

func waveformPlot(samples []float64, sampleRate int, duration float64, maxPoints int) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Left Channel"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Signal Value"
	p.X.Min, p.X.Max = 0, duration

	line, err := plotter.NewLine(decimate(samples, sampleRate, maxPoints))
	if err != nil {
		return nil, fmt.Errorf("waveform: %w", err)
	}
	p.Add(line)
	return p, nil
}

func spectrogramPlot(samples []float64, sampleRate int, duration float64, opts Options) (*plot.Plot, error) {
	s, err := ComputeSpectrogram(samples, sampleRate, opts.NFFT, opts.Overlap, opts.MaxColumns)
	if err != nil {
		return nil, fmt.Errorf("spectrogram: %w", err)
	}

	cm := moreland.ExtendedBlackBody()
	cm.SetMin(opts.VMin)
	cm.SetMax(opts.VMax)
	pal := cm.Palette(255)

	h := plotter.NewHeatMap(s, pal)
	h.Min, h.Max = opts.VMin, opts.VMax
	h.Underflow, h.Overflow = clampColors(pal)

	p := plot.New()
	p.Title.Text = "Left Channel"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Frequency (Hz)"
	p.Add(h)
	p.X.Min, p.X.Max = 0, duration
	p.Y.Min, p.Y.Max = 0, float64(sampleRate)/2
	return p, nil
}

// clampColors paints out-of-range cells with the end colours of the scale
// instead of leaving them transparent.
func clampColors(p palette.Palette) (under, over color.Color) {
	colors := p.Colors()
	return colors[0], colors[len(colors)-1]
}

// decimate reduces samples to at most maxPoints points, keeping the minimum
// and maximum of each bucket so peaks survive.
func decimate(samples []float64, sampleRate, maxPoints int) plotter.XYs {
	n := len(samples)
	rate := float64(sampleRate)
	if n <= maxPoints {
		xy := make(plotter.XYs, n)
		for i, v := range samples {
			xy[i].X = float64(i) / rate
			xy[i].Y = v
		}
		return xy
	}

	buckets := max(maxPoints/2, 1)
	size := (n + buckets - 1) / buckets
	xy := make(plotter.XYs, 0, 2*buckets)
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		lo, hi := start, start
		for i := start + 1; i < end; i++ {
			if samples[i] < samples[lo] {
				lo = i
			}
			if samples[i] > samples[hi] {
				hi = i
			}
		}
		first, second := lo, hi
		if hi < lo {
			first, second = hi, lo
		}
		xy = append(xy, plotter.XY{X: float64(first) / rate, Y: samples[first]})
		if second != first {
			xy = append(xy, plotter.XY{X: float64(second) / rate, Y: samples[second]})
		}
	}
	return xy
}
