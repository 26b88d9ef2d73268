package scope

import (
	"fmt"
	"image/color"
	"math"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/chewxy/math32"
	"github.com/itohio/goqcm/pkg/history"
)

var (
	gridColor  = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	textColor  = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	traceColor = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	rateColor  = color.RGBA{R: 100, G: 200, B: 255, A: 255}
)

const (
	marginLeft   = float32(80)
	marginRight  = float32(20)
	marginTop    = float32(20)
	marginBottom = float32(40)

	yTicks = 8
	xTicks = 10
)

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope      *ScopeWidget
	background *canvas.Rectangle
	objects    []fyne.CanvasObject
	lastSize   fyne.Size
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.background.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh redraws the plot.
func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	samples := r.scope.samples
	rate := r.scope.rate
	yMin, yMax := r.scope.yMin, r.scope.yMax
	xMin, xMax := r.scope.xMin, r.scope.xMax
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	r.objects = []fyne.CanvasObject{r.background}

	plot := plotArea{
		x:      marginLeft,
		y:      marginTop,
		width:  size.Width - marginLeft - marginRight,
		height: size.Height - marginTop - marginBottom,
		yMin:   yMin,
		yMax:   yMax,
		span:   float32(xMax.Sub(xMin).Seconds()),
	}
	if plot.width <= 0 || plot.height <= 0 {
		return
	}

	r.drawGrid(plot)
	r.drawTrace(plot, samples, xMin)
	r.drawRate(plot, rate)
}

// plotArea maps data coordinates onto the widget.
type plotArea struct {
	x, y, width, height float32
	yMin, yMax          float64
	span                float32 // seconds shown on the time axis
}

// pos maps seconds since xMin and a thickness value to a widget position.
// Points outside the axes are clamped to the plot border. Thickness is made
// relative to yMin before narrowing to float32 so that small changes on a
// large offset stay visible.
func (p plotArea) pos(t float32, v float64) fyne.Position {
	return fyne.NewPos(
		p.x+project(t, 0, p.span, p.width),
		p.y+p.height-project(float32(v-p.yMin), 0, float32(p.yMax-p.yMin), p.height),
	)
}

// project maps v from [lo, hi] onto [0, length].
func project(v, lo, hi, length float32) float32 {
	if hi <= lo {
		return 0
	}
	f := (v - lo) / (hi - lo) * length
	return math32.Max(0, math32.Min(length, f))
}

// niceStep returns a 1, 2 or 5 times power of ten step close to span/n.
func niceStep(span float32, n int) float32 {
	if span <= 0 || n <= 0 {
		return 1
	}
	raw := span / float32(n)
	mag := math32.Pow(10, math32.Floor(math32.Log10(raw)))
	switch frac := raw / mag; {
	case frac <= 1:
		return mag
	case frac <= 2:
		return 2 * mag
	case frac <= 5:
		return 5 * mag
	default:
		return 10 * mag
	}
}

// ticks returns the multiples of a nice step within [lo, hi].
func ticks(lo, hi float64, n int) []float64 {
	step := float64(niceStep(float32(hi-lo), n))
	first := math.Ceil(lo/step) * step
	result := make([]float64, 0, n+2)
	for i := 0; i <= 2*n+2; i++ {
		v := first + float64(i)*step
		if v > hi {
			break
		}
		// Snap values like -0.0000001 to 0 so labels read cleanly
		if math.Abs(v) < step*1e-3 {
			v = 0
		}
		result = append(result, v)
	}
	return result
}

// drawGrid draws the oscilloscope-style grid with labels.
func (r *scopeRenderer) drawGrid(p plotArea) {
	for _, v := range ticks(p.yMin, p.yMax, yTicks) {
		y := p.pos(0, v).Y
		r.addLine(gridColor, 1, fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.width, y))
		r.addText(formatThickness(v), fyne.TextAlignTrailing, fyne.NewPos(p.x-5, y-6))
	}

	for _, t := range ticks(0, float64(p.span), xTicks) {
		x := p.pos(float32(t), p.yMin).X
		r.addLine(gridColor, 1, fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.height))
		r.addText(formatSeconds(t), fyne.TextAlignCenter, fyne.NewPos(x-20, p.y+p.height+5))
	}
}

// drawTrace draws the thickness curve.
func (r *scopeRenderer) drawTrace(p plotArea, samples []history.Sample, xMin time.Time) {
	if len(samples) < 2 {
		return
	}

	prev := p.pos(float32(samples[0].Timestamp.Sub(xMin).Seconds()), samples[0].Value())
	for _, s := range samples[1:] {
		next := p.pos(float32(s.Timestamp.Sub(xMin).Seconds()), s.Value())
		r.addLine(traceColor, 1.5, prev, next)
		prev = next
	}
}

// drawRate prints the latest deposition rate in the top left corner.
func (r *scopeRenderer) drawRate(p plotArea, rate float64) {
	text := canvas.NewText(fmt.Sprintf("%.2f Å/s", rate), rateColor)
	text.TextSize = 11
	text.Move(fyne.NewPos(p.x+10, p.y+10))
	r.objects = append(r.objects, text)
}

func (r *scopeRenderer) addLine(c color.Color, width float32, from, to fyne.Position) {
	line := canvas.NewLine(c)
	line.Position1 = from
	line.Position2 = to
	line.StrokeWidth = width
	r.objects = append(r.objects, line)
}

func (r *scopeRenderer) addText(s string, align fyne.TextAlign, at fyne.Position) {
	text := canvas.NewText(s, textColor)
	text.TextSize = 10
	text.Alignment = align
	text.Move(at)
	r.objects = append(r.objects, text)
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}

func formatThickness(v float64) string {
	if math.Abs(v) >= 1e5 {
		return fmt.Sprintf("%.4gÅ", v)
	}
	return fmt.Sprintf("%.1fÅ", v)
}

func formatSeconds(t float64) string {
	if t < 1 {
		return fmt.Sprintf("%.2fs", t)
	}
	return fmt.Sprintf("%.0fs", t)
}
