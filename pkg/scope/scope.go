package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/goqcm/pkg/history"
)

const (
	defaultTimeSpan  = 10 * time.Second
	maxDisplayPoints = 1000
)

// ScopeWidget is a custom Fyne widget that plots zero-adjusted thickness
// over time.
type ScopeWidget struct {
	widget.BaseWidget

	// Data (protected by mu)
	mu         sync.RWMutex
	samples    []history.Sample // Downsampled for display, reused between updates
	rate       float64
	timeToShow time.Duration

	// Auto-scaling
	yMin, yMax float64
	xMin, xMax time.Time
}

// New creates a new ScopeWidget showing at least timeToShow of history.
func New(timeToShow time.Duration) *ScopeWidget {
	s := &ScopeWidget{
		samples:    make([]history.Sample, 0, maxDisplayPoints),
		timeToShow: timeToShow,
	}
	s.updateAutoScale()
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// SetTimeToShow changes the minimum displayed time span. d <= 0 lets the
// axis follow the data.
func (s *ScopeWidget) SetTimeToShow(d time.Duration) {
	s.mu.Lock()
	s.timeToShow = d
	s.updateAutoScale()
	s.mu.Unlock()

	s.Refresh()
}

// UpdateData replaces the plotted window. Must be called on the Fyne
// goroutine (fyne.Do) when driven from acquisition callbacks.
func (s *ScopeWidget) UpdateData(window []history.Sample, rate float64) {
	s.mu.Lock()
	s.samples = history.Downsample(s.samples, window, maxDisplayPoints)
	s.rate = rate
	s.updateAutoScale()
	s.mu.Unlock()

	// Refresh outside the lock; the renderer takes a read lock
	s.Refresh()
}

// updateAutoScale must be called with s.mu held.
func (s *ScopeWidget) updateAutoScale() {
	span := s.timeToShow
	if span <= 0 {
		span = defaultTimeSpan
	}

	if len(s.samples) == 0 {
		s.yMin, s.yMax = 0, 1
		s.xMin = time.Now()
		s.xMax = s.xMin.Add(span)
		return
	}

	s.yMin, s.yMax = valueRange(s.samples)

	s.xMin = s.samples[0].Timestamp
	s.xMax = s.samples[len(s.samples)-1].Timestamp
	if s.xMax.Sub(s.xMin) < span {
		s.xMax = s.xMin.Add(span)
	}
}

// valueRange returns the zero-adjusted value range with a 10% margin.
func valueRange(samples []history.Sample) (lo, hi float64) {
	lo = samples[0].Value()
	hi = lo
	for _, smp := range samples[1:] {
		v := smp.Value()
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	span := hi - lo
	if span == 0 {
		span = 1
	}
	margin := span * 0.1
	return lo - margin, hi + margin
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	background := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &scopeRenderer{
		scope:      s,
		background: background,
		objects:    []fyne.CanvasObject{background},
	}
}
