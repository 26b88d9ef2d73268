package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/itohio/goqcm/pkg/config"
	"github.com/itohio/goqcm/pkg/frame"
	"github.com/itohio/goqcm/pkg/history"
	"github.com/itohio/goqcm/pkg/qpod"
	"github.com/itohio/goqcm/pkg/thickness"
)

// ErrNotLive is returned by Acquire while the sampler is idle.
var ErrNotLive = errors.New("acquisition not live")

// State is the sampler acquisition state.
type State int

const (
	Idle State = iota
	Live
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Live:
		return "live"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is emitted after every successful sample.
type Event struct {
	Timestamp time.Time
	Thickness float64 // Zero-adjusted (Å)
	Rate      float64 // Å/s
	Frequency float64
}

// Sampler runs read-convert-append-package cycles against one QPOD link.
// A single goroutine is expected to drive Acquire; the setters and the
// state transitions may be called from any goroutine.
type Sampler struct {
	link     qpod.Link
	conv     *thickness.Converter
	hist     *history.Buffer
	packager *frame.Packager
	delay    time.Duration
	now      func() time.Time

	// cycle serializes use of the link.
	cycle sync.Mutex

	mu         sync.RWMutex
	state      State
	stop       chan struct{}
	start      time.Time
	timeToShow time.Duration

	callbacks []func(Event)
	cbMu      sync.RWMutex
}

// New creates a sampler reading from link. The link is expected to be open
// before acquisition starts; the sampler never opens or closes it.
func New(link qpod.Link, cfg *config.Config) *Sampler {
	return &Sampler{
		link:       link,
		conv:       thickness.NewConverter(thickness.DefaultConstants(cfg.Calibration.Density, cfg.Calibration.ZRatio)),
		hist:       history.New(),
		packager:   frame.NewPackager(),
		delay:      cfg.Acquisition.Delay,
		now:        time.Now,
		state:      Idle,
		timeToShow: cfg.Display.Duration(),
	}
}

// State returns the current acquisition state.
func (s *Sampler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// StartAcquisition switches to Live. The first start fixes the time origin
// of the spatial calibration.
func (s *Sampler) StartAcquisition() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Live {
		return
	}
	if s.start.IsZero() {
		s.start = s.now()
	}
	s.stop = make(chan struct{})
	s.state = Live
	glog.Infof("Acquisition started")
}

// StopAcquisition switches to Idle and cuts short a pending inter-sample
// delay.
func (s *Sampler) StopAcquisition() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Live {
		return
	}
	close(s.stop)
	s.state = Idle
	glog.Infof("Acquisition stopped")
}

// MarkAcquisition ends the acquisition; it is the same as StopAcquisition.
func (s *Sampler) MarkAcquisition() {
	s.StopAcquisition()
}

// Acquire performs one cycle and returns the resulting frame, then blocks
// for the inter-sample delay unless stopped or ctx is done. Link and
// conversion errors are returned unchanged; a failed cycle leaves history
// and frame numbering untouched and does not wait.
func (s *Sampler) Acquire(ctx context.Context) (frame.Frame, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	s.mu.RLock()
	live := s.state == Live
	stop := s.stop
	start := s.start
	timeToShow := s.timeToShow
	s.mu.RUnlock()

	if !live {
		return frame.Frame{}, ErrNotLive
	}
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, err
	}

	raw, err := s.link.ReadRawCount()
	if err != nil {
		return frame.Frame{}, err
	}
	reading, err := s.conv.Convert(raw, s.link.GatePeriod())
	if err != nil {
		return frame.Frame{}, err
	}

	now := s.now()
	if latest, ok := s.hist.Latest(); ok && now.Before(latest.Timestamp) {
		return frame.Frame{}, fmt.Errorf("%w: clock went backwards", history.ErrOutOfOrder)
	}

	sample := history.Sample{
		Timestamp: now,
		Thickness: reading.Thickness,
		Baseline:  s.hist.Baseline(),
		Frequency: reading.Frequency,
	}

	// The frame is built before the sample is committed so that a
	// packaging failure leaves the history as it was.
	window := append(s.hist.Window(now, timeToShow), sample)
	f, err := s.packager.Build(window, start, now)
	if err != nil {
		return frame.Frame{}, err
	}
	if err := s.hist.Append(sample); err != nil {
		return frame.Frame{}, err
	}

	s.notify(Event{
		Timestamp: now,
		Thickness: sample.Value(),
		Rate:      s.hist.Rate(),
		Frequency: reading.Frequency,
	})

	s.wait(ctx, stop)

	return f, nil
}

// ReadThickness performs a single conversion without recording it.
func (s *Sampler) ReadThickness(ctx context.Context) (thickness.Reading, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	if err := ctx.Err(); err != nil {
		return thickness.Reading{}, err
	}
	raw, err := s.link.ReadRawCount()
	if err != nil {
		return thickness.Reading{}, err
	}
	return s.conv.Convert(raw, s.link.GatePeriod())
}

func (s *Sampler) wait(ctx context.Context, stop <-chan struct{}) {
	if s.delay <= 0 {
		return
	}

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-stop:
	case <-ctx.Done():
	}
}

// SetZero makes the latest raw thickness the zero reference for the
// following samples and returns it.
func (s *Sampler) SetZero() float64 {
	baseline := s.hist.SetZero()
	glog.Infof("Thickness zeroed at %.2f Å", baseline)
	return baseline
}

// SetDensity sets the film density used from the next sample on.
func (s *Sampler) SetDensity(density float64) error {
	return s.conv.SetDensity(density)
}

// SetZRatio sets the film z-ratio used from the next sample on.
func (s *Sampler) SetZRatio(zRatio float64) error {
	return s.conv.SetZRatio(zRatio)
}

// Constants returns the calibration constants currently in use.
func (s *Sampler) Constants() thickness.Constants {
	return s.conv.Constants()
}

// SetTimeToShow sets the display window. d <= 0 shows the whole history.
func (s *Sampler) SetTimeToShow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeToShow = d
}

// TimeToShow returns the display window.
func (s *Sampler) TimeToShow() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeToShow
}

// Window returns the displayed part of the history at now.
func (s *Sampler) Window(now time.Time) []history.Sample {
	return s.hist.Window(now, s.TimeToShow())
}

// Rate returns the latest deposition rate in Å/s.
func (s *Sampler) Rate() float64 {
	return s.hist.Rate()
}

// History returns the sample history.
func (s *Sampler) History() *history.Buffer {
	return s.hist
}

// OnUpdate registers a callback invoked after every successful sample.
// Callbacks run on the acquiring goroutine and should return quickly.
func (s *Sampler) OnUpdate(callback func(Event)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, callback)
}

func (s *Sampler) notify(ev Event) {
	s.cbMu.RLock()
	callbacks := make([]func(Event), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(ev)
		}
	}
}
