package frame

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/goqcm/pkg/history"
)

const (
	// StateComplete marks a fully acquired frame.
	StateComplete = "complete"

	// UnitSeconds is the unit of the spatial (time) axis.
	UnitSeconds = "s"
	// UnitAngstrom is the unit of the intensity (thickness) axis.
	UnitAngstrom = "Å"
)

var (
	// ErrEmptyWindow is returned when there is nothing to package.
	ErrEmptyWindow = errors.New("empty window")
	// ErrNonFinite is returned when a value does not fit a finite float32.
	ErrNonFinite = errors.New("non-finite value")
)

// Calibration maps array indices or values to physical units:
// physical = Offset + Scale*raw.
type Calibration struct {
	Offset float64 `json:"offset" yaml:"offset"`
	Scale  float64 `json:"scale" yaml:"scale"`
	Units  string  `json:"units" yaml:"units"`
}

// Properties carries the frame calibrations and caller supplied metadata.
type Properties struct {
	SpatialCalibrations  []Calibration `json:"spatial_calibrations" yaml:"spatial_calibrations"`
	IntensityCalibration Calibration   `json:"intensity_calibration" yaml:"intensity_calibration"`
	FrameNumber          uint64        `json:"frame_number" yaml:"frame_number"`

	// Metadata is left for callers to merge instrument and hardware source
	// information into. The packager never reads it.
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Frame is one packaged window of zero-adjusted thickness values.
type Frame struct {
	Data       []float32  `json:"data" yaml:"data"`
	Properties Properties `json:"properties" yaml:"properties"`
	State      string     `json:"state" yaml:"state"`
}

// Packager builds frames and numbers them. Numbers start at 0, increase by
// one per built frame and are never reused.
type Packager struct {
	mu   sync.Mutex
	next uint64
}

// NewPackager creates a packager whose first frame is number 0.
func NewPackager() *Packager {
	return &Packager{}
}

// Next returns the number the next successful Build will use.
func (p *Packager) Next() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// Build packages window into a Frame. start is the acquisition start time
// the spatial offset is measured from; now is the time of the newest
// reading. A failed Build does not consume a frame number.
func (p *Packager) Build(window []history.Sample, start, now time.Time) (Frame, error) {
	if len(window) == 0 {
		return Frame{}, ErrEmptyWindow
	}

	data := make([]float32, len(window))
	for i, s := range window {
		v := s.Value()
		if math.IsNaN(v) || math.Abs(v) > math.MaxFloat32 {
			return Frame{}, fmt.Errorf("%w: sample %d value %g", ErrNonFinite, i, v)
		}
		data[i] = float32(v)
	}

	first := window[0].Timestamp
	scale := 1.0
	if len(data) > 1 {
		if s := now.Sub(first).Seconds() / float64(len(data)); s > 0 {
			scale = s
		}
	}

	p.mu.Lock()
	number := p.next
	p.next++
	p.mu.Unlock()

	return Frame{
		Data: data,
		Properties: Properties{
			SpatialCalibrations: []Calibration{{
				Offset: first.Sub(start).Seconds(),
				Scale:  scale,
				Units:  UnitSeconds,
			}},
			IntensityCalibration: Calibration{
				Offset: 0,
				Scale:  1,
				Units:  UnitAngstrom,
			},
			FrameNumber: number,
			Metadata:    make(map[string]any),
		},
		State: StateComplete,
	}, nil
}
