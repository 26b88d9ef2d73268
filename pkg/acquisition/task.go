package acquisition

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/itohio/goqcm/pkg/config"
	"github.com/itohio/goqcm/pkg/frame"
)

// FrameVersion is the data element format version written to metadata.
const FrameVersion = 1

// FrameParameters are camera-style acquisition parameters. The QCM does not
// use them; they are carried through to frame metadata for consumers that
// expect them.
type FrameParameters struct {
	ExposureMS float64 `json:"exposure_ms" yaml:"exposure_ms"`
	Binning    int     `json:"binning" yaml:"binning"`
}

// DefaultFrameParameters returns the parameters a new task starts with.
func DefaultFrameParameters() FrameParameters {
	return FrameParameters{
		ExposureMS: 125,
		Binning:    1,
	}
}

// Enricher adds instrument metadata to a frame. A failing enricher does not
// fail the acquisition.
type Enricher interface {
	Enrich(ctx context.Context, metadata map[string]any) error
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context, metadata map[string]any) error

// Enrich calls f.
func (f EnricherFunc) Enrich(ctx context.Context, metadata map[string]any) error {
	return f(ctx, metadata)
}

// Task adapts a Sampler to a hardware-source style acquisition task that
// yields decorated frames.
type Task struct {
	sampler   *Sampler
	id        string
	name      string
	enrichers []Enricher

	mu        sync.Mutex
	active    *FrameParameters
	pending   *FrameParameters
	sessionID string
}

// NewTask creates a task driving sampler. Hardware source identity comes
// from cfg.Acquisition.
func NewTask(sampler *Sampler, cfg *config.Config, enrichers ...Enricher) *Task {
	params := DefaultFrameParameters()
	return &Task{
		sampler:   sampler,
		id:        cfg.Acquisition.HardwareSourceID,
		name:      cfg.Acquisition.HardwareSourceName,
		enrichers: enrichers,
		pending:   &params,
	}
}

// SetFrameParameters stores p; it is applied at the next start or the next
// acquisition cycle.
func (t *Task) SetFrameParameters(p FrameParameters) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = &p
}

// FrameParameters returns the pending parameters if any, else the active
// ones.
func (t *Task) FrameParameters() FrameParameters {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		return *t.pending
	}
	if t.active != nil {
		return *t.active
	}
	return DefaultFrameParameters()
}

// SessionID returns the id of the current acquisition session.
func (t *Task) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// StartAcquisition activates pending parameters, opens a new session and
// puts the sampler live.
func (t *Task) StartAcquisition() {
	t.mu.Lock()
	t.activateLocked()
	if t.sampler.State() != Live {
		t.sessionID = uuid.NewString()
		glog.Infof("Acquisition session %s (%s)", t.sessionID, t.id)
	}
	t.mu.Unlock()

	t.sampler.StartAcquisition()
}

// StopAcquisition stops the sampler.
func (t *Task) StopAcquisition() {
	t.sampler.StopAcquisition()
}

// MarkAcquisition ends the acquisition.
func (t *Task) MarkAcquisition() {
	t.sampler.MarkAcquisition()
}

// AcquireDataElements runs one sampler cycle and returns the frame decorated
// with hardware source metadata.
func (t *Task) AcquireDataElements(ctx context.Context) ([]frame.Frame, error) {
	t.mu.Lock()
	t.activateLocked()
	params := *t.active
	sessionID := t.sessionID
	t.mu.Unlock()

	f, err := t.sampler.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	md := f.Properties.Metadata
	if md == nil {
		md = make(map[string]any)
		f.Properties.Metadata = md
	}

	for _, e := range t.enrichers {
		scratch := make(map[string]any)
		if err := enrich(ctx, e, scratch); err != nil {
			glog.Warningf("Frame %d: metadata enrichment failed: %v", f.Properties.FrameNumber, err)
			continue
		}
		maps.Copy(md, scratch)
	}

	md["hardware_source_id"] = t.id
	md["hardware_source_name"] = t.name
	md["session_id"] = sessionID
	md["exposure"] = params.ExposureMS / 1000.0
	md["binning"] = params.Binning
	md["frame_index"] = f.Properties.FrameNumber
	md["version"] = FrameVersion

	return []frame.Frame{f}, nil
}

// activateLocked must be called with t.mu held.
func (t *Task) activateLocked() {
	if t.pending == nil {
		if t.active == nil {
			params := DefaultFrameParameters()
			t.active = &params
		}
		return
	}
	t.active = t.pending
	t.pending = nil
}

func enrich(ctx context.Context, e Enricher, md map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enricher panic: %v", r)
		}
	}()
	return e.Enrich(ctx, md)
}
