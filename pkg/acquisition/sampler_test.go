package acquisition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/itohio/goqcm/pkg/config"
	"github.com/itohio/goqcm/pkg/history"
	"github.com/itohio/goqcm/pkg/qpod"
	"github.com/itohio/goqcm/pkg/thickness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Thickness reported for a count of 500000 at the default gate period with
// density and z-ratio of 1.
const steadyThickness = -7258154.747993203

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestSampler(t *testing.T, cfg *config.Config) (*Sampler, *qpod.Mock, *fakeClock) {
	t.Helper()

	mock := qpod.NewMock(&config.MockConfig{BaseCount: 500000})
	link := qpod.NewWithOpener(mock.Opener(), "mock", 0, 0, time.Second)
	require.NoError(t, link.Open())
	t.Cleanup(func() { _ = link.Close() })

	if cfg == nil {
		cfg = config.Default()
		cfg.Acquisition.Delay = 0
	}

	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := New(link, cfg)
	s.now = clock.now
	return s, mock, clock
}

func TestSampler_NotLive(t *testing.T) {
	s, _, _ := newTestSampler(t, nil)
	assert.Equal(t, Idle, s.State())

	_, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNotLive)

	s.StartAcquisition()
	assert.Equal(t, Live, s.State())
	s.StopAcquisition()
	assert.Equal(t, Idle, s.State())

	_, err = s.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNotLive)
	assert.Equal(t, 0, s.History().Len())
}

func TestSampler_Acquire(t *testing.T) {
	s, _, clock := newTestSampler(t, nil)
	s.StartAcquisition()

	for i := 0; i < 3; i++ {
		clock.advance(time.Second)
		f, err := s.Acquire(context.Background())
		require.NoError(t, err)

		assert.Equal(t, uint64(i), f.Properties.FrameNumber)
		require.Len(t, f.Data, i+1)
		for _, v := range f.Data {
			assert.InEpsilon(t, steadyThickness, float64(v), 1e-6)
		}

		spatial := f.Properties.SpatialCalibrations[0]
		assert.InDelta(t, 1.0, spatial.Offset, 1e-9, "first sample is 1s after start")
		assert.Equal(t, "s", spatial.Units)
	}

	assert.Equal(t, 3, s.History().Len())
	assert.Equal(t, 0.0, s.Rate())
}

func TestSampler_FailedCycleLeavesStateUntouched(t *testing.T) {
	s, mock, clock := newTestSampler(t, nil)
	s.StartAcquisition()

	clock.advance(time.Second)
	_, err := s.Acquire(context.Background())
	require.NoError(t, err)

	mock.SetGarbage(true)
	clock.advance(time.Second)
	_, err = s.Acquire(context.Background())
	assert.ErrorIs(t, err, qpod.ErrProtocol)
	mock.SetGarbage(false)

	mock.SetZeroCount(true)
	clock.advance(time.Second)
	_, err = s.Acquire(context.Background())
	assert.ErrorIs(t, err, thickness.ErrMeasurement)
	mock.SetZeroCount(false)

	assert.Equal(t, 1, s.History().Len())
	assert.Equal(t, uint64(1), s.packager.Next())

	clock.advance(time.Second)
	f, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f.Properties.FrameNumber)
	assert.Equal(t, 2, s.History().Len())
}

func TestSampler_DeviceSilent(t *testing.T) {
	s, mock, clock := newTestSampler(t, nil)
	s.StartAcquisition()

	mock.SetSilent(true)
	clock.advance(time.Second)
	_, err := s.Acquire(context.Background())
	assert.ErrorIs(t, err, qpod.ErrTimeout)
	assert.ErrorIs(t, err, qpod.ErrIO)
	assert.Equal(t, 0, s.History().Len())
}

func TestSampler_ClockBackwards(t *testing.T) {
	s, _, clock := newTestSampler(t, nil)
	s.StartAcquisition()

	clock.advance(time.Second)
	_, err := s.Acquire(context.Background())
	require.NoError(t, err)

	clock.advance(-time.Millisecond)
	_, err = s.Acquire(context.Background())
	assert.ErrorIs(t, err, history.ErrOutOfOrder)
	assert.Equal(t, uint64(1), s.packager.Next())
	assert.Equal(t, 1, s.History().Len())
}

func TestSampler_CanceledContext(t *testing.T) {
	s, mock, _ := newTestSampler(t, nil)
	s.StartAcquisition()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	before := len(mock.Commands())
	_, err := s.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, len(mock.Commands()), "no command sent")
	assert.Equal(t, 0, s.History().Len())
}

func TestSampler_SetZero(t *testing.T) {
	s, _, clock := newTestSampler(t, nil)
	s.StartAcquisition()

	assert.Equal(t, 0.0, s.SetZero(), "nothing recorded yet")

	clock.advance(time.Second)
	_, err := s.Acquire(context.Background())
	require.NoError(t, err)

	assert.InEpsilon(t, steadyThickness, s.SetZero(), 1e-12)

	var events []Event
	s.OnUpdate(func(ev Event) { events = append(events, ev) })

	clock.advance(time.Second)
	f, err := s.Acquire(context.Background())
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.InDelta(t, 0.0, events[0].Thickness, 1e-9)

	// Earlier samples keep the baseline they were recorded with
	require.Len(t, f.Data, 2)
	assert.InEpsilon(t, steadyThickness, float64(f.Data[0]), 1e-6)
	assert.Equal(t, float32(0), f.Data[1])
}

func TestSampler_Observers(t *testing.T) {
	s, _, clock := newTestSampler(t, nil)
	s.StartAcquisition()

	var got []Event
	s.OnUpdate(func(ev Event) { got = append(got, ev) })
	s.OnUpdate(nil)

	clock.advance(time.Second)
	_, err := s.Acquire(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, clock.now(), got[0].Timestamp)
	assert.InEpsilon(t, steadyThickness, got[0].Thickness, 1e-12)
	assert.InDelta(t, 1000.0, got[0].Frequency, 1e-9)
	assert.Equal(t, 0.0, got[0].Rate)
}

func TestSampler_Calibration(t *testing.T) {
	s, _, clock := newTestSampler(t, nil)
	s.StartAcquisition()

	require.NoError(t, s.SetDensity(2))
	assert.Equal(t, 2.0, s.Constants().Density)
	assert.Error(t, s.SetDensity(0))
	assert.Error(t, s.SetZRatio(-1))
	assert.Equal(t, 1.0, s.Constants().ZRatio)

	var last Event
	s.OnUpdate(func(ev Event) { last = ev })

	clock.advance(time.Second)
	_, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.InEpsilon(t, steadyThickness/2, last.Thickness, 1e-12)
}

func TestSampler_ReadThickness(t *testing.T) {
	s, _, _ := newTestSampler(t, nil)

	reading, err := s.ReadThickness(context.Background())
	require.NoError(t, err)
	assert.InEpsilon(t, steadyThickness, reading.Thickness, 1e-12)
	assert.InDelta(t, 1000.0, reading.Frequency, 1e-9)
	assert.Equal(t, 0, s.History().Len())
}

func TestSampler_Window(t *testing.T) {
	cfg := config.Default()
	cfg.Acquisition.Delay = 0
	cfg.Display.TimeToShow = 2
	s, _, clock := newTestSampler(t, cfg)
	assert.Equal(t, 2*time.Second, s.TimeToShow())

	s.StartAcquisition()
	for i := 0; i < 5; i++ {
		clock.advance(time.Second)
		_, err := s.Acquire(context.Background())
		require.NoError(t, err)
	}

	assert.Len(t, s.Window(clock.now()), 3)

	s.SetTimeToShow(0)
	assert.Len(t, s.Window(clock.now()), 5)

	clock.advance(time.Second)
	f, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.Data, 6)
}

func TestSampler_StopInterruptsDelay(t *testing.T) {
	cfg := config.Default()
	cfg.Acquisition.Delay = time.Minute
	s, _, _ := newTestSampler(t, cfg)
	s.StartAcquisition()

	s.OnUpdate(func(Event) { s.StopAcquisition() })

	done := make(chan error, 1)
	go func() {
		_, err := s.Acquire(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("delay was not interrupted by stop")
	}
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 1, s.History().Len())
}

func TestSampler_ContextInterruptsDelay(t *testing.T) {
	cfg := config.Default()
	cfg.Acquisition.Delay = time.Minute
	s, _, _ := newTestSampler(t, cfg)
	s.StartAcquisition()

	ctx, cancel := context.WithCancel(context.Background())
	s.OnUpdate(func(Event) { cancel() })

	done := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		assert.NoError(t, err, "the sample was taken before cancellation")
	case <-time.After(5 * time.Second):
		t.Fatal("delay was not interrupted by context")
	}
	assert.Equal(t, Live, s.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "live", Live.String())
	assert.Equal(t, "State(7)", State(7).String())
}
