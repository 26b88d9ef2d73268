package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, b *Buffer, ts time.Time, thickness float64) Sample {
	t.Helper()
	s := Sample{Timestamp: ts, Thickness: thickness, Baseline: b.Baseline(), Frequency: 1000}
	require.NoError(t, b.Append(s))
	return s
}

func TestNew(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0.0, b.Baseline())
	assert.Equal(t, 0.0, b.Rate())
	_, ok := b.Latest()
	assert.False(t, ok)
	assert.Empty(t, b.Window(time.Now(), time.Minute))
}

func TestBuffer_SequenceScenario(t *testing.T) {
	b := New()
	t0 := time.Unix(1000, 0)

	record(t, b, t0, 10)
	record(t, b, t0.Add(time.Second), 12)
	record(t, b, t0.Add(2*time.Second), 15)

	window := b.Window(t0.Add(2*time.Second), 1500*time.Millisecond)
	require.Len(t, window, 2)
	assert.Equal(t, t0.Add(time.Second), window[0].Timestamp)
	assert.Equal(t, 12.0, window[0].Value())
	assert.Equal(t, t0.Add(2*time.Second), window[1].Timestamp)
	assert.Equal(t, 15.0, window[1].Value())

	assert.InDelta(t, 3.0, b.Rate(), 1e-12)
}

func TestBuffer_Window(t *testing.T) {
	b := New()
	t0 := time.Unix(1000, 0)
	for i := 0; i < 10; i++ {
		record(t, b, t0.Add(time.Duration(i)*time.Second), float64(i))
	}

	tests := []struct {
		name       string
		now        time.Time
		timeToShow time.Duration
		want       []float64
	}{
		{
			name:       "bounded window includes lower edge",
			now:        t0.Add(9 * time.Second),
			timeToShow: 3 * time.Second,
			want:       []float64{6, 7, 8, 9},
		},
		{
			name:       "zero disables windowing",
			now:        t0.Add(9 * time.Second),
			timeToShow: 0,
			want:       []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		},
		{
			name:       "negative disables windowing",
			now:        t0.Add(9 * time.Second),
			timeToShow: -time.Second,
			want:       []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		},
		{
			name:       "samples after now are excluded",
			now:        t0.Add(4500 * time.Millisecond),
			timeToShow: 2 * time.Second,
			want:       []float64{3, 4},
		},
		{
			name:       "window larger than history",
			now:        t0.Add(9 * time.Second),
			timeToShow: time.Hour,
			want:       []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		},
		{
			name:       "window past the newest sample",
			now:        t0.Add(time.Minute),
			timeToShow: time.Second,
			want:       []float64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := b.Window(tt.now, tt.timeToShow)
			got := make([]float64, 0, len(window))
			for i, s := range window {
				got = append(got, s.Value())
				if i > 0 {
					assert.False(t, s.Timestamp.Before(window[i-1].Timestamp))
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuffer_WindowIsACopy(t *testing.T) {
	b := New()
	t0 := time.Unix(1000, 0)
	record(t, b, t0, 1)

	window := b.Window(t0, 0)
	window[0].Thickness = 99

	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, 1.0, latest.Thickness)
}

func TestBuffer_RejectsOutOfOrder(t *testing.T) {
	b := New()
	t0 := time.Unix(1000, 0)
	record(t, b, t0, 1)

	err := b.Append(Sample{Timestamp: t0.Add(-time.Millisecond), Thickness: 2})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 1, b.Len())

	// Equal timestamps are allowed
	record(t, b, t0, 3)
	assert.Equal(t, 2, b.Len())
}

func TestBuffer_Rate(t *testing.T) {
	t0 := time.Unix(1000, 0)

	t.Run("single sample", func(t *testing.T) {
		b := New()
		record(t, b, t0, 5)
		assert.Equal(t, 0.0, b.Rate())
	})

	t.Run("equal timestamps", func(t *testing.T) {
		b := New()
		record(t, b, t0, 5)
		record(t, b, t0, 7)
		assert.Equal(t, 0.0, b.Rate())
	})

	t.Run("uses full history not window", func(t *testing.T) {
		b := New()
		record(t, b, t0, 0)
		record(t, b, t0.Add(500*time.Millisecond), 1)
		record(t, b, t0.Add(time.Second), 4)
		// (4 - 1) / 0.5s
		assert.InDelta(t, 6.0, b.Rate(), 1e-12)
	})
}

func TestBuffer_SetZero(t *testing.T) {
	b := New()
	t0 := time.Unix(1000, 0)

	assert.Equal(t, 0.0, b.SetZero(), "empty history zeroes to 0")

	first := record(t, b, t0, 10)
	assert.Equal(t, 10.0, first.Value())

	assert.Equal(t, 10.0, b.SetZero())
	assert.Equal(t, 10.0, b.Baseline())

	// Stored samples keep the baseline they were recorded with
	latest, _ := b.Latest()
	assert.Equal(t, 10.0, latest.Value())

	// A new reading equal to the zeroed one reports 0
	next := record(t, b, t0.Add(time.Second), 10)
	assert.Equal(t, 0.0, next.Value())
	assert.Equal(t, 10.0, next.Thickness)

	next = record(t, b, t0.Add(2*time.Second), 13)
	assert.Equal(t, 3.0, next.Value())

	// Zeroing uses raw thickness, not the adjusted value
	assert.Equal(t, 13.0, b.SetZero())
}

func TestBuffer_Samples(t *testing.T) {
	b := New()
	t0 := time.Unix(1000, 0)
	record(t, b, t0, 1)
	require.NoError(t, b.Append(Sample{Timestamp: t0.Add(time.Second), Thickness: 2, Baseline: 1}))

	samples := b.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, 1.0, samples[1].Value())
}
