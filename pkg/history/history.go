package history

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrOutOfOrder is returned when a sample is older than the latest one.
var ErrOutOfOrder = errors.New("sample out of order")

// Sample is one thickness measurement. Samples are never modified after
// they are appended.
type Sample struct {
	Timestamp time.Time
	Thickness float64 // Raw thickness (Å)
	Baseline  float64 // Zero offset in effect when the sample was recorded
	Frequency float64
}

// Value returns the zero-adjusted thickness.
func (s Sample) Value() float64 {
	return s.Thickness - s.Baseline
}

// Buffer is an append-only history of samples ordered by time. Storage is
// not trimmed; Window bounds what consumers see.
type Buffer struct {
	mu       sync.RWMutex
	samples  []Sample
	baseline float64
}

// New creates an empty history buffer.
func New() *Buffer {
	return &Buffer{
		samples: make([]Sample, 0, 1024),
	}
}

// Append appends s. Timestamps must not decrease.
func (b *Buffer) Append(s Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.samples); n > 0 && s.Timestamp.Before(b.samples[n-1].Timestamp) {
		return fmt.Errorf("%w: %s before %s", ErrOutOfOrder, s.Timestamp, b.samples[n-1].Timestamp)
	}
	b.samples = append(b.samples, s)
	return nil
}

// Window returns a copy of the samples with timestamps in
// [now-timeToShow, now], oldest first. A timeToShow <= 0 disables the lower
// bound.
func (b *Buffer) Window(now time.Time, timeToShow time.Duration) []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if timeToShow > 0 {
		cutoff := now.Add(-timeToShow)
		start = sort.Search(len(b.samples), func(i int) bool {
			return !b.samples[i].Timestamp.Before(cutoff)
		})
	}
	end := sort.Search(len(b.samples), func(i int) bool {
		return b.samples[i].Timestamp.After(now)
	})
	if start >= end {
		return []Sample{}
	}

	result := make([]Sample, end-start)
	copy(result, b.samples[start:end])
	return result
}

// SetZero records the latest raw thickness as the baseline for samples
// recorded from now on. It returns the new baseline.
func (b *Buffer) SetZero() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.baseline = 0
	if n := len(b.samples); n > 0 {
		b.baseline = b.samples[n-1].Thickness
	}
	return b.baseline
}

// Baseline returns the current zero offset.
func (b *Buffer) Baseline() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.baseline
}

// Rate returns the slope of the zero-adjusted thickness between the last two
// samples, in Å/s. It is 0 with fewer than two samples or when both share a
// timestamp.
func (b *Buffer) Rate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.samples)
	if n < 2 {
		return 0
	}
	prev := b.samples[n-2]
	curr := b.samples[n-1]

	dt := curr.Timestamp.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		return 0
	}
	return (curr.Value() - prev.Value()) / dt
}

// Latest returns the most recent sample.
func (b *Buffer) Latest() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Len returns the number of stored samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Samples returns a copy of the full history.
func (b *Buffer) Samples() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Sample, len(b.samples))
	copy(result, b.samples)
	return result
}
