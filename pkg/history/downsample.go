package history

// Downsample reduces samples to at most maxPoints by decimation for display.
// Destination-based: reuses dst if it has sufficient capacity, otherwise
// allocates. The newest sample is always kept so the trace ends at the
// current reading.
func Downsample(dst []Sample, samples []Sample, maxPoints int) []Sample {
	if maxPoints <= 0 || len(samples) <= maxPoints {
		if cap(dst) >= len(samples) {
			dst = dst[:len(samples)]
		} else {
			dst = make([]Sample, len(samples))
		}
		copy(dst, samples)
		return dst
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]Sample, 0, maxPoints)
	}

	step := float64(len(samples)) / float64(maxPoints)
	for i := 0; i < maxPoints-1; i++ {
		dst = append(dst, samples[int(float64(i)*step)])
	}
	dst = append(dst, samples[len(samples)-1])

	return dst
}
