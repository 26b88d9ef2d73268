package thickness

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrMeasurement is returned when a raw reading cannot be turned into a
// physical thickness (no oscillations counted, or the z-ratio correction
// hits its singularity).
var ErrMeasurement = errors.New("measurement error")

const (
	// ATConst is the AT-cut quartz frequency constant (Hz·Å).
	ATConst = 16.68e12
	// QuartzDensity is the density of quartz (g/cm³).
	QuartzDensity = 2.648
	// Pi is the value of π used by the QPOD vendor software. Readings
	// only agree with the vendor display when this truncated value is used.
	Pi = 3.1416
	// FreqInit is the base oscillator frequency of a fresh crystal (Hz).
	FreqInit = 6e6

	// singularityEpsilon bounds |cos| of the correction argument; below it
	// tan() is treated as divergent.
	singularityEpsilon = 1e-12
)

// Constants holds the physical constants used by Convert.
type Constants struct {
	ATConst       float64
	QuartzDensity float64
	Pi            float64
	FreqInit      float64
	Density       float64 // Film density (g/cm³)
	ZRatio        float64 // Film acoustic impedance ratio
}

// Reading is the result of one conversion.
type Reading struct {
	Thickness float64 // Å
	Frequency float64
}

// DefaultConstants returns the QPOD constants with the given film parameters.
func DefaultConstants(density, zRatio float64) Constants {
	return Constants{
		ATConst:       ATConst,
		QuartzDensity: QuartzDensity,
		Pi:            Pi,
		FreqInit:      FreqInit,
		Density:       density,
		ZRatio:        zRatio,
	}
}

// Convert maps a raw count reported for the given gate period to a crystal
// frequency and a film thickness corrected for the z-ratio.
//
//	frequency = 200 * gatePeriod / rawCount
//	thickness = ATConst*QuartzDensity / (Pi*frequency*Density*ZRatio)
//	          * atan(ZRatio * tan(Pi*(FreqInit-frequency)/FreqInit))
func Convert(rawCount, gatePeriod int64, c Constants) (Reading, error) {
	if rawCount <= 0 {
		return Reading{}, fmt.Errorf("%w: raw count %d", ErrMeasurement, rawCount)
	}
	if c.Density <= 0 || c.ZRatio <= 0 {
		return Reading{}, fmt.Errorf("%w: density %g and z-ratio %g must be positive", ErrMeasurement, c.Density, c.ZRatio)
	}

	freq := 200.0 * float64(gatePeriod) / float64(rawCount)
	if freq <= 0 {
		return Reading{}, fmt.Errorf("%w: frequency %g from gate period %d", ErrMeasurement, freq, gatePeriod)
	}

	thickness := (c.ATConst * c.QuartzDensity) / (c.Pi * freq * c.Density * c.ZRatio)

	arg := c.Pi * (c.FreqInit - freq) / c.FreqInit
	if math.Abs(math.Cos(arg)) < singularityEpsilon {
		return Reading{}, fmt.Errorf("%w: z-ratio correction diverges at frequency %g", ErrMeasurement, freq)
	}
	thickness *= math.Atan(c.ZRatio * math.Tan(arg))

	if math.IsNaN(thickness) || math.IsInf(thickness, 0) {
		return Reading{}, fmt.Errorf("%w: non-finite thickness at frequency %g", ErrMeasurement, freq)
	}

	return Reading{Thickness: thickness, Frequency: freq}, nil
}

// Converter holds the calibration constants for a device session. Density
// and z-ratio may be changed between samples; a change applies to the next
// conversion only.
type Converter struct {
	mu        sync.RWMutex
	constants Constants
}

// NewConverter creates a converter with the given constants.
func NewConverter(c Constants) *Converter {
	return &Converter{constants: c}
}

// Convert converts a raw count with the current constants.
func (c *Converter) Convert(rawCount, gatePeriod int64) (Reading, error) {
	return Convert(rawCount, gatePeriod, c.Constants())
}

// Constants returns a snapshot of the current constants.
func (c *Converter) Constants() Constants {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.constants
}

// SetDensity sets the film density (g/cm³).
func (c *Converter) SetDensity(density float64) error {
	if density <= 0 || math.IsNaN(density) || math.IsInf(density, 0) {
		return fmt.Errorf("invalid density %g", density)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.constants.Density = density
	return nil
}

// SetZRatio sets the film z-ratio.
func (c *Converter) SetZRatio(zRatio float64) error {
	if zRatio <= 0 || math.IsNaN(zRatio) || math.IsInf(zRatio, 0) {
		return fmt.Errorf("invalid z-ratio %g", zRatio)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.constants.ZRatio = zRatio
	return nil
}
