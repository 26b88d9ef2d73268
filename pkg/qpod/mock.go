package qpod

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/itohio/goqcm/pkg/config"
	"go.bug.st/serial"
)

var errPortClosed = errors.New("port closed")

// Mock simulates a QPOD controller behind a serial port for testing and
// development. It answers setup commands with an echo of the command code
// and A1 with "A1<count>", where the count follows a linear deposition
// drift plus a deterministic noise term.
type Mock struct {
	cfg *config.MockConfig

	mu       sync.Mutex
	open     bool
	in       []byte
	out      bytes.Buffer
	start    time.Time
	now      func() time.Time
	commands []string

	// Fault injection
	openErr   error
	zeroCount bool
	garbage   bool
	silent    bool
}

// NewMock creates a new mocked device instance.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		cfg = &config.MockConfig{
			BaseCount:      500000,
			DriftPerSecond: -2,
			Noise:          0.5,
		}
	}

	return &Mock{
		cfg: cfg,
		now: time.Now,
	}
}

// Opener returns an Opener that hands out this mock regardless of the
// requested port name.
func (m *Mock) Opener() Opener {
	return func(name string, mode *serial.Mode) (Port, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.openErr != nil {
			return nil, m.openErr
		}
		if m.open {
			return nil, fmt.Errorf("port %s busy", name)
		}
		m.open = true
		m.start = m.now()
		m.in = m.in[:0]
		m.out.Reset()
		return m, nil
	}
}

// Write consumes command bytes and queues replies for complete lines.
func (m *Mock) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return 0, errPortClosed
	}

	m.in = append(m.in, p...)
	for {
		i := bytes.IndexByte(m.in, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(m.in[:i]), "\r")
		m.in = append(m.in[:0], m.in[i+1:]...)
		m.handle(line)
	}
	return len(p), nil
}

// Read returns queued reply bytes. With nothing queued it behaves like an
// expired serial read timeout and returns 0, nil.
func (m *Mock) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return 0, errPortClosed
	}
	if m.out.Len() == 0 {
		return 0, nil
	}
	return m.out.Read(p)
}

// Close closes the simulated port.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return errPortClosed
	}
	m.open = false
	return nil
}

// SetReadTimeout is a no-op; an empty reply queue reads as a timeout.
func (m *Mock) SetReadTimeout(time.Duration) error {
	return nil
}

// ResetInputBuffer drops queued replies.
func (m *Mock) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out.Reset()
	return nil
}

// IsOpen reports whether the simulated port is open.
func (m *Mock) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Commands returns the command codes received so far.
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.commands))
	copy(result, m.commands)
	return result
}

// SetOpenError makes subsequent opens fail with err (nil clears it).
func (m *Mock) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// SetZeroCount makes the device report a count of zero.
func (m *Mock) SetZeroCount(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zeroCount = on
}

// SetGarbage makes the device answer A1 with a non-numeric payload.
func (m *Mock) SetGarbage(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.garbage = on
}

// SetSilent makes the device stop answering.
func (m *Mock) SetSilent(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silent = on
}

// handle must be called with m.mu held.
func (m *Mock) handle(line string) {
	if !strings.HasPrefix(line, "!") {
		return
	}
	code := line[1:]
	m.commands = append(m.commands, code)

	if m.silent {
		return
	}

	switch {
	case code == MeasureCommand:
		switch {
		case m.garbage:
			m.out.WriteString(MeasureCommand + "??\r\n")
		case m.zeroCount:
			m.out.WriteString(MeasureCommand + "0\r\n")
		default:
			fmt.Fprintf(&m.out, "%s%d\r\n", MeasureCommand, m.count())
		}
	default:
		m.out.WriteString(code + "\r\n")
	}
}

// count must be called with m.mu held.
func (m *Mock) count() int64 {
	elapsed := m.now().Sub(m.start).Seconds()
	value := m.cfg.BaseCount + m.cfg.DriftPerSecond*elapsed
	value += (math.Sin(elapsed*1.3) + math.Cos(elapsed*0.7)) * m.cfg.Noise * 0.5
	if value < 1 {
		value = 1
	}
	return int64(math.Round(value))
}
