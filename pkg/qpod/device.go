package qpod

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the fixed QPOD line speed.
	DefaultBaudRate = 115200
	// DefaultGatePeriod is the gate period in ns sent on connect.
	DefaultGatePeriod = 2500000
	// DefaultMeasurementPeriod is the measurement period in ns sent on connect.
	DefaultMeasurementPeriod = 25000000
	// DefaultReadTimeout bounds the wait for a reply line.
	DefaultReadTimeout = 5 * time.Second

	// MeasureCommand asks for one raw count.
	MeasureCommand = "A1"

	replyPrefixLen = 2
	maxLineLength  = 256
)

var (
	// ErrConnection is returned when the port cannot be opened or configured.
	ErrConnection = errors.New("connection error")
	// ErrIO is returned when a write or read fails mid-session.
	ErrIO = errors.New("i/o error")
	// ErrTimeout is returned when no reply arrives in time. It also matches ErrIO.
	ErrTimeout = fmt.Errorf("%w: read timeout", ErrIO)
	// ErrProtocol is returned for a malformed reply.
	ErrProtocol = errors.New("protocol error")
	// ErrNotConnected is returned for I/O attempted on a closed link.
	ErrNotConnected = errors.New("not connected")
)

// Opener opens a serial port by name.
type Opener func(name string, mode *serial.Mode) (Port, error)

// PortInfo describes an available serial port.
type PortInfo struct {
	Name        string
	Description string
}

// Serial is a connection to a QPOD controller over a serial port.
type Serial struct {
	port              string
	gatePeriod        int64
	measurementPeriod int64
	readTimeout       time.Duration
	open              Opener

	mu      sync.Mutex
	conn    Port
	pending []byte // bytes received after the last line terminator
}

// New creates a new Serial link for the given port. Zero values select the
// defaults.
func New(port string, gatePeriod, measurementPeriod int64, readTimeout time.Duration) *Serial {
	return NewWithOpener(openSerial, port, gatePeriod, measurementPeriod, readTimeout)
}

// NewWithOpener is like New but opens the port with open.
func NewWithOpener(open Opener, port string, gatePeriod, measurementPeriod int64, readTimeout time.Duration) *Serial {
	if gatePeriod <= 0 {
		gatePeriod = DefaultGatePeriod
	}
	if measurementPeriod <= 0 {
		measurementPeriod = DefaultMeasurementPeriod
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if open == nil {
		open = openSerial
	}

	return &Serial{
		port:              port,
		gatePeriod:        gatePeriod,
		measurementPeriod: measurementPeriod,
		readTimeout:       readTimeout,
		open:              open,
	}
}

func openSerial(name string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Ports returns a list of available serial ports.
func Ports() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]PortInfo, 0, len(details))
	for _, p := range details {
		desc := p.Name
		if p.IsUSB {
			desc = fmt.Sprintf("USB %s:%s", p.VID, p.PID)
			if p.Product != "" {
				desc = p.Product
			}
			if p.SerialNumber != "" {
				desc += " " + p.SerialNumber
			}
		}
		result = append(result, PortInfo{
			Name:        p.Name,
			Description: desc,
		})
	}

	return result, nil
}

// Open opens the serial port with the fixed QPOD line parameters and sends
// the gate and measurement periods. Replies to the setup commands are
// discarded. Open does not retry.
func (d *Serial) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return fmt.Errorf("%w: %s already open", ErrConnection, d.port)
	}

	mode := &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := d.open(d.port, mode)
	if err != nil {
		return fmt.Errorf("%w: failed to open serial port %s: %w", ErrConnection, d.port, err)
	}
	if err := port.SetReadTimeout(d.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("%w: failed to set read timeout on %s: %w", ErrConnection, d.port, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return fmt.Errorf("%w: failed to reset input buffer on %s: %w", ErrConnection, d.port, err)
	}

	d.conn = port
	d.pending = d.pending[:0]

	setup := []string{
		"B" + strconv.FormatInt(d.gatePeriod, 10),
		"C" + strconv.FormatInt(d.measurementPeriod, 10),
	}
	for _, cmd := range setup {
		if _, err := d.command(cmd); err != nil {
			d.release()
			return fmt.Errorf("%w: setup of %s failed: %w", ErrConnection, d.port, err)
		}
	}

	glog.Infof("Connected to QPOD on %s (gate %d ns, measurement %d ns)", d.port, d.gatePeriod, d.measurementPeriod)
	return nil
}

// Close releases the serial port. Closing a closed link is a no-op.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	err := d.release()
	glog.Infof("Disconnected from QPOD on %s", d.port)
	return err
}

func (d *Serial) release() error {
	err := d.conn.Close()
	if err != nil {
		glog.Warningf("Error closing serial port %s: %v", d.port, err)
	}
	d.conn = nil
	d.pending = d.pending[:0]
	return err
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// GatePeriod returns the gate period in ns configured on the device.
func (d *Serial) GatePeriod() int64 {
	return d.gatePeriod
}

// SendCommand sends !<code>\r\n and returns the reply line without its
// terminator.
func (d *Serial) SendCommand(code string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(code)
}

// ReadRawCount issues the measurement command and parses the count that
// follows the two byte reply prefix.
func (d *Serial) ReadRawCount() (int64, error) {
	reply, err := d.SendCommand(MeasureCommand)
	if err != nil {
		return 0, err
	}
	return parseCount(reply)
}

// command must be called with d.mu held.
func (d *Serial) command(code string) (string, error) {
	if d.conn == nil {
		return "", ErrNotConnected
	}

	glog.V(2).Infof("qpod > %s", code)
	if _, err := d.conn.Write([]byte("!" + code + "\r\n")); err != nil {
		return "", fmt.Errorf("%w: write %q: %w", ErrIO, code, err)
	}

	line, err := d.readLine()
	if err != nil {
		return "", fmt.Errorf("command %q: %w", code, err)
	}
	glog.V(2).Infof("qpod < %s", line)
	return line, nil
}

// readLine reads until '\n'. The port read timeout bounds each read; a
// read returning no data means the device stayed silent.
func (d *Serial) readLine() (string, error) {
	var chunk [64]byte
	for {
		if i := bytes.IndexByte(d.pending, '\n'); i >= 0 {
			line := bytes.TrimRight(d.pending[:i], "\r")
			reply, err := decodeASCII(line)
			d.pending = append(d.pending[:0], d.pending[i+1:]...)
			return reply, err
		}
		if len(d.pending) > maxLineLength {
			d.pending = d.pending[:0]
			return "", fmt.Errorf("%w: reply exceeds %d bytes", ErrIO, maxLineLength)
		}

		n, err := d.conn.Read(chunk[:])
		if n > 0 {
			d.pending = append(d.pending, chunk[:n]...)
		}
		if err != nil {
			d.pending = d.pending[:0]
			return "", fmt.Errorf("%w: read: %w", ErrIO, err)
		}
		if n == 0 {
			d.pending = d.pending[:0]
			return "", fmt.Errorf("%w after %s", ErrTimeout, d.readTimeout)
		}
	}
}

func decodeASCII(line []byte) (string, error) {
	for _, b := range line {
		if b >= 0x80 {
			return "", fmt.Errorf("%w: non-ASCII reply %q", ErrIO, line)
		}
	}
	return string(line), nil
}

// parseCount parses a measurement reply: two prefix bytes followed by a
// decimal count.
func parseCount(reply string) (int64, error) {
	if len(reply) <= replyPrefixLen {
		return 0, fmt.Errorf("%w: short reply %q", ErrProtocol, reply)
	}
	payload := strings.TrimSpace(reply[replyPrefixLen:])
	count, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid count %q: %w", ErrProtocol, payload, err)
	}
	return count, nil
}
