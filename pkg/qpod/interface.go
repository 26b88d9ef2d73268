package qpod

import (
	"io"
	"time"
)

// Link defines the request/response channel to a QPOD controller.
type Link interface {
	Open() error
	Close() error
	SendCommand(code string) (string, error)
	ReadRawCount() (int64, error)
	GatePeriod() int64
	IsConnected() bool
}

// Port is the subset of a serial port handle the link needs.
// go.bug.st/serial ports satisfy it, and so does Mock.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Ensure Serial implements Link.
var _ Link = (*Serial)(nil)

// Ensure Mock implements Port.
var _ Port = (*Mock)(nil)
