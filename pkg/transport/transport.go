// Package transport provides the line-oriented channel used to talk to a
// measurement instrument. A Transport writes ASCII commands and reads one
// response line at a time over a Port, which may be a physical serial port,
// a serial-over-TCP bridge or an emulated instrument.
package transport

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	// ErrDeviceNotReady is returned when the transport is not open.
	ErrDeviceNotReady = errors.New("device not ready")

	// ErrTimeout is returned when no complete response arrives in time.
	ErrTimeout = errors.New("timed out waiting for device response")
)

// Transport is a line-oriented request/response channel to an instrument.
type Transport interface {
	// Open acquires the underlying port. Opening an open transport is a no-op.
	Open() error
	// IsOpen reports whether the port is held.
	IsOpen() bool
	// Write sends command verbatim.
	Write(ctx context.Context, command string) error
	// Read blocks for one response line and returns it without its terminator.
	Read(ctx context.Context) (string, error)
	// Close releases the port.
	Close() error
}

// Port is the byte-level device interface for RS232 communication.
// Read may return (0, nil) when nothing arrived within the port's own
// polling interval.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Opener opens a Port.
type Opener func() (Port, error)

const (
	schemeTCP  = "tcp://"
	schemeMock = "mock://"

	// DefaultReadTimeout bounds a read when the caller's context has no deadline.
	// A CS-100A measurement takes a little over a second in slow mode.
	DefaultReadTimeout = 5 * time.Second
)

// Options configures a transport created by New.
type Options struct {
	Mode        SerialMode
	ReadTimeout time.Duration
}

// New returns a closed transport for address. The address selects the port:
//
//	tcp://host:port  serial-over-TCP bridge
//	mock://          emulated Minolta CS-100A
//	anything else    serial device (e.g. /dev/ttyUSB0, COM3)
func New(address string, opts Options) *LineTransport {
	var opener Opener
	switch {
	case strings.HasPrefix(address, schemeTCP):
		addr := strings.TrimPrefix(address, schemeTCP)
		opener = func() (Port, error) { return openTCPPort(addr) }
	case strings.HasPrefix(address, schemeMock):
		opener = func() (Port, error) { return NewMockPort(), nil }
	default:
		mode := opts.Mode
		if mode.BaudRate == 0 {
			mode = DefaultMode
		}
		opener = func() (Port, error) { return openSerialPort(address, mode) }
	}

	return NewLineTransport(address, opener, opts.ReadTimeout)
}

// Open is New followed by Open.
func Open(address string, opts Options) (*LineTransport, error) {
	t := New(address, opts)
	if err := t.Open(); err != nil {
		return nil, err
	}
	return t, nil
}
