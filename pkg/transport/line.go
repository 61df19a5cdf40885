package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// idleBackoff keeps a port that returns (0, nil) immediately from spinning.
var idleBackoff = 10 * time.Millisecond

// LineTransport frames CR/LF terminated lines over a Port.
//
// stateMu guards the port and is only held briefly, so IsOpen and Close do
// not wait for a read in flight. exchangeMu serializes Open, Write and Read
// and guards pending.
type LineTransport struct {
	address     string
	opener      Opener
	readTimeout time.Duration

	stateMu sync.Mutex
	port    Port

	exchangeMu sync.Mutex
	pending    []byte
}

var _ Transport = (*LineTransport)(nil)

// NewLineTransport returns a closed transport that opens its port with opener.
// A zero readTimeout means DefaultReadTimeout.
func NewLineTransport(address string, opener Opener, readTimeout time.Duration) *LineTransport {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &LineTransport{
		address:     address,
		opener:      opener,
		readTimeout: readTimeout,
	}
}

// Address returns the address the transport was created for.
func (t *LineTransport) Address() string {
	return t.address
}

func (t *LineTransport) currentPort() Port {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.port
}

func (t *LineTransport) Open() error {
	t.exchangeMu.Lock()
	defer t.exchangeMu.Unlock()

	if t.currentPort() != nil {
		return nil
	}

	p, err := t.opener()
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open %s", t.address)
	}
	t.stateMu.Lock()
	t.port = p
	t.stateMu.Unlock()
	t.pending = nil

	logrus.WithField("address", t.address).Debug("transport opened")
	return nil
}

func (t *LineTransport) IsOpen() bool {
	return t.currentPort() != nil
}

func (t *LineTransport) Write(ctx context.Context, command string) error {
	t.exchangeMu.Lock()
	defer t.exchangeMu.Unlock()

	p := t.currentPort()
	if p == nil {
		return ErrDeviceNotReady
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Drop anything left over from an earlier exchange so it cannot be
	// taken for the reply to this command.
	if err := p.ResetInputBuffer(); err != nil {
		logrus.WithError(err).WithField("address", t.address).Warn("failed to reset input buffer")
	}
	t.pending = nil

	logrus.WithFields(logrus.Fields{
		"address": t.address,
		"command": command,
	}).Trace("write")

	n, err := p.Write([]byte(command))
	if err != nil {
		return pkgerrors.Wrapf(err, "write to %s", t.address)
	}
	if n != len(command) {
		return pkgerrors.Errorf("short write to %s: %d of %d bytes", t.address, n, len(command))
	}
	return nil
}

func (t *LineTransport) Read(ctx context.Context) (string, error) {
	t.exchangeMu.Lock()
	defer t.exchangeMu.Unlock()

	p := t.currentPort()
	if p == nil {
		return "", ErrDeviceNotReady
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.readTimeout)
		defer cancel()
	}

	buf := make([]byte, 256)
	for {
		if line, ok := t.takeLine(); ok {
			logrus.WithFields(logrus.Fields{
				"address": t.address,
				"line":    line,
			}).Trace("read")
			return line, nil
		}

		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", pkgerrors.Wrapf(ErrTimeout, "no response from %s", t.address)
			}
			return "", err
		}
		if t.currentPort() != p {
			return "", pkgerrors.Wrapf(ErrDeviceNotReady, "%s was closed during the read", t.address)
		}

		n, err := p.Read(buf)
		if n > 0 {
			t.pending = append(t.pending, buf[:n]...)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || t.currentPort() != p {
				return "", pkgerrors.Wrapf(ErrDeviceNotReady, "%s closed the connection", t.address)
			}
			return "", pkgerrors.Wrapf(err, "read from %s", t.address)
		}

		time.Sleep(idleBackoff)
	}
}

// takeLine pops one complete line off the pending buffer.
func (t *LineTransport) takeLine() (string, bool) {
	i := bytes.IndexByte(t.pending, '\n')
	if i < 0 {
		return "", false
	}
	line := bytes.TrimSuffix(t.pending[:i], []byte{'\r'})
	t.pending = t.pending[i+1:]
	return string(line), true
}

// Close releases the port. A read in flight fails with ErrDeviceNotReady.
func (t *LineTransport) Close() error {
	t.stateMu.Lock()
	p := t.port
	t.port = nil
	t.stateMu.Unlock()

	if p == nil {
		return nil
	}

	err := p.Close()

	logrus.WithField("address", t.address).Debug("transport closed")

	if err != nil {
		return pkgerrors.Wrapf(err, "close %s", t.address)
	}
	return nil
}
