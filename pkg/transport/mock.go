package transport

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MockPort emulates a Minolta CS-100A on the other end of the cable. It
// answers MES with a fixed reading after Delay and any other command with
// ER00. It is what mock:// addresses open, for development without hardware.
type MockPort struct {
	mu      sync.Mutex
	readBuf *bytes.Buffer
	lineBuf []byte
	ready   chan struct{}
	closed  bool

	// Delay simulates the instrument's integration time.
	Delay time.Duration
	// Luminance, ChromaX and ChromaY make up the reading returned by MES.
	Luminance float64
	ChromaX   float64
	ChromaY   float64
	// ErrorCode, when set (e.g. "ER10"), is returned instead of a reading.
	ErrorCode string
}

var _ Port = (*MockPort)(nil)

// NewMockPort returns an emulated instrument reading a D65 white at 80 cd/m².
func NewMockPort() *MockPort {
	return &MockPort{
		readBuf:   new(bytes.Buffer),
		ready:     make(chan struct{}, 1),
		Delay:     100 * time.Millisecond,
		Luminance: 80.0,
		ChromaX:   0.3127,
		ChromaY:   0.3290,
	}
}

func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, io.EOF
	}
	if m.readBuf.Len() > 0 {
		defer m.mu.Unlock()
		return m.readBuf.Read(p)
	}
	m.mu.Unlock()

	select {
	case <-m.ready:
	case <-time.After(portPollInterval):
	}
	return 0, nil
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, io.ErrClosedPipe
	}

	m.lineBuf = append(m.lineBuf, p...)
	for {
		i := bytes.IndexByte(m.lineBuf, '\n')
		if i < 0 {
			break
		}
		cmd := strings.TrimSpace(string(m.lineBuf[:i]))
		m.lineBuf = m.lineBuf[i+1:]
		go m.respond(m.reply(cmd))
	}

	return len(p), nil
}

// reply must be called with mu held.
func (m *MockPort) reply(cmd string) string {
	if cmd != "MES" {
		return "ER00"
	}
	if m.ErrorCode != "" {
		return m.ErrorCode
	}
	return fmt.Sprintf("OK00,%7.2f,%.4f,%.4f", m.Luminance, m.ChromaX, m.ChromaY)
}

func (m *MockPort) respond(line string) {
	m.mu.Lock()
	delay := m.Delay
	m.mu.Unlock()

	time.Sleep(delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	logrus.WithField("line", line).Trace("mock instrument reply")
	m.readBuf.WriteString(line + "\r\n")

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuf.Reset()
	return nil
}
