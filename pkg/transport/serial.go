package transport

import (
	"runtime"
	"sort"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// portPollInterval is the serial read timeout. Read returns (0, nil) when it
// expires so LineTransport can check its context.
const portPollInterval = 100 * time.Millisecond

// SerialMode describes the line settings of a serial port.
type SerialMode struct {
	BaudRate int    `json:"baudRate"`
	DataBits int    `json:"dataBits"`
	Parity   string `json:"parity"` // none, odd, even, mark, space
	StopBits int    `json:"stopBits"`
}

// DefaultMode is the Minolta CS-100A factory setting: 4800 bps, 7E2.
var DefaultMode = SerialMode{
	BaudRate: 4800,
	DataBits: 7,
	Parity:   "even",
	StopBits: 2,
}

func (m SerialMode) toSerial() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: m.BaudRate,
		DataBits: m.DataBits,
	}

	switch strings.ToLower(m.Parity) {
	case "", "none", "n":
		mode.Parity = serial.NoParity
	case "odd", "o":
		mode.Parity = serial.OddParity
	case "even", "e":
		mode.Parity = serial.EvenParity
	case "mark", "m":
		mode.Parity = serial.MarkParity
	case "space", "s":
		mode.Parity = serial.SpaceParity
	default:
		return nil, pkgerrors.Errorf("unknown parity %q", m.Parity)
	}

	switch m.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, pkgerrors.Errorf("unsupported stop bits %d", m.StopBits)
	}

	return mode, nil
}

// SerialPort wraps go.bug.st/serial for RS232 communication.
type SerialPort struct {
	serial.Port
	portName string
}

var _ Port = (*SerialPort)(nil)

func openSerialPort(portName string, m SerialMode) (Port, error) {
	mode, err := m.toSerial()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(portPollInterval); err != nil {
		_ = port.Close()
		return nil, pkgerrors.Wrap(err, "failed to set read timeout")
	}

	logrus.WithFields(logrus.Fields{
		"port":     portName,
		"baudRate": m.BaudRate,
		"dataBits": m.DataBits,
		"parity":   m.Parity,
		"stopBits": m.StopBits,
	}).Info("serial port opened")

	return &SerialPort{Port: port, portName: portName}, nil
}

// Name returns the device name of the port.
func (p *SerialPort) Name() string {
	return p.portName
}

// ListPorts returns the serial ports a colorimeter could be attached to.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list serial ports")
	}
	return filterPorts(ports, runtime.GOOS), nil
}

// filterPorts drops duplicates and ports that are never external adapters on goos.
func filterPorts(ports []string, goos string) []string {
	var filtered []string
	seen := make(map[string]bool)

	for _, port := range ports {
		if seen[port] {
			continue
		}
		seen[port] = true

		switch goos {
		case "darwin":
			// tty.* blocks on open until carrier detect; cu.* is the calling unit.
			if !strings.HasPrefix(port, "/dev/cu.") || strings.Contains(port, "Bluetooth") {
				continue
			}
		case "linux":
			if !strings.HasPrefix(port, "/dev/ttyUSB") && !strings.HasPrefix(port, "/dev/ttyACM") && !strings.HasPrefix(port, "/dev/ttyS") {
				continue
			}
		}
		filtered = append(filtered, port)
	}

	sort.Strings(filtered)
	return filtered
}
