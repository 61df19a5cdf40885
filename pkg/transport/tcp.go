package transport

import (
	"errors"
	"net"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const tcpDialTimeout = 2 * time.Second

// TCPPort wraps a TCP connection to a serial device server as a Port.
type TCPPort struct {
	conn    net.Conn
	address string
}

var _ Port = (*TCPPort)(nil)

func openTCPPort(address string) (Port, error) {
	conn, err := net.DialTimeout("tcp", address, tcpDialTimeout)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to connect to %s", address)
	}

	logrus.WithField("address", address).Info("connected to serial device server")
	return &TCPPort{conn: conn, address: address}, nil
}

func (t *TCPPort) Read(p []byte) (int, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(portPollInterval))
	n, err := t.conn.Read(p)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	return n, err
}

func (t *TCPPort) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *TCPPort) Close() error {
	return t.conn.Close()
}

func (t *TCPPort) ResetInputBuffer() error {
	buf := make([]byte, 1024)
	for {
		_ = t.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
		n, err := t.conn.Read(buf)
		if n == 0 || err != nil {
			break
		}
	}
	return nil
}
