package transport

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConn adapts a serial port to Conn. The port exposes a read timeout
// rather than deadlines, so deadlines are converted on every Read.
type SerialConn struct {
	port serial.Port
	name string

	mu           sync.Mutex
	readDeadline time.Time
}

// OpenSerial opens device at baud, 8N1
func OpenSerial(device string, baud int) (*SerialConn, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	return &SerialConn{port: port, name: device}, nil
}

// Read reads from the port. A timeout with no data is reported as
// os.ErrDeadlineExceeded.
func (c *SerialConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	timeout := serial.NoTimeout
	if !deadline.IsZero() {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
	}
	if err := c.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}

	n, err := c.port.Read(p)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, os.ErrDeadlineExceeded
	}
	return n, nil
}

// Write writes to the port
func (c *SerialConn) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

// Close closes the port
func (c *SerialConn) Close() error {
	return c.port.Close()
}

// SetReadDeadline arms the timeout used by subsequent reads
func (c *SerialConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

// SetWriteDeadline is unsupported by serial ports and ignored
func (c *SerialConn) SetWriteDeadline(time.Time) error {
	return nil
}

var _ Conn = (*SerialConn)(nil)
