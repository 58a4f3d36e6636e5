package transport

import (
	"os"
	"time"
)

// FileConn replays a raw capture. Reads return the file contents and then
// io.EOF; writes are refused.
type FileConn struct {
	f *os.File
}

// OpenFile opens path for replay
func OpenFile(path string) (*FileConn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &FileConn{f: f}, nil
}

func (c *FileConn) Read(p []byte) (int, error) {
	return c.f.Read(p)
}

func (c *FileConn) Write([]byte) (int, error) {
	return 0, ErrReadOnly
}

// Close closes the file
func (c *FileConn) Close() error {
	return c.f.Close()
}

// SetReadDeadline is a no-op; regular files never block
func (c *FileConn) SetReadDeadline(time.Time) error {
	return nil
}

// SetWriteDeadline is a no-op
func (c *FileConn) SetWriteDeadline(time.Time) error {
	return nil
}

var _ Conn = (*FileConn)(nil)
