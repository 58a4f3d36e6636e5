package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICProto is the ALPN identifier both ends must agree on
const QUICProto = "mavrelay"

const quicStreamAcceptTimeout = 10 * time.Second

var defaultQUICConfig = &quic.Config{
	KeepAlivePeriod: 10 * time.Second,
	MaxIdleTimeout:  30 * time.Second,
}

// a stream only becomes visible to the peer once it carries data; this
// byte is not a MAVLink start marker, so frame readers skip it
var quicPreamble = []byte{0x00}

// generateTLSConfig creates a self-signed certificate for the listener
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{QUICProto},
	}, nil
}

// QUICConn is the first bidirectional stream of a QUIC connection
type QUICConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	once   sync.Once
}

func (c *QUICConn) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

func (c *QUICConn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

// Close closes the stream and the connection carrying it
func (c *QUICConn) Close() error {
	var err error
	c.once.Do(func() {
		c.stream.CancelRead(0)
		_ = c.stream.Close()
		err = c.conn.CloseWithError(0, "closed")
	})
	return err
}

// SetReadDeadline sets the stream read deadline
func (c *QUICConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

// SetWriteDeadline sets the stream write deadline
func (c *QUICConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

// QUICListener accepts QUIC connections and hands out their first stream
type QUICListener struct {
	ln *quic.Listener
}

// ListenQUIC starts a QUIC listener on addr with a self-signed certificate
func ListenQUIC(addr string) (*QUICListener, error) {
	tlsCfg, err := generateTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}
	ln, err := quic.ListenAddr(addr, tlsCfg, defaultQUICConfig)
	if err != nil {
		return nil, err
	}
	return &QUICListener{ln: ln}, nil
}

// Accept waits for a connection and its first stream
func (l *QUICListener) Accept(ctx context.Context) (Conn, error) {
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrListenerClosed
		}

		streamCtx, cancel := context.WithTimeout(ctx, quicStreamAcceptTimeout)
		stream, err := conn.AcceptStream(streamCtx)
		cancel()
		if err != nil {
			_ = conn.CloseWithError(1, "no stream")
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return &QUICConn{conn: conn, stream: stream}, nil
	}
}

// Close stops the listener
func (l *QUICListener) Close() error {
	return l.ln.Close()
}

// Addr returns the bound address
func (l *QUICListener) Addr() string {
	return l.ln.Addr().String()
}

// QUICDialer connects to a QUIC listener. Server certificates are not
// verified; the link is encrypted but not authenticated.
type QUICDialer struct {
	addr string
}

// NewQUICDialer returns a dialer for addr (host:port)
func NewQUICDialer(addr string) *QUICDialer {
	return &QUICDialer{addr: addr}
}

// Dial connects and opens the data stream
func (d *QUICDialer) Dial(ctx context.Context) (Conn, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // self-signed listener certificates
		NextProtos:         []string{QUICProto},
	}
	conn, err := quic.DialAddr(ctx, d.addr, tlsCfg, defaultQUICConfig)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(1, "open stream")
		return nil, err
	}
	if _, err := stream.Write(quicPreamble); err != nil {
		_ = conn.CloseWithError(1, "preamble")
		return nil, err
	}
	return &QUICConn{conn: conn, stream: stream}, nil
}

// Close is a no-op
func (d *QUICDialer) Close() error {
	return nil
}

var (
	_ Conn     = (*QUICConn)(nil)
	_ Listener = (*QUICListener)(nil)
	_ Dialer   = (*QUICDialer)(nil)
)
