package hybrid

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/julienstroheker/mavrelay/internal/azure"
	"github.com/julienstroheker/mavrelay/internal/transport"
)

const handshakeTimeout = 30 * time.Second

// Sender dials a Hybrid Connection listener through Azure Relay
type Sender struct {
	host                 string
	hybridConnectionName string
	tokens               azure.TokenSource
	mu                   sync.Mutex
	closed               bool
}

// SenderOptions contains configuration for a Sender
type SenderOptions struct {
	Namespace            string
	HybridConnectionName string
	Tokens               azure.TokenSource
}

// NewSender creates a new Hybrid Connection sender
func NewSender(opts *SenderOptions) (*Sender, error) {
	if opts == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("relay namespace is required")
	}
	if opts.HybridConnectionName == "" {
		return nil, fmt.Errorf("hybrid connection name is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}

	return &Sender{
		host:                 azure.NamespaceHost(opts.Namespace),
		hybridConnectionName: opts.HybridConnectionName,
		tokens:               opts.Tokens,
	}, nil
}

// Dial creates a new connection to the listener
func (s *Sender) Dial(ctx context.Context) (transport.Conn, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, transport.ErrDialerClosed
	}
	s.mu.Unlock()

	token, err := s.tokens.Token(ctx, azure.ResourceURI(s.host, s.hybridConnectionName))
	if err != nil {
		return nil, fmt.Errorf("sender token: %w", err)
	}

	u, err := s.connectURL(token)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if !azure.IsSASToken(token) {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, err := transport.DialWebSocket(ctx, u, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	return conn, nil
}

// connectURL builds wss://<endpoint>/$hc/<name>?sb-hc-action=connect[&sb-hc-token=<sas>]
func (s *Sender) connectURL(token string) (string, error) {
	u, err := url.Parse(fmt.Sprintf("wss://%s/$hc/%s", s.host, s.hybridConnectionName))
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("sb-hc-action", "connect")
	if azure.IsSASToken(token) {
		q.Set("sb-hc-token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Close closes the sender
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// authHeader places a SAS token in ServiceBusAuthorization and an Azure AD
// token in a bearer Authorization header
func authHeader(token string) http.Header {
	header := http.Header{}
	if azure.IsSASToken(token) {
		header.Set("ServiceBusAuthorization", token)
	} else {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

var _ transport.Dialer = (*Sender)(nil)
