package hybrid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienstroheker/mavrelay/internal/azure"
	"github.com/julienstroheker/mavrelay/internal/logging"
	"github.com/julienstroheker/mavrelay/internal/transport"
)

// Listener is an Azure Relay Hybrid Connection listener. It keeps a control
// channel open and dials a rendezvous socket for every accept notification.
// A lost control channel is re-established by the next Accept.
type Listener struct {
	host                 string
	hybridConnectionName string
	tokens               azure.TokenSource
	listenerID           string
	logger               *logging.Logger

	mu          sync.Mutex
	closed      bool
	controlConn *websocket.Conn
	lost        chan struct{}
	acceptQueue chan transport.Conn
}

// ListenerOptions contains configuration for a Listener
type ListenerOptions struct {
	Namespace            string // e.g., "myrelay" or "myrelay.servicebus.windows.net"
	HybridConnectionName string // e.g., "vehicle-1"
	Tokens               azure.TokenSource
	Logger               *logging.Logger
}

// NewListener creates a new Hybrid Connection listener
func NewListener(opts *ListenerOptions) (*Listener, error) {
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

	return &Listener{
		host:                 azure.NamespaceHost(opts.Namespace),
		hybridConnectionName: opts.HybridConnectionName,
		tokens:               opts.Tokens,
		listenerID:           uuid.New().String(),
		logger:               opts.Logger,
		acceptQueue:          make(chan transport.Conn, 10),
	}, nil
}

// connect establishes the control channel
func (l *Listener) connect(ctx context.Context) (*websocket.Conn, error) {
	if l.logger != nil {
		l.logger.Debug("Connecting to Azure Relay control channel",
			logging.String("relay_endpoint", l.host),
			logging.String("hybrid_connection_name", l.hybridConnectionName),
			logging.String("listener_id", l.listenerID))
	}

	token, err := l.tokens.Token(ctx, azure.ResourceURI(l.host, l.hybridConnectionName))
	if err != nil {
		return nil, fmt.Errorf("listener token: %w", err)
	}

	// Format: wss://<endpoint>/$hc/<name>?sb-hc-action=listen&sb-hc-id=<listener-id>
	wsURL := fmt.Sprintf("wss://%s/$hc/%s?sb-hc-action=listen&sb-hc-id=%s",
		l.host, l.hybridConnectionName, l.listenerID)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, authHeader(token))
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("failed to connect to relay control channel (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to relay control channel: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if l.logger != nil {
		l.logger.Info("Control channel connected",
			logging.String("hybrid_connection_name", l.hybridConnectionName))
	}
	return conn, nil
}

// Accept waits for and returns the next rendezvous connection
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, transport.ErrListenerClosed
		}
		if l.controlConn == nil {
			l.mu.Unlock()
			conn, err := l.connect(ctx)
			if err != nil {
				return nil, err
			}
			l.mu.Lock()
			if l.closed {
				l.mu.Unlock()
				_ = conn.Close()
				return nil, transport.ErrListenerClosed
			}
			l.controlConn = conn
			l.lost = make(chan struct{})
			go l.handleControlChannel(conn, l.lost)
		}
		lost := l.lost
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case conn, ok := <-l.acceptQueue:
			if !ok {
				return nil, transport.ErrListenerClosed
			}
			return conn, nil
		case <-lost:
		}
	}
}

// acceptMessage represents an accept notification from the control channel
type acceptMessage struct {
	Accept struct {
		Address        string            `json:"address"`
		ID             string            `json:"id"`
		ConnectHeaders map[string]string `json:"connectHeaders"`
	} `json:"accept"`
}

// handleControlChannel processes accept messages until the channel fails
func (l *Listener) handleControlChannel(conn *websocket.Conn, lost chan struct{}) {
	defer func() {
		l.mu.Lock()
		if l.controlConn == conn {
			l.controlConn = nil
		}
		l.mu.Unlock()
		_ = conn.Close()
		close(lost)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if l.logger != nil {
				l.logger.Warn("Control channel read error", logging.Error(err))
			}
			return
		}

		// Control channel uses JSON text messages
		if messageType != websocket.TextMessage {
			continue
		}

		var msg acceptMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if l.logger != nil {
				l.logger.Error("Failed to parse control message", logging.Error(err))
			}
			continue
		}

		if msg.Accept.Address != "" {
			if l.logger != nil {
				l.logger.Debug("Received accept notification",
					logging.String("connection_id", msg.Accept.ID))
			}
			go l.acceptRendezvous(msg.Accept.Address, msg.Accept.ID)
		}
	}
}

// acceptRendezvous dials the rendezvous address carrying the data stream
func (l *Listener) acceptRendezvous(rendezvousAddress, connectionID string) {
	// The rendezvous address is pre-authorized
	conn, err := transport.DialWebSocket(context.Background(), rendezvousAddress, http.Header{})
	if err != nil {
		if l.logger != nil {
			l.logger.Error("Rendezvous connection failed",
				logging.String("connection_id", connectionID),
				logging.Error(err))
		}
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		_ = conn.Close()
		return
	}

	select {
	case l.acceptQueue <- conn:
		if l.logger != nil {
			l.logger.Info("Rendezvous connection established", logging.String("connection_id", connectionID))
		}
	default:
		// Queue full - close the connection to signal backpressure
		if l.logger != nil {
			l.logger.Warn("Accept queue full, dropping connection")
		}
		_ = conn.Close()
	}
}

// Close closes the listener
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	close(l.acceptQueue)

	if l.controlConn != nil {
		return l.controlConn.Close()
	}
	return nil
}

// Addr returns the hybrid connection address
func (l *Listener) Addr() string {
	return fmt.Sprintf("sb://%s/%s", l.host, l.hybridConnectionName)
}

var _ transport.Listener = (*Listener)(nil)
