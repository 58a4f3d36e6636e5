package endpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/julienstroheker/mavrelay/internal/azure"
	"github.com/julienstroheker/mavrelay/internal/logging"
	"github.com/julienstroheker/mavrelay/internal/mavlink"
	"github.com/julienstroheker/mavrelay/internal/transport"
	"github.com/julienstroheker/mavrelay/internal/transport/hybrid"
)

const (
	defaultPollTimeout  = 250 * time.Millisecond
	defaultSendTimeout  = time.Second
	defaultRetryInitial = 500 * time.Millisecond
	defaultRetryMax     = 30 * time.Second
)

var (
	// ErrUnsupportedScheme is returned for schemes the parser knows but no transport implements
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	// ErrAzureNotConfigured is returned for hc* endpoints without Azure credentials
	ErrAzureNotConfigured = errors.New("azure relay credentials not configured")
)

// HybridConnectionEnsurer creates missing hybrid connections before use
type HybridConnectionEnsurer interface {
	EnsureHybridConnection(ctx context.Context, namespace, name string) error
}

// AzureOptions configures hcin and hcout endpoints
type AzureOptions struct {
	Tokens azure.TokenSource
	// Ensurer is optional; when set, hybrid connections are provisioned on open
	Ensurer HybridConnectionEnsurer
}

// Options configures how endpoints are opened
type Options struct {
	// Version filters the frames accepted on receive (AnyVersion for both)
	Version mavlink.Version

	// PollTimeout bounds a single Receive call
	PollTimeout time.Duration

	// SendTimeout bounds a single Send call on transports with write deadlines
	SendTimeout time.Duration

	// Reconnect makes dialing endpoints redial after a link failure instead
	// of reporting a fatal receive error
	Reconnect bool

	// RetryMax caps the backoff between redials and failed accepts
	RetryMax time.Duration

	Azure  *AzureOptions
	Logger *logging.Logger
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.PollTimeout <= 0 {
		out.PollTimeout = defaultPollTimeout
	}
	if out.SendTimeout < 0 {
		out.SendTimeout = 0
	} else if out.SendTimeout == 0 {
		out.SendTimeout = defaultSendTimeout
	}
	if out.RetryMax <= 0 {
		out.RetryMax = defaultRetryMax
	}
	return &out
}

func (o *Options) retryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitial
	if b.InitialInterval > o.RetryMax {
		b.InitialInterval = o.RetryMax
	}
	b.MaxInterval = o.RetryMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// open creates the transport for addr and wraps it in an Endpoint
func open(ctx context.Context, id int, addr Address, opts *Options) (*Endpoint, error) {
	logger := opts.Logger.With(logging.Int("endpoint", id), logging.String("address", addr.Raw))

	l, err := openLink(ctx, addr, opts, logger)
	if err != nil {
		return nil, err
	}
	return newEndpoint(id, addr, l, opts), nil
}

func openLink(ctx context.Context, addr Address, opts *Options, logger *logging.Logger) (link, error) {
	switch addr.Scheme {
	case SchemeUDPIn:
		conn, err := transport.ListenUDP(addr.HostPort())
		if err != nil {
			return nil, err
		}
		return &fixedLink{conn: conn}, nil

	case SchemeUDPOut:
		conn, err := transport.DialUDP(addr.HostPort())
		if err != nil {
			return nil, err
		}
		return &fixedLink{conn: conn}, nil

	case SchemeTCPIn:
		ln, err := transport.ListenTCP(addr.HostPort())
		if err != nil {
			return nil, err
		}
		return newAcceptLink(ln, opts.retryBackoff, logger), nil

	case SchemeTCPOut:
		return dialLink(ctx, addr, transport.NewTCPDialer(addr.HostPort()), opts, logger)

	case SchemeSerial:
		return dialLink(ctx, addr, serialDialer{device: addr.Target, baud: addr.Baud()}, opts, logger)

	case SchemeWSIn:
		ln, err := transport.ListenWebSocket(addr.HostPort())
		if err != nil {
			return nil, err
		}
		return newAcceptLink(ln, opts.retryBackoff, logger), nil

	case SchemeWSOut:
		return dialLink(ctx, addr, transport.NewWSDialer("ws://"+addr.HostPort()+"/", nil), opts, logger)

	case SchemeQUICIn:
		ln, err := transport.ListenQUIC(addr.HostPort())
		if err != nil {
			return nil, err
		}
		return newAcceptLink(ln, opts.retryBackoff, logger), nil

	case SchemeQUICOut:
		return dialLink(ctx, addr, transport.NewQUICDialer(addr.HostPort()), opts, logger)

	case SchemeHybridIn:
		if err := ensureHybrid(ctx, addr, opts); err != nil {
			return nil, err
		}
		ln, err := hybrid.NewListener(&hybrid.ListenerOptions{
			Namespace:            addr.Target,
			HybridConnectionName: addr.Param,
			Tokens:               opts.Azure.Tokens,
			Logger:               logger,
		})
		if err != nil {
			return nil, err
		}
		return newAcceptLink(ln, opts.retryBackoff, logger), nil

	case SchemeHybridOut:
		if err := ensureHybrid(ctx, addr, opts); err != nil {
			return nil, err
		}
		sender, err := hybrid.NewSender(&hybrid.SenderOptions{
			Namespace:            addr.Target,
			HybridConnectionName: addr.Param,
			Tokens:               opts.Azure.Tokens,
		})
		if err != nil {
			return nil, err
		}
		return dialLink(ctx, addr, sender, opts, logger)

	case SchemeFile:
		conn, err := transport.OpenFile(addr.Target)
		if err != nil {
			return nil, err
		}
		return &fixedLink{conn: conn}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, addr.Scheme)
}

// dialLink performs the initial dial, which must succeed, and keeps the
// dialer for redials when reconnect is enabled
func dialLink(ctx context.Context, addr Address, dialer transport.Dialer, opts *Options, logger *logging.Logger) (link, error) {
	conn, err := dialer.Dial(ctx)
	if err != nil {
		_ = dialer.Close()
		return nil, err
	}
	if !opts.Reconnect {
		_ = dialer.Close()
		return &fixedLink{conn: conn}, nil
	}
	return newRedialLink(conn, dialer, addr.Raw, opts.retryBackoff, logger), nil
}

func ensureHybrid(ctx context.Context, addr Address, opts *Options) error {
	if opts.Azure == nil || opts.Azure.Tokens == nil {
		return ErrAzureNotConfigured
	}
	if opts.Azure.Ensurer == nil {
		return nil
	}
	return opts.Azure.Ensurer.EnsureHybridConnection(ctx, addr.Target, addr.Param)
}

// serialDialer reopens a serial device, so an unplugged adapter can come back
type serialDialer struct {
	device string
	baud   int
}

func (d serialDialer) Dial(context.Context) (transport.Conn, error) {
	conn, err := transport.OpenSerial(d.device, d.baud)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d serialDialer) Close() error {
	return nil
}
