package httpclient

import (
	"net/http"
	"time"

	"github.com/julienstroheker/mavrelay/internal/logging"
)

// Client sends requests through a chain of policies. It satisfies the
// Azure SDK Transporter interface, so it can carry ARM traffic.
type Client struct {
	httpClient *http.Client
	policies   []Policy
}

// Options contains configuration options for the HTTP client
type Options struct {
	// Timeout is the maximum time for the entire request
	Timeout time.Duration

	// Logger enables request logging at debug level (optional)
	Logger *logging.Logger

	// LogHeaders includes redacted headers in the request log
	LogHeaders bool

	// UserAgent is prefixed to the User-Agent header
	UserAgent string

	// Transport allows customizing the underlying HTTP transport
	Transport http.RoundTripper

	// AdditionalPolicies run innermost, closest to the wire
	AdditionalPolicies []Policy
}

// DefaultOptions returns default options for the HTTP client
func DefaultOptions() *Options {
	return &Options{
		Timeout:   30 * time.Second,
		UserAgent: defaultUserAgent,
	}
}

// NewClient creates a new HTTP client with the given options. Retries are
// left to the caller's pipeline.
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}

	httpClient := &http.Client{Timeout: opts.Timeout}
	if opts.Transport != nil {
		httpClient.Transport = opts.Transport
	}

	// request id first so the logging policy sees it
	policies := []Policy{
		NewRequestIDPolicy(DefaultRequestIDHeader),
		NewUserAgentPolicy(opts.UserAgent),
	}
	if opts.Logger != nil {
		policies = append(policies, NewLoggingPolicy(opts.Logger, &LoggingOptions{LogHeaders: opts.LogHeaders}))
	}
	policies = append(policies, opts.AdditionalPolicies...)

	return &Client{
		httpClient: httpClient,
		policies:   policies,
	}
}

// Do executes an HTTP request through the policy chain
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	next := c.httpClient.Do

	for i := len(c.policies) - 1; i >= 0; i-- {
		policy := c.policies[i]
		inner := next
		next = func(r *http.Request) (*http.Response, error) {
			return policy.Do(r, inner)
		}
	}

	return next(req)
}
