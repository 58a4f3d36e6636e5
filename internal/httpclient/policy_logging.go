package httpclient

import (
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/julienstroheker/mavrelay/internal/logging"
)

// redactedHeaders never reach the log
var redactedHeaders = []string{"Authorization", "Servicebusauthorization", "Cookie", "Set-Cookie"}

// LoggingPolicy logs management requests at debug level
type LoggingPolicy struct {
	logger        *logging.Logger
	logHeaders    bool
	headerFilters []string
}

// LoggingOptions contains configuration for LoggingPolicy
type LoggingOptions struct {
	// LogHeaders adds request and response headers to the log lines
	LogHeaders bool

	// HeaderFilters names extra headers whose values are redacted
	HeaderFilters []string
}

// NewLoggingPolicy creates a LoggingPolicy
func NewLoggingPolicy(logger *logging.Logger, opts *LoggingOptions) *LoggingPolicy {
	if opts == nil {
		opts = &LoggingOptions{}
	}
	filters := make([]string, 0, len(redactedHeaders)+len(opts.HeaderFilters))
	for _, h := range append(slices.Clone(redactedHeaders), opts.HeaderFilters...) {
		filters = append(filters, http.CanonicalHeaderKey(h))
	}
	return &LoggingPolicy{
		logger:        logger,
		logHeaders:    opts.LogHeaders,
		headerFilters: filters,
	}
}

// Do implements Policy
func (p *LoggingPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	fields := []logging.Field{
		logging.String("method", req.Method),
		logging.String("url", redactQuery(req)),
	}
	if p.logHeaders {
		fields = append(fields, p.formatHeaders("request_headers", req.Header))
	}
	p.logger.Debug("HTTP request", fields...)

	start := time.Now()
	resp, err := next(req)
	duration := time.Since(start)

	if err != nil {
		p.logger.Debug("HTTP request failed",
			logging.String("method", req.Method),
			logging.String("url", redactQuery(req)),
			logging.Duration("duration", duration),
			logging.Error(err))
		return resp, err
	}

	fields = []logging.Field{
		logging.String("method", req.Method),
		logging.String("url", redactQuery(req)),
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", duration),
	}
	if p.logHeaders {
		fields = append(fields, p.formatHeaders("response_headers", resp.Header))
	}
	p.logger.Debug("HTTP response", fields...)
	return resp, nil
}

func (p *LoggingPolicy) formatHeaders(key string, headers http.Header) logging.Field {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		value := strings.Join(headers[name], ", ")
		if slices.Contains(p.headerFilters, http.CanonicalHeaderKey(name)) {
			value = "[REDACTED]"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", name, value))
	}
	return logging.String(key, strings.Join(parts, "; "))
}

// redactQuery drops query values, which may carry SAS signatures
func redactQuery(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	u := *req.URL
	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if k != "api-version" {
				q.Set(k, "REDACTED")
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
