package httpclient

import (
	"net/http"

	"github.com/google/uuid"
)

// DefaultRequestIDHeader is the header Azure Resource Manager echoes back as
// x-ms-client-request-id
const DefaultRequestIDHeader = "X-Ms-Client-Request-Id"

// RequestIDPolicy stamps each request with a unique id
type RequestIDPolicy struct {
	headerName string
}

// NewRequestIDPolicy creates a RequestIDPolicy writing headerName
func NewRequestIDPolicy(headerName string) *RequestIDPolicy {
	if headerName == "" {
		headerName = DefaultRequestIDHeader
	}
	return &RequestIDPolicy{headerName: headerName}
}

// Do implements Policy. Ids already present are left alone so retries of
// the same operation share one id.
func (p *RequestIDPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	if req.Header.Get(p.headerName) == "" {
		req.Header.Set(p.headerName, uuid.New().String())
	}
	return next(req)
}
