package httpclient

import (
	"net/http"
)

// Policy wraps a single outgoing request. Implementations call next exactly
// once unless they fail the request themselves.
type Policy interface {
	Do(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error)
}

// PolicyFunc is a function adapter for Policy
type PolicyFunc func(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error)

// Do implements Policy
func (f PolicyFunc) Do(req *http.Request, next func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	return f(req, next)
}
