package httpclient

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

var defaultUserAgent = fmt.Sprintf("mavrelay (Go/%s; %s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH)

// UserAgentPolicy prefixes the User-Agent header of every request
type UserAgentPolicy struct {
	userAgent string
}

// NewUserAgentPolicy creates a UserAgentPolicy, falling back to a mavrelay
// agent string when userAgent is empty
func NewUserAgentPolicy(userAgent string) *UserAgentPolicy {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &UserAgentPolicy{userAgent: userAgent}
}

// Do implements Policy. An agent already set by the caller, such as the
// Azure SDK telemetry string, is kept after ours.
func (p *UserAgentPolicy) Do(
	req *http.Request,
	next func(*http.Request) (*http.Response, error),
) (*http.Response, error) {
	existing := req.Header.Get("User-Agent")
	switch {
	case existing == "":
		req.Header.Set("User-Agent", p.userAgent)
	case !strings.HasPrefix(existing, p.userAgent):
		req.Header.Set("User-Agent", p.userAgent+" "+existing)
	}
	return next(req)
}
