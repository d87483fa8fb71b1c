package acquire

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// headerTransport wraps a RoundTripper to add default headers to every request.
type headerTransport struct {
	BaseTransport http.RoundTripper
	UserAgent     string
}

func newHeaderTransport(base http.RoundTripper, userAgent string) *headerTransport {
	return &headerTransport{BaseTransport: base, UserAgent: userAgent}
}

// RoundTrip implements the RoundTripper interface to modify the request.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid side effects
	reqClone := req.Clone(req.Context())

	if reqClone.Header.Get("User-Agent") == "" && t.UserAgent != "" {
		reqClone.Header.Set("User-Agent", t.UserAgent)
	}

	return t.BaseTransport.RoundTrip(reqClone)
}

func bearer(token string) string {
	return fmt.Sprintf("Bearer %s", token)
}

// bearerFor returns the Authorization value for rawURL, or "" when the URL's
// host is not one of the configured bearer hosts.
func (f *Fetcher) bearerFor(rawURL string) string {
	if f.cfg.BearerToken == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	for _, h := range f.cfg.BearerHosts {
		if strings.EqualFold(u.Host, h) || strings.EqualFold(u.Hostname(), h) {
			return bearer(f.cfg.BearerToken)
		}
	}
	return ""
}
