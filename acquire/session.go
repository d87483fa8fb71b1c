package acquire

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Session scopes acquisitions to a single export. Concurrent requests for the
// same URL share one in-flight acquisition, and all temporary handles are
// released on Close. Nothing is cached once an acquisition completes.
type Session struct {
	fetcher *Fetcher
	handles *HandleSet
	group   singleflight.Group
}

// NewSession starts a request-scoped session.
func (f *Fetcher) NewSession() *Session {
	return &Session{
		fetcher: f,
		handles: NewHandleSet(f.cfg.TempDir),
	}
}

// Acquire resolves req, joining an identical in-flight acquisition if any.
func (s *Session) Acquire(ctx context.Context, req Request) Result {
	v, _, _ := s.group.Do(req.URL, func() (interface{}, error) {
		return s.fetcher.acquire(ctx, s.handles, req), nil
	})
	return v.(Result)
}

// Outstanding returns the number of temporary handles still held.
func (s *Session) Outstanding() int {
	return s.handles.Len()
}

// Close releases every handle the session still holds.
func (s *Session) Close() error {
	return s.handles.Close()
}
