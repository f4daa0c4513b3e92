package pipeline

import (
	"context"

	collyfetcher "github.com/JakeFAU/regcrawl/internal/fetcher/colly"
	"github.com/JakeFAU/regcrawl/internal/proxy"
)

// Retriever is the retrieval unit contract used by a Session.
type Retriever interface {
	Do(ctx context.Context, req collyfetcher.Request, state proxy.State) (collyfetcher.Response, proxy.State, error)
	Download(ctx context.Context, rawURL, dst string, state proxy.State) (proxy.State, error)
}

// Session owns the proxy state of one stage run and threads it through every
// retrieval call. It is not safe for concurrent use; stages are sequential.
type Session struct {
	retriever Retriever
	state     proxy.State
}

// NewSession starts a session from the lease restored from disk (if any).
func NewSession(r Retriever, initial proxy.State) *Session {
	return &Session{retriever: r, state: initial}
}

// Do performs one logical request.
func (s *Session) Do(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	resp, next, err := s.retriever.Do(ctx, req, s.state)
	s.state = next
	return resp, err
}

// Get is shorthand for a GET without query or headers.
func (s *Session) Get(ctx context.Context, rawURL string) (collyfetcher.Response, error) {
	return s.Do(ctx, collyfetcher.Request{URL: rawURL})
}

// Download saves rawURL to dst.
func (s *Session) Download(ctx context.Context, rawURL, dst string) error {
	next, err := s.retriever.Download(ctx, rawURL, dst, s.state)
	s.state = next
	return err
}

// State returns the proxy state after the last call.
func (s *Session) State() proxy.State {
	return s.state
}
