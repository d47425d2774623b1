package remote

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/pavkata12/client8/internal/domain"
)

// Endpoints is the ordered authority list with a failover cursor.
type Endpoints struct {
	mu     sync.Mutex
	list   []domain.ServerEndpoint
	cursor int
	secure bool
}

// NewEndpoints creates a cursor at the first endpoint. secure selects
// https/wss instead of http/ws.
func NewEndpoints(list []domain.ServerEndpoint, secure bool) (*Endpoints, error) {
	if len(list) == 0 {
		return nil, errors.New("at least one server endpoint is required")
	}
	return &Endpoints{
		list:   append([]domain.ServerEndpoint(nil), list...),
		secure: secure,
	}, nil
}

// Current returns the endpoint at the cursor.
func (e *Endpoints) Current() domain.ServerEndpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list[e.cursor]
}

// Advance moves the cursor, wrapping to the first endpoint past the last.
func (e *Endpoints) Advance() domain.ServerEndpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor = (e.cursor + 1) % len(e.list)
	return e.list[e.cursor]
}

// Len returns the number of endpoints.
func (e *Endpoints) Len() int {
	return len(e.list)
}

// BaseURL returns the HTTP base URL of ep.
func (e *Endpoints) BaseURL(ep domain.ServerEndpoint) string {
	scheme := "http"
	if e.secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, ep)
}

// PushURL returns the push channel URL of ep for a computer.
func (e *Endpoints) PushURL(ep domain.ServerEndpoint, computerID string) string {
	scheme := "ws"
	if e.secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     ep.String(),
		Path:     "/ws",
		RawQuery: url.Values{"computer_id": {computerID}}.Encode(),
	}
	return u.String()
}
