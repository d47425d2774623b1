// Package remote is the network client for the session authority: HTTP
// calls for connect probing, login and logout, plus the websocket push channel.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pavkata12/client8/internal/domain"
)

const (
	eventBuffer  = 16
	maxErrorBody = 512
)

// Config tunes the client. Zero durations fall back to defaults.
type Config struct {
	ComputerID     string
	ConnectTimeout time.Duration
	LoginTimeout   time.Duration
	LogoutTimeout  time.Duration
	PingInterval   time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 10 * time.Second
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

// Client talks to the authority at the endpoint cursor. At most one push
// channel is open at a time.
type Client struct {
	cfg        Config
	endpoints  *Endpoints
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger

	events     chan domain.PushMessage
	generation atomic.Uint64

	// connectMu serializes Connect so only one attempt moves the cursor.
	connectMu sync.Mutex

	// mu guards the push channel swap.
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a client.
func NewClient(cfg Config, endpoints *Endpoints, logger *zap.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:        cfg,
		endpoints:  endpoints,
		httpClient: &http.Client{},
		dialer:     &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout, Proxy: http.ProxyFromEnvironment},
		logger:     logger.With(zap.String("component", "remote")),
		events:     make(chan domain.PushMessage, eventBuffer),
	}
}

// Endpoint returns the endpoint at the cursor.
func (c *Client) Endpoint() domain.ServerEndpoint {
	return c.endpoints.Current()
}

// Events delivers push messages and channel_lost signals.
func (c *Client) Events() <-chan domain.PushMessage {
	return c.events
}

// Generation identifies the current push channel.
func (c *Client) Generation() uint64 {
	return c.generation.Load()
}

// Connect probes the current endpoint and opens the push channel. On
// failure the cursor advances; retrying is the caller's job. A cancelled
// attempt leaves the cursor where it is.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	ep := c.endpoints.Current()

	err := c.probe(ctx, ep)
	if err == nil {
		err = c.openPush(ctx, ep)
	}
	if err != nil && ctx.Err() != nil {
		c.logger.Debug("connect cancelled", zap.String("endpoint", ep.String()))
		return &domain.ConnectError{Endpoint: ep.String(), Err: ctx.Err()}
	}
	if err != nil {
		next := c.endpoints.Advance()
		c.logger.Warn("connect failed",
			zap.String("endpoint", ep.String()),
			zap.String("next", next.String()),
			zap.Error(err))
		var ce *domain.ConnectError
		if errors.As(err, &ce) {
			return ce
		}
		return &domain.ConnectError{Endpoint: ep.String(), Err: err}
	}

	c.logger.Info("connected", zap.String("endpoint", ep.String()), zap.Uint64("generation", c.Generation()))
	return nil
}

func (c *Client) probe(ctx context.Context, ep domain.ServerEndpoint) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	status, err := c.get(ctx, c.endpoints.BaseURL(ep)+"/api/status")
	if err == nil && status == http.StatusNotFound {
		status, err = c.get(ctx, c.endpoints.BaseURL(ep)+"/api/health")
	}
	if err != nil {
		return &domain.ConnectError{Endpoint: ep.String(), Err: err}
	}
	if status < 200 || status > 299 {
		return &domain.ConnectError{Endpoint: ep.String(), Status: status}
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode, nil
}

// openPush replaces the push channel. The previous receive loop is
// cancelled and awaited before the new one is dialed.
func (c *Client) openPush(ctx context.Context, ep domain.ServerEndpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closePushLocked()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dctx, c.endpoints.PushURL(ep, c.cfg.ComputerID), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		ce := &domain.ConnectError{Endpoint: ep.String(), Err: fmt.Errorf("push channel: %w", err)}
		if resp != nil {
			ce.Status = resp.StatusCode
		}
		return ce
	}

	gen := c.generation.Add(1)
	lctx, lcancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.conn = conn
	c.cancel = lcancel
	c.done = done

	go c.receive(lctx, conn, gen, done)
	return nil
}

func (c *Client) closePushLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	_ = c.conn.Close()
	<-c.done

	c.conn = nil
	c.cancel = nil
	c.done = nil
}

// receive reads frames until the connection fails or ctx is cancelled.
// A failure that was not a cancellation is reported as channel_lost.
func (c *Client) receive(ctx context.Context, conn *websocket.Conn, gen uint64, done chan struct{}) {
	defer close(done)

	kctx, kcancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.keepalive(kctx, conn)
	}()
	defer wg.Wait()
	defer kcancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("push channel lost", zap.Uint64("generation", gen), zap.Error(err))
				c.emit(ctx, domain.PushMessage{Kind: domain.PushChannelLost, Generation: gen, Message: err.Error()})
				_ = conn.Close()
			}
			return
		}

		msg, err := DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping push frame", zap.Error(err))
			continue
		}
		msg.Generation = gen
		c.emit(ctx, msg)
	}
}

// keepalive pings so a dead peer is noticed; a failed ping closes conn,
// which ends the read loop.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.ConnectTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) emit(ctx context.Context, msg domain.PushMessage) {
	select {
	case c.events <- msg:
	case <-ctx.Done():
	}
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	ComputerID string `json:"computer_id"`
}

type loginResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	SessionID string   `json:"session_id"`
	Minutes   *float64 `json:"minutes"`
	User      *struct {
		Minutes *float64 `json:"minutes"`
	} `json:"user"`
}

// Login exchanges credentials for a grant.
func (c *Client) Login(ctx context.Context, creds *Credentials) (*domain.Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LoginTimeout)
	defer cancel()

	var body []byte
	err := creds.reveal(func(password []byte) error {
		var err error
		body, err = json.Marshal(loginRequest{
			Username:   creds.Username,
			Password:   string(password),
			ComputerID: c.cfg.ComputerID,
		})
		return err
	})
	if err != nil {
		return nil, &domain.AuthError{Message: "encode request", Err: err}
	}

	url := c.endpoints.BaseURL(c.endpoints.Current()) + "/api/login"
	status, raw, err := c.postJSON(ctx, url, body)
	if err != nil {
		return nil, &domain.AuthError{Message: "request failed", Err: err}
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		if status != http.StatusOK {
			return nil, &domain.AuthError{Message: fmt.Sprintf("server returned %d", status)}
		}
		return nil, &domain.AuthError{Message: "malformed response", Err: err}
	}
	if status != http.StatusOK || !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("rejected (status %d)", status)
		}
		return nil, &domain.AuthError{Message: msg}
	}

	grant := &domain.Grant{SessionID: resp.SessionID}
	switch {
	case resp.Minutes != nil:
		grant.Minutes = int(*resp.Minutes)
	case resp.User != nil && resp.User.Minutes != nil:
		grant.Minutes = int(*resp.User.Minutes)
	}
	if grant.SessionID == "" {
		grant.SessionID = uuid.NewString()
	}

	c.logger.Info("login accepted",
		zap.String("username", creds.Username),
		zap.String("session_id", grant.SessionID),
		zap.Int("minutes", grant.Minutes))
	return grant, nil
}

type logoutRequest struct {
	SessionID   string `json:"session_id"`
	MinutesUsed int    `json:"minutes_used"`
	ComputerID  string `json:"computer_id"`
}

// Logout reports the end of a session. Failures are logged, never returned.
func (c *Client) Logout(ctx context.Context, sessionID string, minutesUsed int) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LogoutTimeout)
	defer cancel()

	body, _ := json.Marshal(logoutRequest{SessionID: sessionID, MinutesUsed: minutesUsed, ComputerID: c.cfg.ComputerID})
	url := c.endpoints.BaseURL(c.endpoints.Current()) + "/api/logout"

	status, _, err := c.postJSON(ctx, url, body)
	if err != nil {
		c.logger.Warn("logout failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if status != http.StatusOK {
		c.logger.Warn("logout rejected", zap.String("session_id", sessionID), zap.Int("status", status))
		return
	}
	c.logger.Info("logout sent", zap.String("session_id", sessionID), zap.Int("minutes_used", minutesUsed))
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// Close shuts the push channel down without emitting channel_lost.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closePushLocked()
}
