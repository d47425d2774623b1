// Package fixtures provides test helpers for package and integration tests.
package fixtures

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pavkata12/client8/internal/domain"
)

// LoginRecord is one login call seen by the fake authority.
type LoginRecord struct {
	Username   string
	Password   string
	ComputerID string
}

// LogoutRecord is one logout call seen by the fake authority.
type LogoutRecord struct {
	SessionID   string `json:"session_id"`
	MinutesUsed int    `json:"minutes_used"`
	ComputerID  string `json:"computer_id"`
}

type account struct {
	password string
	minutes  float64
}

// FakeAuthority is an in-process session authority: HTTP endpoints plus a
// websocket push channel.
type FakeAuthority struct {
	Server *httptest.Server

	upgrader websocket.Upgrader

	mu           sync.Mutex
	accounts     map[string]account
	statusCode   int
	healthOnly   bool
	legacyLogin  bool
	loginDelay   time.Duration
	sessionSeq   int
	logins       []LoginRecord
	logouts      []LogoutRecord
	conns        map[*websocket.Conn]string
	connAttempts int
}

// NewFakeAuthority starts a fake authority on a loopback port.
func NewFakeAuthority() *FakeAuthority {
	a := &FakeAuthority{
		accounts:   make(map[string]account),
		statusCode: http.StatusOK,
		conns:      make(map[*websocket.Conn]string),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/health", a.handleHealth)
	mux.HandleFunc("/api/login", a.handleLogin)
	mux.HandleFunc("/api/logout", a.handleLogout)
	mux.HandleFunc("/ws", a.handlePush)
	a.Server = httptest.NewServer(mux)
	return a
}

// Endpoint returns the server address as a domain endpoint.
func (a *FakeAuthority) Endpoint() domain.ServerEndpoint {
	host, port, _ := net.SplitHostPort(a.Server.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return domain.ServerEndpoint{Host: host, Port: p}
}

// AddUser registers an account with a time balance.
func (a *FakeAuthority) AddUser(username, password string, minutes float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts[username] = account{password: password, minutes: minutes}
}

// SetStatus sets the /api/status answer.
func (a *FakeAuthority) SetStatus(code int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statusCode = code
}

// UseHealthOnly makes /api/status answer 404 so clients fall back to /api/health.
func (a *FakeAuthority) UseHealthOnly() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthOnly = true
}

// UseLegacyLogin answers logins with user.minutes and no session id.
func (a *FakeAuthority) UseLegacyLogin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.legacyLogin = true
}

// SetLoginDelay delays every login answer.
func (a *FakeAuthority) SetLoginDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loginDelay = d
}

// Logins returns the recorded login calls.
func (a *FakeAuthority) Logins() []LoginRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]LoginRecord(nil), a.logins...)
}

// Logouts returns the recorded logout calls.
func (a *FakeAuthority) Logouts() []LogoutRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]LogoutRecord(nil), a.logouts...)
}

// ConnCount returns the number of open push channels.
func (a *FakeAuthority) ConnCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// ConnAttempts returns the number of accepted push channel upgrades.
func (a *FakeAuthority) ConnAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connAttempts
}

// ComputerIDs returns the computer ids of the open push channels.
func (a *FakeAuthority) ComputerIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.conns))
	for _, id := range a.conns {
		ids = append(ids, id)
	}
	return ids
}

// Push sends a frame to every open push channel.
func (a *FakeAuthority) Push(frame any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for c := range a.conns {
		if err := c.WriteJSON(frame); err != nil {
			return err
		}
	}
	return nil
}

// PushRaw sends raw bytes to every open push channel.
func (a *FakeAuthority) PushRaw(data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for c := range a.conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every push channel abruptly.
func (a *FakeAuthority) DropConnections() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for c := range a.conns {
		c.Close()
	}
}

// Close stops the server and all push channels.
func (a *FakeAuthority) Close() {
	a.DropConnections()
	a.Server.Close()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *FakeAuthority) handleStatus(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	code, healthOnly := a.statusCode, a.healthOnly
	a.mu.Unlock()

	if healthOnly {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, code, map[string]string{"status": "ok"})
}

func (a *FakeAuthority) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *FakeAuthority) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   string `json:"username"`
		Password   string `json:"password"`
		ComputerID string `json:"computer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "bad request"})
		return
	}

	a.mu.Lock()
	a.logins = append(a.logins, LoginRecord{Username: req.Username, Password: req.Password, ComputerID: req.ComputerID})
	acct, ok := a.accounts[req.Username]
	delay, legacy := a.loginDelay, a.legacyLogin
	a.sessionSeq++
	seq := a.sessionSeq
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if !ok || acct.password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "invalid credentials"})
		return
	}
	if legacy {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": map[string]any{"minutes": acct.minutes}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"session_id": "sess-" + strconv.Itoa(seq),
		"minutes":    acct.minutes,
	})
}

func (a *FakeAuthority) handleLogout(w http.ResponseWriter, r *http.Request) {
	var rec LogoutRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false})
		return
	}
	a.mu.Lock()
	a.logouts = append(a.logouts, rec)
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *FakeAuthority) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	a.mu.Lock()
	a.conns[conn] = r.URL.Query().Get("computer_id")
	a.connAttempts++
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.conns, conn)
		a.mu.Unlock()
		conn.Close()
	}()

	// Reading services ping and close control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
