package daemon

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavkata12/client8/internal/domain"
	"github.com/pavkata12/client8/internal/remote"
	"github.com/pavkata12/client8/internal/usecase"
)

var (
	_ InputInterceptor = (*usecase.Interceptor)(nil)
	_ Guard            = (*usecase.ProcessGuard)(nil)
	_ Restrictions     = (*usecase.RestrictionEnforcer)(nil)
	_ SessionClient    = (*remote.Client)(nil)
)

// fakeClock hands out tickers driven by tick and timers fired by fireTimers.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	timers  []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	tk := &fakeTicker{c: make(chan time.Time)}
	f.tickers = append(f.tickers, tk)
	return tk
}

func (f *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	tm := &fakeTimer{delay: d, fn: fn}
	f.timers = append(f.timers, tm)
	return tm
}

func (f *fakeClock) activeTicker() *fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.tickers) - 1; i >= 0; i-- {
		if !f.tickers[i].stopped.Load() {
			return f.tickers[i]
		}
	}
	return nil
}

// tryTick delivers one tick to the running countdown. It reports false
// when no countdown took the tick.
func (f *fakeClock) tryTick() bool {
	tk := f.activeTicker()
	if tk == nil {
		return false
	}
	f.mu.Lock()
	f.now = f.now.Add(time.Second)
	now := f.now
	f.mu.Unlock()

	select {
	case tk.c <- now:
		return true
	case <-time.After(500 * time.Millisecond):
		return false
	}
}

func (f *fakeClock) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !f.tryTick() {
			t.Fatalf("tick %d of %d not delivered", i+1, n)
		}
	}
}

// pending returns timers neither stopped nor fired.
func (f *fakeClock) pending() []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeTimer
	for _, tm := range f.timers {
		if !tm.stopped.Load() && !tm.fired.Load() {
			out = append(out, tm)
		}
	}
	return out
}

func (f *fakeClock) fireTimers() int {
	timers := f.pending()
	for _, tm := range timers {
		tm.fired.Store(true)
		tm.fn()
	}
	return len(timers)
}

type fakeTicker struct {
	c       chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped atomic.Bool
	fired   atomic.Bool
}

func (t *fakeTimer) Stop() bool {
	return !t.stopped.Swap(true) && !t.fired.Load()
}

type fakeInput struct {
	mu          sync.Mutex
	active      bool
	mode        domain.LockdownMode
	activations []domain.LockdownMode
	deactivated int
	activateErr error
}

func (f *fakeInput) Activate(p domain.LockdownProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations = append(f.activations, p.Mode)
	if f.activateErr != nil {
		f.active, f.mode = false, ""
		return f.activateErr
	}
	f.active, f.mode = true, p.Mode
	return nil
}

func (f *fakeInput) Deactivate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.deactivated++
	}
	f.active, f.mode = false, ""
	return nil
}

func (f *fakeInput) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeInput) Mode() domain.LockdownMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *fakeInput) history() []domain.LockdownMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LockdownMode(nil), f.activations...)
}

type fakeGuard struct {
	mu       sync.Mutex
	started  bool
	alive    bool
	starts   int
	stops    int
	restarts int
	rules    []domain.ProcessRule
}

func (g *fakeGuard) Start(time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return
	}
	g.started, g.alive = true, true
	g.starts++
}

func (g *fakeGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		g.stops++
	}
	g.started, g.alive = false, false
}

func (g *fakeGuard) Restart() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started, g.alive = true, true
	g.restarts++
}

func (g *fakeGuard) Started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

func (g *fakeGuard) Alive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.alive
}

func (g *fakeGuard) SetRules(rules []domain.ProcessRule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rules = rules
}

func (g *fakeGuard) crash() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alive = false
}

type fakeRestrictions struct {
	mu      sync.Mutex
	applied [][]domain.PolicyChange
	removed [][]domain.PolicyChange
}

func (r *fakeRestrictions) Apply(changes []domain.PolicyChange) *domain.RestrictionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, changes)
	return &domain.RestrictionResult{}
}

func (r *fakeRestrictions) Remove(changes []domain.PolicyChange) *domain.RestrictionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, changes)
	return &domain.RestrictionResult{}
}

func (r *fakeRestrictions) counts() (applies, removes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied), len(r.removed)
}

func (r *fakeRestrictions) lastRemoved() []domain.PolicyChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.removed) == 0 {
		return nil
	}
	return r.removed[len(r.removed)-1]
}

type logoutCall struct {
	sessionID   string
	minutesUsed int
}

type fakeClient struct {
	mu          sync.Mutex
	connectErrs []error // consumed per call; success once empty
	connects    int
	grant       *domain.Grant
	loginErr    error
	loginGate   chan struct{} // when set, Login waits for it and ignores ctx
	logins      []string
	logouts     []logoutCall
	closed      bool

	events chan domain.PushMessage
	gen    atomic.Uint64
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events: make(chan domain.PushMessage, 16),
		grant:  &domain.Grant{SessionID: "sess-1", Minutes: 60},
	}
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	c.gen.Add(1)
	return nil
}

func (c *fakeClient) Login(ctx context.Context, creds *remote.Credentials) (*domain.Grant, error) {
	c.mu.Lock()
	c.logins = append(c.logins, creds.Username)
	gate, grant, err := c.loginGate, c.grant, c.loginErr
	c.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	g := *grant
	return &g, nil
}

func (c *fakeClient) Logout(ctx context.Context, sessionID string, minutesUsed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts = append(c.logouts, logoutCall{sessionID: sessionID, minutesUsed: minutesUsed})
}

func (c *fakeClient) Events() <-chan domain.PushMessage { return c.events }
func (c *fakeClient) Generation() uint64                { return c.gen.Load() }

func (c *fakeClient) Endpoint() domain.ServerEndpoint {
	return domain.ServerEndpoint{Host: "10.0.0.1", Port: 8080}
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeClient) loginCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logins)
}

func (c *fakeClient) logoutCalls() []logoutCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]logoutCall(nil), c.logouts...)
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeClient) push(msg domain.PushMessage) {
	c.events <- msg
}

type notice struct {
	level   domain.NoticeLevel
	title   string
	message string
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) Notify(level domain.NoticeLevel, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{level: level, title: title, message: message})
}

func (n *recordingNotifier) messages(title string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, x := range n.notices {
		if x.title == title {
			out = append(out, x.message)
		}
	}
	return out
}

func (n *recordingNotifier) count(title string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, x := range n.notices {
		if x.title == title {
			c++
		}
	}
	return c
}

type fakeSink struct {
	mu        sync.Mutex
	published []domain.AgentStatus
}

func (s *fakeSink) Publish(st domain.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, st)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.published)
}

type fixedStatus domain.AgentStatus

func (f fixedStatus) Status() domain.AgentStatus { return domain.AgentStatus(f) }
