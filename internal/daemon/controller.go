// Package daemon implements the session controller and its supervisor.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pavkata12/client8/internal/domain"
	"github.com/pavkata12/client8/internal/metrics"
	"github.com/pavkata12/client8/internal/remote"
)

// InputInterceptor is the key filter leaf.
type InputInterceptor interface {
	Activate(profile domain.LockdownProfile) error
	Deactivate() error
	Active() bool
	Mode() domain.LockdownMode
}

// Guard is the process guard leaf.
type Guard interface {
	Start(interval time.Duration)
	Stop()
	Restart()
	Started() bool
	Alive() bool
	SetRules(rules []domain.ProcessRule)
}

// Restrictions is the policy enforcer leaf.
type Restrictions interface {
	Apply(changes []domain.PolicyChange) *domain.RestrictionResult
	Remove(changes []domain.PolicyChange) *domain.RestrictionResult
}

// SessionClient talks to the remote authority.
type SessionClient interface {
	Connect(ctx context.Context) error
	Login(ctx context.Context, creds *remote.Credentials) (*domain.Grant, error)
	Logout(ctx context.Context, sessionID string, minutesUsed int)
	Events() <-chan domain.PushMessage
	Generation() uint64
	Endpoint() domain.ServerEndpoint
	Close()
}

// ControllerConfig holds controller tuning.
type ControllerConfig struct {
	MaxReconnectAttempts int
	WarningThresholds    []time.Duration // remaining time that triggers a one-time warning
	TickInterval         time.Duration   // countdown resolution, one second of session time per tick
	GuardInterval        time.Duration
	ShutdownTimeout      time.Duration // bound on waiting for in-flight network calls
	Backoff              BackoffConfig
	AppVersion           string
}

// DefaultControllerConfig returns default controller configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MaxReconnectAttempts: 10,
		WarningThresholds:    []time.Duration{5 * time.Minute, time.Minute},
		TickInterval:         time.Second,
		GuardInterval:        time.Second,
		ShutdownTimeout:      5 * time.Second,
		Backoff:              DefaultBackoffConfig(),
	}
}

// Events posted to the loop.
type (
	connectResultEvent struct {
		epoch uint64
		err   error
	}
	credentialsEvent struct {
		username string
		creds    *remote.Credentials
	}
	loginResultEvent struct {
		epoch    uint64
		username string
		grant    *domain.Grant
		err      error
	}
	backoffEvent struct {
		epoch uint64
	}
	endSessionEvent struct {
		reason domain.EndReason
	}
	reconnectEvent struct{}
	reloadEvent    struct {
		set domain.LockdownSet
	}
)

// Controller is the session state machine. All state below the channel
// fields is owned by the Run goroutine; other goroutines only post events.
type Controller struct {
	cfg          ControllerConfig
	input        InputInterceptor
	guard        Guard
	restrictions Restrictions
	client       SessionClient
	notifier     domain.Notifier
	metrics      *metrics.Metrics
	clock        Clock
	logger       *zap.Logger

	events   chan any
	awaiting chan struct{}
	stopped  chan struct{}
	running  atomic.Bool
	status   atomic.Pointer[domain.AgentStatus]
	tasks    sync.WaitGroup

	runCtx       context.Context
	phase        domain.ControllerPhase
	conn         domain.ConnectionState
	set          domain.LockdownSet
	session      *domain.Session
	warned       map[time.Duration]bool
	backoff      *Backoff
	backoffTimer Timer
	backoffEpoch uint64
	connectEpoch uint64
	loginEpoch   uint64
	ticker       Ticker
	stateCancel  context.CancelFunc
	stateCtx     context.Context
	shuttingDown bool
	inputWarned  bool
}

// NewController creates a controller in LockedDisconnected.
func NewController(
	cfg ControllerConfig,
	set domain.LockdownSet,
	input InputInterceptor,
	guard Guard,
	restrictions Restrictions,
	client SessionClient,
	notifier domain.Notifier,
	m *metrics.Metrics,
	clock Clock,
	logger *zap.Logger,
) *Controller {
	if clock == nil {
		clock = RealClock{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	thresholds := append([]time.Duration(nil), cfg.WarningThresholds...)
	sort.Slice(thresholds, func(i, j int) bool { return thresholds[i] > thresholds[j] })
	cfg.WarningThresholds = thresholds

	c := &Controller{
		cfg:          cfg,
		input:        input,
		guard:        guard,
		restrictions: restrictions,
		client:       client,
		notifier:     notifier,
		metrics:      m,
		clock:        clock,
		logger:       logger.With(zap.String("component", "controller")),
		events:       make(chan any, 32),
		awaiting:     make(chan struct{}, 1),
		stopped:      make(chan struct{}),
		phase:        domain.PhaseLockedDisconnected,
		conn: domain.ConnectionState{
			Phase:       domain.ConnDisconnected,
			MaxAttempts: cfg.MaxReconnectAttempts,
		},
		set:     set,
		warned:  make(map[time.Duration]bool),
		backoff: NewBackoff(cfg.Backoff),
	}
	c.publish()
	return c
}

// SubmitCredentials hands a login attempt to the loop. Ignored unless the
// controller is awaiting login.
func (c *Controller) SubmitCredentials(username string, password []byte) {
	c.post(credentialsEvent{username: username, creds: remote.NewCredentials(username, password)})
}

// EndSession ends the active session, if any.
func (c *Controller) EndSession() {
	c.post(endSessionEvent{reason: domain.EndManual})
}

// Reconnect resets the attempt counter and connects immediately.
func (c *Controller) Reconnect() {
	c.post(reconnectEvent{})
}

// ReloadLockdown swaps the lockdown tables without leaving lockdown.
func (c *Controller) ReloadLockdown(set domain.LockdownSet) {
	c.post(reloadEvent{set: set})
}

// Status returns the last published snapshot.
func (c *Controller) Status() domain.AgentStatus {
	return *c.status.Load()
}

// AwaitingLogin signals each time the controller starts waiting for credentials.
func (c *Controller) AwaitingLogin() <-chan struct{} {
	return c.awaiting
}

func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// Run drives the state machine until ctx is cancelled, then releases the
// lockdown. It must be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	defer close(c.stopped)

	c.runCtx = ctx
	c.logger.Info("controller started",
		zap.Int("max_reconnect_attempts", c.cfg.MaxReconnectAttempts),
		zap.String("endpoint", c.client.Endpoint().String()))

	// Fail closed: lock before the first network call.
	c.ensureLockdown()
	c.startConnect()
	c.publish()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case ev := <-c.events:
			c.handle(ev)
		case msg := <-c.client.Events():
			c.handlePush(msg)
		case <-c.tickC():
			c.handleTick()
		}
		c.publish()
	}
}

func (c *Controller) tickC() <-chan time.Time {
	if c.ticker == nil {
		return nil
	}
	return c.ticker.C()
}

func (c *Controller) handle(ev any) {
	switch e := ev.(type) {
	case connectResultEvent:
		c.onConnectResult(e)
	case credentialsEvent:
		c.onCredentials(e)
	case loginResultEvent:
		c.onLoginResult(e)
	case backoffEvent:
		c.onBackoff(e)
	case endSessionEvent:
		c.endSession(e.reason)
	case reconnectEvent:
		c.onReconnect()
	case reloadEvent:
		c.onReload(e.set)
	default:
		c.logger.Warn("unknown event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

// setPhase moves to phase and cancels tasks tied to the previous state.
func (c *Controller) setPhase(phase domain.ControllerPhase) {
	if c.stateCancel != nil {
		c.stateCancel()
	}
	c.stateCtx, c.stateCancel = context.WithCancel(c.runCtx)

	if phase != c.phase {
		c.logger.Info("phase change", zap.String("from", string(c.phase)), zap.String("to", string(phase)))
	}
	c.phase = phase
	if phase == domain.PhaseLockedAwaitingLogin {
		select {
		case c.awaiting <- struct{}{}:
		default:
		}
	}
}

// goTask runs fn in a tracked goroutine with the current state's context.
func (c *Controller) goTask(fn func(ctx context.Context)) {
	ctx := c.stateCtx
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		fn(ctx)
	}()
}

// --- connection ---

func (c *Controller) startConnect() {
	c.cancelBackoff()
	c.connectEpoch++
	epoch := c.connectEpoch
	c.conn.Phase = domain.ConnConnecting
	c.setPhase(domain.PhaseLockedConnecting)

	c.goTask(func(ctx context.Context) {
		err := c.client.Connect(ctx)
		c.post(connectResultEvent{epoch: epoch, err: err})
	})
}

func (c *Controller) onConnectResult(e connectResultEvent) {
	if e.epoch != c.connectEpoch || c.phase != domain.PhaseLockedConnecting {
		return
	}
	c.metrics.ConnectAttempt(e.err == nil)

	if e.err != nil {
		c.logger.Warn("connect failed", zap.Int("attempt", c.conn.ReconnectAttempts), zap.Error(e.err))
		c.conn.Phase = domain.ConnDisconnected
		c.setPhase(domain.PhaseLockedDisconnected)
		c.scheduleReconnect()
		return
	}

	c.conn.Phase = domain.ConnConnected
	c.conn.ReconnectAttempts = 0
	c.conn.BackoffDelay = 0
	c.backoff.Reset()
	c.ensureLockdown()
	c.setPhase(domain.PhaseLockedAwaitingLogin)
}

func (c *Controller) scheduleReconnect() {
	if c.shuttingDown {
		return
	}
	if c.conn.ReconnectAttempts >= c.cfg.MaxReconnectAttempts {
		c.logger.Error("max reconnection attempts reached", zap.Int("attempts", c.conn.ReconnectAttempts))
		c.notify(domain.NoticeCritical, "Connection failed", "Could not reach the server. Ask staff to reconnect.")
		return
	}

	c.conn.ReconnectAttempts++
	delay := c.backoff.Next()
	c.conn.BackoffDelay = delay
	c.backoffEpoch++
	epoch := c.backoffEpoch
	c.backoffTimer = c.clock.AfterFunc(delay, func() {
		c.post(backoffEvent{epoch: epoch})
	})
	c.logger.Info("reconnect scheduled",
		zap.Int("attempt", c.conn.ReconnectAttempts),
		zap.Duration("delay", delay))
}

func (c *Controller) cancelBackoff() {
	if c.backoffTimer != nil {
		c.backoffTimer.Stop()
		c.backoffTimer = nil
	}
	c.backoffEpoch++
	c.conn.BackoffDelay = 0
}

func (c *Controller) onBackoff(e backoffEvent) {
	if e.epoch != c.backoffEpoch || c.phase != domain.PhaseLockedDisconnected {
		return
	}
	c.backoffTimer = nil
	c.startConnect()
}

func (c *Controller) onReconnect() {
	switch c.phase {
	case domain.PhaseLockedDisconnected, domain.PhaseLockedConnecting, domain.PhaseLockedAwaitingLogin:
	default:
		c.logger.Info("manual reconnect ignored", zap.String("phase", string(c.phase)))
		return
	}
	c.logger.Info("manual reconnect")
	c.conn.ReconnectAttempts = 0
	c.backoff.Reset()
	c.startConnect()
}

// --- login ---

func (c *Controller) onCredentials(e credentialsEvent) {
	if c.phase != domain.PhaseLockedAwaitingLogin {
		c.logger.Info("credentials ignored", zap.String("phase", string(c.phase)))
		return
	}
	c.loginEpoch++
	epoch := c.loginEpoch
	c.setPhase(domain.PhaseAuthenticating)

	c.goTask(func(ctx context.Context) {
		grant, err := c.client.Login(ctx, e.creds)
		c.post(loginResultEvent{epoch: epoch, username: e.username, grant: grant, err: err})
	})
}

func (c *Controller) onLoginResult(e loginResultEvent) {
	if e.epoch != c.loginEpoch || c.phase != domain.PhaseAuthenticating {
		if e.err == nil && e.grant != nil {
			c.logger.Info("releasing stale grant", zap.String("session_id", e.grant.SessionID))
			c.logout(e.grant.SessionID, 0)
		}
		return
	}

	if e.err == nil && e.grant != nil && e.grant.Minutes <= 0 {
		e.err = &domain.AuthError{Message: "no time remaining"}
		c.logout(e.grant.SessionID, 0)
	}
	if e.err != nil {
		c.logger.Warn("login failed", zap.String("username", e.username), zap.Error(e.err))
		msg := e.err.Error()
		var ae *domain.AuthError
		if errors.As(e.err, &ae) {
			msg = ae.Message
		}
		c.notify(domain.NoticeWarning, "Login failed", msg)
		c.setPhase(domain.PhaseLockedAwaitingLogin)
		return
	}

	seconds := e.grant.Minutes * 60
	c.session = &domain.Session{
		ID:               e.grant.SessionID,
		Username:         e.username,
		GrantedSeconds:   seconds,
		RemainingSeconds: seconds,
		Phase:            domain.SessionActive,
		StartedAt:        c.clock.Now(),
	}
	c.warned = make(map[time.Duration]bool)

	c.switchProfile(domain.ModeMinimal)
	c.setPhase(domain.PhaseSessionActive)
	c.ticker = c.clock.NewTicker(c.cfg.TickInterval)

	c.logger.Info("session started",
		zap.String("username", e.username),
		zap.String("session_id", c.session.ID),
		zap.Int("minutes", e.grant.Minutes))
	c.notify(domain.NoticeInfo, "Session started", fmt.Sprintf("Welcome %s, you have %d minutes.", e.username, e.grant.Minutes))
}

func (c *Controller) logout(sessionID string, minutesUsed int) {
	ctx := context.WithoutCancel(c.runCtx)
	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		c.client.Logout(ctx, sessionID, minutesUsed)
	}()
}

// --- session ---

func (c *Controller) handleTick() {
	if c.phase != domain.PhaseSessionActive || c.session == nil {
		return
	}
	c.session.RemainingSeconds--
	if c.session.RemainingSeconds <= 0 {
		c.session.RemainingSeconds = 0
		c.endSession(domain.EndExpired)
		return
	}
	c.checkWarnings()
}

// checkWarnings raises the tightest threshold crossed; wider ones crossed
// at the same time are marked as spent.
func (c *Controller) checkWarnings() {
	remaining := time.Duration(c.session.RemainingSeconds) * time.Second
	var fire time.Duration
	for _, t := range c.cfg.WarningThresholds {
		if remaining <= t && !c.warned[t] {
			c.warned[t] = true
			fire = t
		}
	}
	if fire == 0 {
		return
	}
	minutes := (c.session.RemainingSeconds + 59) / 60
	c.notify(domain.NoticeWarning, "Time running out",
		fmt.Sprintf("Your session will end in %d minute(s).", minutes))
}

func (c *Controller) endSession(reason domain.EndReason) {
	if c.phase != domain.PhaseSessionActive || c.session == nil {
		return
	}
	c.setPhase(domain.PhaseSessionEnding)
	c.session.Phase = domain.SessionEnding
	c.stopCountdown()

	used := c.session.UsedMinutes()
	c.logger.Info("session ended",
		zap.String("session_id", c.session.ID),
		zap.String("reason", string(reason)),
		zap.Int("minutes_used", used))
	c.logout(c.session.ID, used)
	c.metrics.SessionEnded(reason)

	c.session = nil
	c.warned = make(map[time.Duration]bool)

	if c.shuttingDown {
		return
	}
	c.switchProfile(domain.ModeStrict)
	c.notify(domain.NoticeInfo, "Session ended", endMessage(reason))

	if c.conn.Phase == domain.ConnConnected {
		c.setPhase(domain.PhaseLockedAwaitingLogin)
	} else {
		c.setPhase(domain.PhaseLockedDisconnected)
	}
}

func endMessage(reason domain.EndReason) string {
	switch reason {
	case domain.EndExpired:
		return "Your time is up."
	case domain.EndForced:
		return "Your session was ended by staff."
	case domain.EndDisconnect:
		return "Connection to the server was lost."
	case domain.EndTimeRevoked:
		return "Your remaining time was removed."
	}
	return "Thank you."
}

func (c *Controller) stopCountdown() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

// --- push channel ---

func (c *Controller) handlePush(msg domain.PushMessage) {
	switch msg.Kind {
	case domain.PushChannelLost:
		c.onChannelLost(msg)

	case domain.PushForceLogout:
		c.logger.Info("force logout received", zap.String("message", msg.Message))
		c.endSession(domain.EndForced)

	case domain.PushTimeUpdate:
		if c.phase != domain.PhaseSessionActive || c.session == nil {
			return
		}
		if msg.Seconds <= 0 {
			c.session.RemainingSeconds = 0
			c.endSession(domain.EndTimeRevoked)
			return
		}
		// Keep granted-remaining equal to the time consumed.
		c.session.GrantedSeconds += msg.Seconds - c.session.RemainingSeconds
		c.session.RemainingSeconds = msg.Seconds
		c.logger.Info("remaining time updated", zap.Int("seconds", msg.Seconds))

	case domain.PushSecurityAlert:
		c.logger.Warn("security alert", zap.String("message", msg.Message))
		c.notify(domain.NoticeCritical, "Security alert", msg.Message)

	case domain.PushNotice:
		c.notify(domain.NoticeInfo, "Message", msg.Message)
	}
}

func (c *Controller) onChannelLost(msg domain.PushMessage) {
	if msg.Generation != c.client.Generation() {
		c.logger.Debug("stale channel loss ignored", zap.Uint64("generation", msg.Generation))
		return
	}
	// A connect in flight decides the connection state itself.
	if c.phase == domain.PhaseLockedConnecting || c.conn.Phase != domain.ConnConnected {
		return
	}

	c.logger.Warn("push channel lost", zap.String("reason", msg.Message))
	c.conn.Phase = domain.ConnDisconnected
	c.endSession(domain.EndDisconnect)
	c.setPhase(domain.PhaseLockedDisconnected)
	c.scheduleReconnect()
}

// --- lockdown ---

// ensureLockdown activates Strict plus the guard and restrictions when any
// of them is missing. Leaves that fail are reported and the rest stay on.
func (c *Controller) ensureLockdown() {
	if !c.input.Active() || c.input.Mode() != domain.ModeStrict {
		if c.session == nil {
			c.switchProfile(domain.ModeStrict)
		}
	}
	if !c.guard.Started() {
		c.guard.SetRules(c.set.ProcessRules)
		c.guard.Start(c.cfg.GuardInterval)
	}
	c.logRestrictions("apply", c.restrictions.Apply(c.set.Restrictions))
}

func (c *Controller) switchProfile(mode domain.LockdownMode) {
	err := c.input.Activate(c.set.Profile(mode))
	switch {
	case err == nil:
		c.logger.Info("lockdown profile active", zap.String("mode", string(mode)))
	case errors.Is(err, domain.ErrUnsupported):
		if !c.inputWarned {
			c.inputWarned = true
			c.logger.Warn("key filter unsupported on this platform")
		}
	default:
		c.logger.Error("key filter activation failed", zap.String("mode", string(mode)), zap.Error(err))
		if !c.inputWarned {
			c.inputWarned = true
			c.notify(domain.NoticeCritical, "Lockdown degraded", "Keyboard restrictions could not be enabled.")
		}
	}
}

func (c *Controller) logRestrictions(op string, r *domain.RestrictionResult) {
	if r == nil {
		return
	}
	if len(r.Errors) > 0 {
		c.logger.Warn("restrictions incomplete",
			zap.String("op", op),
			zap.Int("changed", len(r.Changed)),
			zap.Errors("errors", r.Errors))
		return
	}
	c.logger.Debug("restrictions done", zap.String("op", op), zap.Int("changed", len(r.Changed)))
}

func (c *Controller) onReload(set domain.LockdownSet) {
	var dropped []domain.PolicyChange
	keep := make(map[string]bool, len(set.Restrictions))
	for _, ch := range set.Restrictions {
		keep[ch.Key()] = true
	}
	for _, ch := range c.set.Restrictions {
		if !keep[ch.Key()] {
			dropped = append(dropped, ch)
		}
	}

	c.set = set
	c.guard.SetRules(set.ProcessRules)
	if len(dropped) > 0 {
		c.logRestrictions("remove", c.restrictions.Remove(dropped))
	}
	c.logRestrictions("apply", c.restrictions.Apply(set.Restrictions))

	if c.input.Active() {
		mode := domain.ModeStrict
		if c.phase == domain.PhaseSessionActive {
			mode = domain.ModeMinimal
		}
		c.switchProfile(mode)
	}
	c.logger.Info("lockdown tables reloaded",
		zap.Int("process_rules", len(set.ProcessRules)),
		zap.Int("restrictions", len(set.Restrictions)))
}

// shutdown ends an active session and releases every leaf.
func (c *Controller) shutdown() {
	c.shuttingDown = true
	c.endSession(domain.EndShutdown)
	c.cancelBackoff()
	c.stopCountdown()
	c.setPhase(domain.PhaseShuttingDown)

	if err := c.input.Deactivate(); err != nil {
		c.logger.Warn("key filter deactivate failed", zap.Error(err))
	}
	c.guard.Stop()
	c.logRestrictions("remove", c.restrictions.Remove(c.set.Restrictions))
	c.client.Close()
	c.conn.Phase = domain.ConnDisconnected

	done := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownTimeout):
		c.logger.Warn("network calls still running at shutdown")
	}
	c.stateCancel()
	c.publish()
	c.logger.Info("controller stopped")
}

func (c *Controller) notify(level domain.NoticeLevel, title, message string) {
	if c.notifier != nil {
		c.notifier.Notify(level, title, message)
	}
}

// publish stores a status snapshot for readers outside the loop.
func (c *Controller) publish() {
	st := domain.AgentStatus{
		PID:              os.Getpid(),
		Phase:            c.phase,
		Connection:       c.conn.Phase,
		Endpoint:         c.client.Endpoint().String(),
		ProfileMode:      c.input.Mode(),
		InputActive:      c.input.Active(),
		GuardAlive:       c.guard.Alive(),
		ReconnectAttempt: c.conn.ReconnectAttempts,
		LastHeartbeat:    c.clock.Now().Unix(),
		AppVersion:       c.cfg.AppVersion,
	}
	if c.session != nil {
		st.RemainingSeconds = c.session.RemainingSeconds
	}
	c.status.Store(&st)
	c.metrics.SetPhase(c.phase)
	c.metrics.SetRemaining(st.RemainingSeconds)
}
