// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// LockdownMode tags a lockdown profile.
type LockdownMode string

const (
	ModeStrict  LockdownMode = "strict"  // no session: full restriction
	ModeMinimal LockdownMode = "minimal" // paid session: reduced restriction
)

// ModMask is a bitmask of held modifier keys.
type ModMask uint8

const (
	ModAlt ModMask = 1 << iota
	ModCtrl
	ModShift
	ModMeta
)

// Has reports whether every modifier in other is also set in m.
func (m ModMask) Has(other ModMask) bool {
	return m&other == other
}

func (m ModMask) String() string {
	if m == 0 {
		return "none"
	}
	s := ""
	for _, p := range []struct {
		bit  ModMask
		name string
	}{{ModCtrl, "ctrl"}, {ModAlt, "alt"}, {ModShift, "shift"}, {ModMeta, "meta"}} {
		if m&p.bit != 0 {
			if s != "" {
				s += "+"
			}
			s += p.name
		}
	}
	return s
}

// KeyCombo is a virtual-key code plus the modifiers that must be held.
type KeyCombo struct {
	VK   uint32
	Mods ModMask
}

func (k KeyCombo) String() string {
	if k.Mods == 0 {
		return fmt.Sprintf("vk=0x%02X", k.VK)
	}
	return fmt.Sprintf("%s+vk=0x%02X", k.Mods, k.VK)
}

// KeyComboSet is the blocked set of a profile, indexed by VK.
type KeyComboSet map[uint32][]ModMask

// NewKeyComboSet builds a set from combos, dropping duplicates.
func NewKeyComboSet(combos ...KeyCombo) KeyComboSet {
	s := make(KeyComboSet)
	for _, c := range combos {
		s.Add(c)
	}
	return s
}

// Add inserts a combo unless it is already present.
func (s KeyComboSet) Add(c KeyCombo) {
	for _, m := range s[c.VK] {
		if m == c.Mods {
			return
		}
	}
	s[c.VK] = append(s[c.VK], c.Mods)
}

// Matches reports whether any combo for vk has all of its modifiers held.
func (s KeyComboSet) Matches(vk uint32, held ModMask) bool {
	for _, m := range s[vk] {
		if held.Has(m) {
			return true
		}
	}
	return false
}

// Len returns the number of combos in the set.
func (s KeyComboSet) Len() int {
	n := 0
	for _, mods := range s {
		n += len(mods)
	}
	return n
}

// LockdownProfile is a named set of input combinations to block.
type LockdownProfile struct {
	Mode    LockdownMode
	Blocked KeyComboSet
}

// KeyEvent is a single low-level keyboard event.
type KeyEvent struct {
	VK       uint32
	Down     bool // false on release
	Injected bool // synthesized by software rather than hardware
}

// KeyDecision is the verdict of the key filter for one event.
type KeyDecision int

const (
	KeyPass KeyDecision = iota
	KeyBlock
)

// RuleAction is what the process guard does on a match.
type RuleAction string

const (
	ActionTerminate RuleAction = "terminate"
)

// ProcessRule names a process (or a top-level window class) to suppress.
type ProcessRule struct {
	ProcessName   string     // case-insensitive executable name, e.g. "taskmgr.exe"
	WindowClass   string     // window rules only
	TitleKeywords []string   // window rules: close only when the title contains one of these
	Action        RuleAction // always ActionTerminate today
	ShellArgsOnly bool       // desktop shell: only instances started with arguments
}

// IsWindowRule reports whether the rule targets windows rather than processes.
func (r ProcessRule) IsWindowRule() bool {
	return r.ProcessName == "" && r.WindowClass != ""
}

// ProcessInfo is one entry of a process enumeration.
type ProcessInfo struct {
	PID  int
	Name string
}

// SweepResult captures what happened during a single process guard iteration.
type SweepResult struct {
	TerminatedPIDs []int
	ClosedWindows  int
	Errors         []error
	ExecutedAt     time.Time
	DurationMs     int64
}

// PolicyChange is one machine-wide restriction flag.
type PolicyChange struct {
	StorePath string // e.g. `HKCU\Software\Microsoft\Windows\CurrentVersion\Policies\System`
	ValueName string
	Desired   uint32
}

// Key identifies the change inside snapshot maps and the journal.
func (c PolicyChange) Key() string {
	return c.StorePath + `\` + c.ValueName
}

// PolicySnapshot is the value a change replaced.
type PolicySnapshot struct {
	HadPrior bool
	Prior    uint32
}

// RestrictionResult captures a single Apply or Remove pass.
type RestrictionResult struct {
	Changed []string // change keys written, restored or deleted
	Skipped []string // nothing to do (no snapshot on remove)
	Errors  []error
}

// LockdownSet bundles everything the enforcement leaves are configured with.
type LockdownSet struct {
	Strict       LockdownProfile
	Minimal      LockdownProfile
	ProcessRules []ProcessRule
	Restrictions []PolicyChange
}

// Profile returns the profile for mode.
func (s LockdownSet) Profile(mode LockdownMode) LockdownProfile {
	if mode == ModeMinimal {
		return s.Minimal
	}
	return s.Strict
}

// ServerEndpoint is one remote authority address.
type ServerEndpoint struct {
	Host string
	Port int
}

func (e ServerEndpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ConnPhase is the connection phase to the remote authority.
type ConnPhase string

const (
	ConnDisconnected ConnPhase = "disconnected"
	ConnConnecting   ConnPhase = "connecting"
	ConnConnected    ConnPhase = "connected"
)

// ConnectionState is owned by the session controller.
type ConnectionState struct {
	Phase             ConnPhase
	ReconnectAttempts int
	MaxAttempts       int
	BackoffDelay      time.Duration
}

// ControllerPhase is a state of the session controller.
type ControllerPhase string

const (
	PhaseLockedDisconnected  ControllerPhase = "locked_disconnected"
	PhaseLockedConnecting    ControllerPhase = "locked_connecting"
	PhaseLockedAwaitingLogin ControllerPhase = "locked_awaiting_login"
	PhaseAuthenticating      ControllerPhase = "authenticating"
	PhaseSessionActive       ControllerPhase = "session_active"
	PhaseSessionEnding       ControllerPhase = "session_ending"
	PhaseShuttingDown        ControllerPhase = "shutting_down"
)

// SessionPhase is the lifecycle of a granted session.
type SessionPhase string

const (
	SessionActive SessionPhase = "active"
	SessionEnding SessionPhase = "ending"
)

// Session is created on a successful login and destroyed when it ends.
type Session struct {
	ID               string
	Username         string
	GrantedSeconds   int
	RemainingSeconds int
	Phase            SessionPhase
	StartedAt        time.Time
}

// UsedMinutes rounds consumed time up to whole minutes.
func (s *Session) UsedMinutes() int {
	used := s.GrantedSeconds - s.RemainingSeconds
	if used <= 0 {
		return 0
	}
	return (used + 59) / 60
}

// Grant is the authority's answer to a successful login.
type Grant struct {
	SessionID string
	Minutes   int
}

// EndReason says why a session ended.
type EndReason string

const (
	EndExpired     EndReason = "expired"
	EndForced      EndReason = "force_logout"
	EndManual      EndReason = "manual"
	EndDisconnect  EndReason = "disconnect"
	EndShutdown    EndReason = "shutdown"
	EndTimeRevoked EndReason = "time_revoked"
)

// PushKind is the type of a push-channel message.
type PushKind string

const (
	PushForceLogout   PushKind = "force_logout"
	PushTimeUpdate    PushKind = "time_update"
	PushSecurityAlert PushKind = "security_alert"
	PushNotice        PushKind = "notice"
	PushChannelLost   PushKind = "channel_lost"
)

// PushMessage is a decoded frame (or a loss signal) from the push channel.
type PushMessage struct {
	Kind       PushKind
	Seconds    int // time_update: new remaining time
	Message    string
	Generation uint64 // push channel that produced the message
}

// NoticeLevel grades user notifications.
type NoticeLevel string

const (
	NoticeInfo     NoticeLevel = "info"
	NoticeWarning  NoticeLevel = "warning"
	NoticeCritical NoticeLevel = "critical"
)

// AgentStatus is a read-only snapshot published by the controller.
type AgentStatus struct {
	PID              int             `json:"pid"`
	Phase            ControllerPhase `json:"phase"`
	Connection       ConnPhase       `json:"connection"`
	Endpoint         string          `json:"endpoint,omitempty"`
	ProfileMode      LockdownMode    `json:"profile_mode,omitempty"`
	InputActive      bool            `json:"input_active"`
	GuardAlive       bool            `json:"guard_alive"`
	RemainingSeconds int             `json:"remaining_seconds"`
	ReconnectAttempt int             `json:"reconnect_attempts"`
	LastHeartbeat    int64           `json:"last_heartbeat"`
	AppVersion       string          `json:"app_version,omitempty"`
}
