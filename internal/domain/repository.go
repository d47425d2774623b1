package domain

// KeyHandler decides the fate of one key event. It runs on the pump thread
// and must return quickly without blocking.
type KeyHandler func(ev KeyEvent) KeyDecision

// KeyFilter is the platform capability behind the input interceptor.
// Install, Pump and Uninstall are called from the same locked OS thread;
// Wake may be called from any goroutine.
type KeyFilter interface {
	// Install registers the system-wide filter on the calling thread.
	// Returns ErrUnsupported where no filter exists.
	Install(handler KeyHandler) error

	// Pump delivers queued OS events to the filter until Wake is called.
	Pump()

	// Wake posts the quit sentinel to the pump thread.
	Wake()

	// Uninstall removes the filter registered by Install.
	Uninstall() error
}

// PrivilegeChecker reports whether the process runs with an elevated token.
type PrivilegeChecker interface {
	Elevated() (bool, error)
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// List enumerates running processes.
	List() ([]ProcessInfo, error)

	// CommandLine returns the argv of a process.
	CommandLine(pid int) ([]string, error)

	// Terminate asks a process to exit.
	Terminate(pid int) error

	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// WindowCloser closes top-level windows matching window rules.
type WindowCloser interface {
	// CloseWindows posts a close request to every visible window matching a rule.
	// Returns the number of windows asked to close.
	CloseWindows(rules []ProcessRule) (int, error)
}

// PolicyStore is the persistent machine-wide restriction store.
// Values are DWORDs addressed by store path and value name.
type PolicyStore interface {
	// Read returns the current value; exists is false when the value is absent.
	Read(storePath, valueName string) (value uint32, exists bool, err error)

	// Write creates or replaces the value, creating the path if needed.
	Write(storePath, valueName string, value uint32) error

	// Delete removes the value. Deleting an absent value is not an error.
	Delete(storePath, valueName string) error
}

// SnapshotJournal persists policy snapshots so a restarted agent keeps
// the original baseline.
type SnapshotJournal interface {
	// Save records the snapshot for a change key.
	Save(key string, snap PolicySnapshot) error

	// Delete forgets the snapshot for a change key.
	Delete(key string) error

	// LoadAll returns every recorded snapshot.
	LoadAll() (map[string]PolicySnapshot, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// Notifier shows short user-facing notifications (warnings, alerts).
type Notifier interface {
	Notify(level NoticeLevel, title, message string)
}

// StatusSink receives controller status snapshots.
type StatusSink interface {
	Publish(status AgentStatus) error
}
