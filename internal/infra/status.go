package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pavkata12/client8/internal/domain"
)

// StatusFile implements domain.StatusSink using a JSON file that the
// status command reads. Only the running agent writes it.
type StatusFile struct {
	path           string
	processManager domain.ProcessManager
}

// NewStatusFile creates a status file at path.
func NewStatusFile(path string, pm domain.ProcessManager) *StatusFile {
	return &StatusFile{
		path:           path,
		processManager: pm,
	}
}

// Path returns the status file path.
func (f *StatusFile) Path() string {
	return f.path
}

// Publish replaces the file with the given snapshot.
func (f *StatusFile) Publish(status domain.AgentStatus) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}
	return f.atomicWrite(status)
}

// Read returns the last published snapshot, or nil when none exists.
func (f *StatusFile) Read() (*domain.AgentStatus, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var status domain.AgentStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("decode status file: %w", err)
	}
	return &status, nil
}

// IsAgentAlive reports whether the PID that last published is still running.
func (f *StatusFile) IsAgentAlive() (bool, error) {
	status, err := f.Read()
	if err != nil || status == nil || status.PID == 0 {
		return false, err
	}
	return f.processManager.IsRunning(status.PID), nil
}

// Clear removes the status file.
func (f *StatusFile) Clear() error {
	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// atomicWrite writes the file atomically (write + rename).
func (f *StatusFile) atomicWrite(status domain.AgentStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}

	// Unique per process so a stale agent never clobbers a fresh temp file
	tmpPath := fmt.Sprintf("%s.%d.tmp", f.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure StatusFile implements domain.StatusSink.
var _ domain.StatusSink = (*StatusFile)(nil)
