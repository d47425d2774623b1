package infra

import (
	"os"
	"sync"

	"github.com/pavkata12/client8/internal/domain"
)

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	mu          sync.Mutex
	runningPIDs map[int]bool
	killedPIDs  []int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
	}
}

func (m *mockProcessManager) List() ([]domain.ProcessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProcessInfo
	for pid, running := range m.runningPIDs {
		if running {
			out = append(out, domain.ProcessInfo{PID: pid})
		}
	}
	return out, nil
}

func (m *mockProcessManager) CommandLine(pid int) ([]string, error) {
	return nil, nil
}

func (m *mockProcessManager) Terminate(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killedPIDs = append(m.killedPIDs, pid)
	delete(m.runningPIDs, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runningPIDs[pid] = running
}

// Ensure mockProcessManager implements domain.ProcessManager
var _ domain.ProcessManager = (*mockProcessManager)(nil)
