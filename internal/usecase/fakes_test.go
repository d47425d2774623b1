package usecase

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/pavkata12/client8/internal/domain"
)

// fakeKeyFilter implements domain.KeyFilter for testing
type fakeKeyFilter struct {
	mu         sync.Mutex
	handler    domain.KeyHandler
	installErr error
	installs   int
	uninstalls int
	live       int // installed and not yet uninstalled
	maxLive    int
	wake       chan struct{}
	blockPump  bool // ignore Wake to simulate a stuck pump
}

func newFakeKeyFilter() *fakeKeyFilter {
	return &fakeKeyFilter{wake: make(chan struct{}, 1)}
}

func (f *fakeKeyFilter) Install(handler domain.KeyHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return f.installErr
	}
	f.handler = handler
	f.installs++
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return nil
}

func (f *fakeKeyFilter) Pump() {
	<-f.wake
	if f.blockPump {
		select {}
	}
}

func (f *fakeKeyFilter) Wake() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *fakeKeyFilter) Uninstall() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalls++
	f.live--
	f.handler = nil
	return nil
}

func (f *fakeKeyFilter) send(vk uint32, down bool) domain.KeyDecision {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return domain.KeyPass
	}
	return h(domain.KeyEvent{VK: vk, Down: down})
}

func (f *fakeKeyFilter) counts() (installs, uninstalls, maxLive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installs, f.uninstalls, f.maxLive
}

// fakePrivilege implements domain.PrivilegeChecker for testing
type fakePrivilege struct {
	elevated bool
	err      error
}

func (f *fakePrivilege) Elevated() (bool, error) {
	return f.elevated, f.err
}

// mockProcessManager implements domain.ProcessManager for testing
type mockProcessManager struct {
	mu         sync.Mutex
	procs      []domain.ProcessInfo
	cmdlines   map[int][]string
	listErr    error
	killErr    map[int]error
	killedPIDs []int
	listPanic  bool
	listGate   chan struct{} // List blocks until closed
}

func (m *mockProcessManager) List() ([]domain.ProcessInfo, error) {
	m.mu.Lock()
	gate := m.listGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listPanic {
		panic("enumeration exploded")
	}
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.ProcessInfo(nil), m.procs...), nil
}

func (m *mockProcessManager) CommandLine(pid int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args, ok := m.cmdlines[pid]
	if !ok {
		return nil, errors.New("no such process")
	}
	return args, nil
}

func (m *mockProcessManager) Terminate(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.killErr[pid]; err != nil {
		return err
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return false
}

func (m *mockProcessManager) GetCurrentPID() int {
	return os.Getpid()
}

func (m *mockProcessManager) killed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.killedPIDs...)
}

func (m *mockProcessManager) setPanic(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listPanic = v
}

// fakeWindowCloser implements domain.WindowCloser for testing
type fakeWindowCloser struct {
	closed int
	err    error
	calls  int
	rules  []domain.ProcessRule
}

func (f *fakeWindowCloser) CloseWindows(rules []domain.ProcessRule) (int, error) {
	f.calls++
	f.rules = rules
	return f.closed, f.err
}

// recordingNotifier implements domain.Notifier for testing
type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(level domain.NoticeLevel, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, string(level)+": "+message)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// memPolicyStore implements domain.PolicyStore for testing
type memPolicyStore struct {
	values map[string]uint32
	failOn map[string]error // "op:key"
	ops    []string
}

func newMemPolicyStore() *memPolicyStore {
	return &memPolicyStore{values: map[string]uint32{}, failOn: map[string]error{}}
}

func storeKey(path, name string) string {
	return path + `\` + name
}

func (s *memPolicyStore) fail(op, key string) error {
	return s.failOn[op+":"+key]
}

func (s *memPolicyStore) Read(path, name string) (uint32, bool, error) {
	k := storeKey(path, name)
	if err := s.fail("read", k); err != nil {
		return 0, false, err
	}
	v, ok := s.values[k]
	return v, ok, nil
}

func (s *memPolicyStore) Write(path, name string, v uint32) error {
	k := storeKey(path, name)
	s.ops = append(s.ops, "write "+name)
	if err := s.fail("write", k); err != nil {
		return err
	}
	s.values[k] = v
	return nil
}

func (s *memPolicyStore) Delete(path, name string) error {
	k := storeKey(path, name)
	s.ops = append(s.ops, "delete "+name)
	if err := s.fail("delete", k); err != nil {
		return err
	}
	delete(s.values, k)
	return nil
}

func (s *memPolicyStore) writes() []string {
	var out []string
	for _, op := range s.ops {
		if strings.HasPrefix(op, "write ") {
			out = append(out, strings.TrimPrefix(op, "write "))
		}
	}
	return out
}

// memJournal implements domain.SnapshotJournal for testing
type memJournal struct {
	snaps   map[string]domain.PolicySnapshot
	saveErr error
}

func newMemJournal() *memJournal {
	return &memJournal{snaps: map[string]domain.PolicySnapshot{}}
}

func (j *memJournal) Save(key string, snap domain.PolicySnapshot) error {
	if j.saveErr != nil {
		return j.saveErr
	}
	j.snaps[key] = snap
	return nil
}

func (j *memJournal) Delete(key string) error {
	delete(j.snaps, key)
	return nil
}

func (j *memJournal) LoadAll() (map[string]domain.PolicySnapshot, error) {
	out := make(map[string]domain.PolicySnapshot, len(j.snaps))
	for k, v := range j.snaps {
		out[k] = v
	}
	return out, nil
}

func (j *memJournal) Close() error { return nil }

var (
	_ domain.KeyFilter       = (*fakeKeyFilter)(nil)
	_ domain.ProcessManager  = (*mockProcessManager)(nil)
	_ domain.WindowCloser    = (*fakeWindowCloser)(nil)
	_ domain.PolicyStore     = (*memPolicyStore)(nil)
	_ domain.SnapshotJournal = (*memJournal)(nil)
)
