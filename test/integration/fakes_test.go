//go:build integration

package integration

import (
	"sync"

	"github.com/pavkata12/client8/internal/domain"
)

// hookFilter stands in for the OS key filter and lets tests feed key events.
type hookFilter struct {
	mu       sync.Mutex
	handler  domain.KeyHandler
	installs int
	wake     chan struct{}
}

func newHookFilter() *hookFilter {
	return &hookFilter{wake: make(chan struct{}, 1)}
}

func (f *hookFilter) Install(handler domain.KeyHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	f.installs++
	return nil
}

func (f *hookFilter) Pump() { <-f.wake }

func (f *hookFilter) Wake() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *hookFilter) Uninstall() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	return nil
}

func (f *hookFilter) installed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

// chord presses the keys in order and reports the decision for the last one.
func (f *hookFilter) chord(vks ...uint32) domain.KeyDecision {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return domain.KeyPass
	}
	var d domain.KeyDecision
	for _, vk := range vks {
		d = h(domain.KeyEvent{VK: vk, Down: true})
	}
	for i := len(vks) - 1; i >= 0; i-- {
		h(domain.KeyEvent{VK: vks[i], Down: false})
	}
	return d
}

type elevated struct{}

func (elevated) Elevated() (bool, error) { return true, nil }

// processTable is a process list tests can seed with blocked tools.
type processTable struct {
	mu      sync.Mutex
	procs   map[int]string
	killed  []string
	selfPID int
}

func newProcessTable() *processTable {
	return &processTable{procs: make(map[int]string), selfPID: 1}
}

func (p *processTable) spawn(pid int, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.procs[pid] = name
}

func (p *processTable) List() ([]domain.ProcessInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ProcessInfo, 0, len(p.procs))
	for pid, name := range p.procs {
		out = append(out, domain.ProcessInfo{PID: pid, Name: name})
	}
	return out, nil
}

func (p *processTable) CommandLine(pid int) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return []string{p.procs[pid]}, nil
}

func (p *processTable) Terminate(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = append(p.killed, p.procs[pid])
	delete(p.procs, pid)
	return nil
}

func (p *processTable) IsRunning(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.procs[pid]
	return ok
}

func (p *processTable) GetCurrentPID() int { return p.selfPID }

func (p *processTable) killedNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.killed...)
}

// memStore is an in-memory policy store.
type memStore struct {
	mu     sync.Mutex
	values map[string]uint32
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]uint32)}
}

func (s *memStore) Read(storePath, valueName string) (uint32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[storePath+`\`+valueName]
	return v, ok, nil
}

func (s *memStore) Write(storePath, valueName string, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[storePath+`\`+valueName] = value
	return nil
}

func (s *memStore) Delete(storePath, valueName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, storePath+`\`+valueName)
	return nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

func (s *memStore) get(key string) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

type noticeLog struct {
	mu     sync.Mutex
	titles []string
}

func (n *noticeLog) Notify(level domain.NoticeLevel, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *noticeLog) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.titles...)
}

var (
	_ domain.KeyFilter        = (*hookFilter)(nil)
	_ domain.PrivilegeChecker = elevated{}
	_ domain.ProcessManager   = (*processTable)(nil)
	_ domain.PolicyStore      = (*memStore)(nil)
	_ domain.Notifier         = (*noticeLog)(nil)
)
