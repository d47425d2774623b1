package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavkata12/client8/internal/domain"
)

type fakeControl struct {
	mu         sync.Mutex
	usernames  []string
	passwords  []string
	ends       int
	reconnects int
	awaiting   chan struct{}
}

func newFakeControl() *fakeControl {
	return &fakeControl{awaiting: make(chan struct{}, 1)}
}

func (f *fakeControl) SubmitCredentials(username string, password []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usernames = append(f.usernames, username)
	f.passwords = append(f.passwords, string(password))
}

func (f *fakeControl) EndSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
}

func (f *fakeControl) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

func (f *fakeControl) AwaitingLogin() <-chan struct{} { return f.awaiting }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConsole_SubmitsCredentials(t *testing.T) {
	ctrl := newFakeControl()
	var out syncBuffer
	in := strings.NewReader("alice\nsecret\n\nbob\n hunter2 \n")

	err := runConsole(context.Background(), in, &out, ctrl)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob"}, ctrl.usernames)
	// Passwords are passed through untrimmed.
	assert.Equal(t, []string{"secret", " hunter2 "}, ctrl.passwords)
	assert.Contains(t, out.String(), "password: ")
}

func TestConsole_Commands(t *testing.T) {
	ctrl := newFakeControl()
	var out syncBuffer
	in := strings.NewReader(":end\n:reconnect\n:end\n")

	require.NoError(t, runConsole(context.Background(), in, &out, ctrl))

	assert.Equal(t, 2, ctrl.ends)
	assert.Equal(t, 1, ctrl.reconnects)
	assert.Empty(t, ctrl.usernames)
}

func TestConsole_PromptsWhenAwaitingLogin(t *testing.T) {
	ctrl := newFakeControl()
	var out syncBuffer
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runConsole(ctx, pr, &out, ctrl) }()

	ctrl.awaiting <- struct{}{}
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "login: ")
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("console did not stop on cancel")
	}
}

func TestConsoleNotifier_Format(t *testing.T) {
	var out syncBuffer
	n := newConsoleNotifier(&out)

	n.Notify(domain.NoticeInfo, "Session started", "60 minutes")
	n.Notify(domain.NoticeCritical, "Connection failed", "giving up")

	assert.Contains(t, out.String(), "Session started: 60 minutes")
	assert.Contains(t, out.String(), "!! Connection failed: giving up")
}
