package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavkata12/client8/internal/domain"
)

func TestStatusFile_PublishAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "status.json")
	f := NewStatusFile(path, newMockProcessManager())

	got, err := f.Read()
	require.NoError(t, err)
	assert.Nil(t, got, "no file yet")

	status := domain.AgentStatus{
		PID:              4242,
		Phase:            domain.PhaseSessionActive,
		Connection:       domain.ConnConnected,
		ProfileMode:      domain.ModeMinimal,
		InputActive:      true,
		GuardAlive:       true,
		RemainingSeconds: 120,
		LastHeartbeat:    1700000000,
	}
	require.NoError(t, f.Publish(status))

	got, err = f.Read()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, status, *got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestStatusFile_PublishReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	f := NewStatusFile(path, newMockProcessManager())

	require.NoError(t, f.Publish(domain.AgentStatus{Phase: domain.PhaseLockedConnecting}))
	require.NoError(t, f.Publish(domain.AgentStatus{Phase: domain.PhaseLockedAwaitingLogin}))

	got, err := f.Read()
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseLockedAwaitingLogin, got.Phase)

	matches, _ := filepath.Glob(path + ".*.tmp")
	assert.Empty(t, matches, "temp files cleaned up")
}

func TestStatusFile_IsAgentAlive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	pm := newMockProcessManager()
	f := NewStatusFile(path, pm)

	alive, err := f.IsAgentAlive()
	require.NoError(t, err)
	assert.False(t, alive)

	require.NoError(t, f.Publish(domain.AgentStatus{PID: 77}))
	alive, _ = f.IsAgentAlive()
	assert.False(t, alive)

	pm.SetRunning(77, true)
	alive, _ = f.IsAgentAlive()
	assert.True(t, alive)
}

func TestStatusFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewStatusFile(path, newMockProcessManager()).Read()
	assert.Error(t, err)
}

func TestStatusFile_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	f := NewStatusFile(path, newMockProcessManager())

	require.NoError(t, f.Clear(), "clearing a missing file is fine")
	require.NoError(t, f.Publish(domain.AgentStatus{}))
	require.NoError(t, f.Clear())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
