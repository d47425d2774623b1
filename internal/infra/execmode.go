package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
)

// ExecMode represents the execution mode of the agent.
type ExecMode string

const (
	// ExecModeUser runs unprivileged (development, tests)
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as a machine service with an elevated token
	ExecModeSystem ExecMode = "system"
)

// AppName names the data directory and the default files inside it.
const AppName = "kioskd"

// ExecModeConfig holds paths and settings based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // journal, key and status file
	ConfigPath string // default config file
	LogPath    string
	StatusPath string
	IsRoot     bool
}

// DetectExecMode determines the execution mode and its paths.
func DetectExecMode() *ExecModeConfig {
	if runtime.GOOS == "windows" {
		base := os.Getenv("ProgramData")
		if base == "" {
			base = `C:\ProgramData`
		}
		return newExecModeConfig(ExecModeSystem, filepath.Join(base, AppName), true)
	}

	if os.Geteuid() == 0 {
		return newExecModeConfig(ExecModeSystem, filepath.Join("/var/lib", AppName), true)
	}
	return GetUserModeConfig()
}

// GetUserModeConfig returns user mode config regardless of current euid.
// Under sudo the invoking user's home directory is used.
func GetUserModeConfig() *ExecModeConfig {
	home := GetRealUserHome()
	return newExecModeConfig(ExecModeUser, filepath.Join(home, "."+AppName), os.Geteuid() == 0)
}

func newExecModeConfig(mode ExecMode, dataDir string, isRoot bool) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       mode,
		DataDir:    dataDir,
		ConfigPath: filepath.Join(dataDir, "config.yaml"),
		LogPath:    filepath.Join(dataDir, AppName+".log"),
		StatusPath: filepath.Join(dataDir, "status.json"),
		IsRoot:     isRoot,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (service, elevated)"
	case ExecModeUser:
		return "user (unprivileged)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
