package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	journalKeyName = ".journal.key"
	journalKeySize = 32 // 256-bit SQLCipher key
)

// errJournalKeyLost means a journal exists but its key file does not. A new
// key would only produce an unreadable journal, so none is generated.
var errJournalKeyLost = errors.New("journal exists but its key file is missing")

func journalKeyPath(dataDir string) string {
	return filepath.Join(dataDir, journalKeyName)
}

// loadJournalKey returns the journal key in dataDir, creating one on the
// first run. The key file is hex, readable by the service account only.
func loadJournalKey(dataDir string) ([]byte, error) {
	path := journalKeyPath(dataDir)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if len(key) != journalKeySize {
			return nil, fmt.Errorf("invalid key size in %s: got %d, want %d", path, len(key), journalKeySize)
		}
		return key, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	if _, err := os.Stat(filepath.Join(dataDir, journalDBName)); err == nil {
		return nil, errJournalKeyLost
	}

	key, err := newJournalKey()
	if err != nil {
		return nil, err
	}
	if err := writeJournalKey(dataDir, key); err != nil {
		return nil, err
	}
	return key, nil
}

func newJournalKey() ([]byte, error) {
	key := make([]byte, journalKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate journal key: %w", err)
	}
	return key, nil
}

// writeJournalKey stores key through a temp file so a crash never leaves a
// truncated key behind.
func writeJournalKey(dataDir string, key []byte) error {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	path := journalKeyPath(dataDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to install key file: %w", err)
	}
	return nil
}
