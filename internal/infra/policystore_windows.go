//go:build windows

package infra

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"

	"github.com/pavkata12/client8/internal/domain"
)

// RegistryPolicyStore implements domain.PolicyStore on the Windows registry.
type RegistryPolicyStore struct{}

// NewPolicyStore creates the platform policy store.
func NewPolicyStore() domain.PolicyStore {
	return &RegistryPolicyStore{}
}

func rootKey(storePath string) (registry.Key, string, error) {
	hive, subkey, err := SplitStorePath(storePath)
	if err != nil {
		return 0, "", err
	}
	if hive == HiveLocalMachine {
		return registry.LOCAL_MACHINE, subkey, nil
	}
	return registry.CURRENT_USER, subkey, nil
}

// Read returns the DWORD value; a missing key or value is reported as absent.
func (s *RegistryPolicyStore) Read(storePath, valueName string) (uint32, bool, error) {
	root, subkey, err := rootKey(storePath)
	if err != nil {
		return 0, false, err
	}

	k, err := registry.OpenKey(root, subkey, registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("open %s: %w", storePath, err)
	}
	defer k.Close()

	v, _, err := k.GetIntegerValue(valueName)
	if errors.Is(err, registry.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read %s\\%s: %w", storePath, valueName, err)
	}
	return uint32(v), true, nil
}

// Write creates the key if needed and sets the DWORD value.
func (s *RegistryPolicyStore) Write(storePath, valueName string, value uint32) error {
	root, subkey, err := rootKey(storePath)
	if err != nil {
		return err
	}

	k, _, err := registry.CreateKey(root, subkey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("create %s: %w", storePath, err)
	}
	defer k.Close()

	return k.SetDWordValue(valueName, value)
}

// Delete removes the value; an absent key or value is not an error.
func (s *RegistryPolicyStore) Delete(storePath, valueName string) error {
	root, subkey, err := rootKey(storePath)
	if err != nil {
		return err
	}

	k, err := registry.OpenKey(root, subkey, registry.SET_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", storePath, err)
	}
	defer k.Close()

	if err := k.DeleteValue(valueName); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return err
	}
	return nil
}

var _ domain.PolicyStore = (*RegistryPolicyStore)(nil)
