package infra

import (
	"fmt"
	"strings"
)

// Policy store hives.
const (
	HiveCurrentUser  = "HKCU"
	HiveLocalMachine = "HKLM"
)

// SplitStorePath splits `HKCU\Software\...` into its hive and subkey.
// Long hive names are accepted.
func SplitStorePath(storePath string) (hive, subkey string, err error) {
	head, rest, ok := strings.Cut(storePath, `\`)
	if !ok || rest == "" {
		return "", "", fmt.Errorf("invalid store path %q", storePath)
	}
	switch strings.ToUpper(head) {
	case HiveCurrentUser, "HKEY_CURRENT_USER":
		return HiveCurrentUser, rest, nil
	case HiveLocalMachine, "HKEY_LOCAL_MACHINE":
		return HiveLocalMachine, rest, nil
	}
	return "", "", fmt.Errorf("unsupported hive %q in %q", head, storePath)
}
