//go:build !windows

package infra

import (
	"os"

	"github.com/pavkata12/client8/internal/domain"
)

// EUIDPrivilegeChecker treats root as elevated.
type EUIDPrivilegeChecker struct{}

// NewPrivilegeChecker creates the platform privilege checker.
func NewPrivilegeChecker() domain.PrivilegeChecker {
	return &EUIDPrivilegeChecker{}
}

func (c *EUIDPrivilegeChecker) Elevated() (bool, error) {
	return os.Geteuid() == 0, nil
}

var _ domain.PrivilegeChecker = (*EUIDPrivilegeChecker)(nil)
