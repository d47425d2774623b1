//go:build windows

package infra

import (
	"golang.org/x/sys/windows"

	"github.com/pavkata12/client8/internal/domain"
)

// TokenPrivilegeChecker reads the elevation flag of the process token.
type TokenPrivilegeChecker struct{}

// NewPrivilegeChecker creates the platform privilege checker.
func NewPrivilegeChecker() domain.PrivilegeChecker {
	return &TokenPrivilegeChecker{}
}

func (c *TokenPrivilegeChecker) Elevated() (bool, error) {
	return windows.GetCurrentProcessToken().IsElevated(), nil
}

var _ domain.PrivilegeChecker = (*TokenPrivilegeChecker)(nil)
