//go:build !windows

package infra

import (
	"github.com/pavkata12/client8/internal/domain"
)

// WindowCloserStub has no windows to close.
type WindowCloserStub struct{}

// NewWindowCloser creates the platform window closer.
func NewWindowCloser() domain.WindowCloser {
	return &WindowCloserStub{}
}

func (c *WindowCloserStub) CloseWindows(rules []domain.ProcessRule) (int, error) {
	return 0, domain.ErrUnsupported
}

var _ domain.WindowCloser = (*WindowCloserStub)(nil)
