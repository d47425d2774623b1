//go:build !windows

package infra

import (
	"github.com/pavkata12/client8/internal/domain"
)

// KeyFilterStub reports that no system-wide key filter exists here.
type KeyFilterStub struct{}

// NewKeyFilter creates the platform key filter.
func NewKeyFilter() domain.KeyFilter {
	return &KeyFilterStub{}
}

func (f *KeyFilterStub) Install(handler domain.KeyHandler) error {
	return domain.ErrUnsupported
}

func (f *KeyFilterStub) Pump() {}

func (f *KeyFilterStub) Wake() {}

func (f *KeyFilterStub) Uninstall() error {
	return nil
}

var _ domain.KeyFilter = (*KeyFilterStub)(nil)
