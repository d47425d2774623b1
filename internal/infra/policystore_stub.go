//go:build !windows

package infra

import (
	"github.com/pavkata12/client8/internal/domain"
)

// PolicyStoreStub reports that no machine policy store exists here.
type PolicyStoreStub struct{}

// NewPolicyStore creates the platform policy store.
func NewPolicyStore() domain.PolicyStore {
	return &PolicyStoreStub{}
}

func (s *PolicyStoreStub) Read(storePath, valueName string) (uint32, bool, error) {
	return 0, false, domain.ErrUnsupported
}

func (s *PolicyStoreStub) Write(storePath, valueName string, value uint32) error {
	return domain.ErrUnsupported
}

func (s *PolicyStoreStub) Delete(storePath, valueName string) error {
	return domain.ErrUnsupported
}

var _ domain.PolicyStore = (*PolicyStoreStub)(nil)
