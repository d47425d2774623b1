package policy

import (
	"sort"

	"github.com/pavkata12/client8/internal/domain"
)

// Registry holds all suppression rule sets.
type Registry struct {
	sets map[string]RuleSet
}

// NewRegistry creates a registry with all default rule sets.
func NewRegistry() *Registry {
	r := &Registry{
		sets: make(map[string]RuleSet),
	}

	// Register default rule sets
	r.Register(NewSystemToolsRuleSet())
	r.Register(NewDesktopShellRuleSet())

	return r
}

// NewRegistryWithSets creates a registry with custom rule sets (for testing).
func NewRegistryWithSets(sets ...RuleSet) *Registry {
	r := &Registry{
		sets: make(map[string]RuleSet),
	}
	for _, s := range sets {
		r.Register(s)
	}
	return r
}

// Register adds a rule set to the registry.
func (r *Registry) Register(s RuleSet) {
	r.sets[s.ID()] = s
}

// Get returns a rule set by ID.
func (r *Registry) Get(id string) (RuleSet, bool) {
	s, ok := r.sets[id]
	return s, ok
}

// GetAll returns all registered rule sets ordered by ID.
func (r *Registry) GetAll() []RuleSet {
	result := make([]RuleSet, 0, len(r.sets))
	for _, id := range r.List() {
		result = append(result, r.sets[id])
	}
	return result
}

// List returns all rule set IDs, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.sets))
	for id := range r.sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AllRules flattens every rule set in ID order.
func (r *Registry) AllRules() []domain.ProcessRule {
	var rules []domain.ProcessRule
	for _, s := range r.GetAll() {
		rules = append(rules, s.Rules()...)
	}
	return rules
}
