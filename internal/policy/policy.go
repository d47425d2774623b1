// Package policy implements the Strategy pattern for lockdown rules.
// Each rule set (system tools, desktop shell) defines what the process guard
// suppresses; key tables and restriction flags live alongside.
package policy

import (
	"time"

	"github.com/pavkata12/client8/internal/domain"
)

// DefaultScanInterval is how often the process guard sweeps.
const DefaultScanInterval = time.Second

// RuleSet defines the strategy interface for a group of suppression rules.
type RuleSet interface {
	// ID returns unique identifier (e.g., "tools", "shell").
	ID() string

	// Name returns human-readable name for display.
	Name() string

	// Rules returns the process and window rules of the set.
	Rules() []domain.ProcessRule
}

// Default key tables. Combos are "mod+mod+key" text, see ParseCombo.
var (
	DefaultStrictKeys = []string{
		"meta",
		"alt+f4",
		"alt+tab",
		"alt+esc",
		"ctrl+esc",
		"ctrl+shift+esc",
		"ctrl+alt+delete",
		"meta+tab",
		"meta+e",
		"meta+r",
		"meta+x",
		"f3",
	}

	DefaultMinimalKeys = []string{
		"meta",
		"meta+e",
		"meta+r",
		"meta+x",
	}
)

// Spec is the raw, configurable description of the lockdown tables.
type Spec struct {
	StrictKeys      []string
	ExtraStrictKeys []string
	MinimalKeys     []string
	ProcessRules    []domain.ProcessRule
	Restrictions    []domain.PolicyChange
}

// DefaultSpec returns the built-in tables.
func DefaultSpec() Spec {
	return Spec{
		StrictKeys:   append([]string(nil), DefaultStrictKeys...),
		MinimalKeys:  append([]string(nil), DefaultMinimalKeys...),
		ProcessRules: NewRegistry().AllRules(),
		Restrictions: DefaultRestrictions(),
	}
}

// Build turns a spec into the runtime lockdown set.
func Build(spec Spec) (domain.LockdownSet, error) {
	strict, err := ParseCombos(append(append([]string(nil), spec.StrictKeys...), spec.ExtraStrictKeys...))
	if err != nil {
		return domain.LockdownSet{}, err
	}
	minimal, err := ParseCombos(spec.MinimalKeys)
	if err != nil {
		return domain.LockdownSet{}, err
	}
	return domain.LockdownSet{
		Strict:       domain.LockdownProfile{Mode: domain.ModeStrict, Blocked: strict},
		Minimal:      domain.LockdownProfile{Mode: domain.ModeMinimal, Blocked: minimal},
		ProcessRules: spec.ProcessRules,
		Restrictions: spec.Restrictions,
	}, nil
}
