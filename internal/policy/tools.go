package policy

import (
	"github.com/pavkata12/client8/internal/domain"
)

// SystemToolsRuleSet blocks the administrative tools a kiosk user could use
// to escape the lockdown.
type SystemToolsRuleSet struct {
	extra []string
}

// NewSystemToolsRuleSet creates the default system tools rule set.
func NewSystemToolsRuleSet() *SystemToolsRuleSet {
	return &SystemToolsRuleSet{}
}

// NewSystemToolsRuleSetWith appends extra process names (for configuration and tests).
func NewSystemToolsRuleSetWith(extra ...string) *SystemToolsRuleSet {
	return &SystemToolsRuleSet{extra: extra}
}

func (s *SystemToolsRuleSet) ID() string {
	return "tools"
}

func (s *SystemToolsRuleSet) Name() string {
	return "System tools"
}

// Rules returns the tool executables to terminate.
func (s *SystemToolsRuleSet) Rules() []domain.ProcessRule {
	names := []string{
		"taskmgr.exe",
		"procexp.exe",
		"procexp64.exe",
		"procmon.exe",
		"regedit.exe",
		"msconfig.exe",
		"mmc.exe",
		"cmd.exe",
		"powershell.exe",
		"powershell_ise.exe",
		"pwsh.exe",
		"wsl.exe",
		"control.exe",
	}
	names = append(names, s.extra...)

	rules := make([]domain.ProcessRule, 0, len(names))
	for _, n := range names {
		rules = append(rules, domain.ProcessRule{ProcessName: n, Action: domain.ActionTerminate})
	}
	return rules
}

// Ensure SystemToolsRuleSet implements RuleSet.
var _ RuleSet = (*SystemToolsRuleSet)(nil)
