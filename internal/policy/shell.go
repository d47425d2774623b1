package policy

import (
	"github.com/pavkata12/client8/internal/domain"
)

// DesktopShellName is the desktop shell executable. Its argument-less
// instance is the desktop itself and is never terminated.
const DesktopShellName = "explorer.exe"

// DesktopShellRuleSet suppresses file-browser windows without killing the desktop.
type DesktopShellRuleSet struct{}

// NewDesktopShellRuleSet creates the desktop shell rule set.
func NewDesktopShellRuleSet() *DesktopShellRuleSet {
	return &DesktopShellRuleSet{}
}

func (s *DesktopShellRuleSet) ID() string {
	return "shell"
}

func (s *DesktopShellRuleSet) Name() string {
	return "Desktop shell windows"
}

// Rules returns the shell process rule plus the window-class rules that
// catch browser windows and file pickers hosted by other processes.
func (s *DesktopShellRuleSet) Rules() []domain.ProcessRule {
	return []domain.ProcessRule{
		{ProcessName: DesktopShellName, Action: domain.ActionTerminate, ShellArgsOnly: true},

		// File Explorer windows
		{WindowClass: "CabinetWClass", Action: domain.ActionTerminate},
		{WindowClass: "ExploreWClass", Action: domain.ActionTerminate},

		// Open / Save As dialogs
		{WindowClass: "#32770", TitleKeywords: []string{"open", "save", "browse", "select"}, Action: domain.ActionTerminate},
	}
}

// Ensure DesktopShellRuleSet implements RuleSet.
var _ RuleSet = (*DesktopShellRuleSet)(nil)
