package policy

import "github.com/pavkata12/client8/internal/domain"

// Well-known restriction key paths.
const (
	SystemPoliciesPath   = `HKCU\Software\Microsoft\Windows\CurrentVersion\Policies\System`
	ExplorerPoliciesPath = `HKCU\Software\Microsoft\Windows\CurrentVersion\Policies\Explorer`
	WindowsSystemPath    = `HKCU\Software\Policies\Microsoft\Windows\System`
)

// DefaultRestrictions returns the fixed change list in application order.
func DefaultRestrictions() []domain.PolicyChange {
	return []domain.PolicyChange{
		{StorePath: SystemPoliciesPath, ValueName: "DisableTaskMgr", Desired: 1},
		{StorePath: SystemPoliciesPath, ValueName: "DisableRegistryTools", Desired: 1},
		{StorePath: WindowsSystemPath, ValueName: "DisableCMD", Desired: 1},
		{StorePath: ExplorerPoliciesPath, ValueName: "NoControlPanel", Desired: 1},
		{StorePath: SystemPoliciesPath, ValueName: "DisableSystemRestore", Desired: 1},
	}
}
