//go:build windows

package oscompat

import "strings"

// ImpersonateLocalAccount reports whether the process token can
// impersonate logon tokens of other accounts.
func (c *ProcessCapabilities) ImpersonateLocalAccount() bool {
	return hasPrivilege("SeImpersonatePrivilege")
}

// CreateHomeFolder reports whether profile folders can be provisioned,
// which needs backup and restore semantics.
func (c *ProcessCapabilities) CreateHomeFolder() bool {
	return hasPrivilege("SeBackupPrivilege") && hasPrivilege("SeRestorePrivilege")
}

// GetHomeFolder reports whether account profile folders can be read.
// Profile paths live in the registry and need an elevated query.
func (c *ProcessCapabilities) GetHomeFolder() bool {
	return c.CreateHomeFolder()
}

// SymbolicLink reports whether the process may create symbolic links.
func (c *ProcessCapabilities) SymbolicLink() bool {
	return hasPrivilege("SeCreateSymbolicLinkPrivilege")
}

// Description returns a short text describing current privileges.
func (c *ProcessCapabilities) Description() string {
	var enabled []string
	checks := []struct {
		name string
		ok   bool
	}{
		{"impersonate-local-account", c.ImpersonateLocalAccount()},
		{"create-home-folder", c.CreateHomeFolder()},
		{"symbolic-link", c.SymbolicLink()},
	}
	for _, check := range checks {
		if check.ok {
			enabled = append(enabled, check.name)
		}
	}
	if len(enabled) == 0 {
		return "no elevated capabilities."
	}
	return "capabilities: " + strings.Join(enabled, ", ") + "."
}
