//go:build !windows

package oscompat

// ImpersonateLocalAccount reports whether the process can switch its
// effective identity, which on POSIX means it can become root.
func (c *ProcessCapabilities) ImpersonateLocalAccount() bool {
	scope, err := elevatedScope()
	if err != nil {
		return false
	}
	_ = scope.Release()
	return true
}

// CreateHomeFolder reports whether home folders can be provisioned.
func (c *ProcessCapabilities) CreateHomeFolder() bool {
	return c.ImpersonateLocalAccount()
}

// GetHomeFolder reports whether account home folders can be read. The
// POSIX account database is world readable.
func (c *ProcessCapabilities) GetHomeFolder() bool {
	return true
}

// SymbolicLink reports whether symbolic links are supported.
func (c *ProcessCapabilities) SymbolicLink() bool {
	return true
}

// Description returns a short text describing current privileges.
func (c *ProcessCapabilities) Description() string {
	if c.ImpersonateLocalAccount() {
		return "root capabilities enabled."
	}
	return "root capabilities disabled."
}
