package oscompat

import "runtime"

// ProcessCapabilities reports which optional features the current
// OS/process combination supports. Callers query it before attempting
// impersonation or symbolic-link operations.
type ProcessCapabilities struct{}

// NewProcessCapabilities returns the capability detector for the current
// process.
func NewProcessCapabilities() *ProcessCapabilities {
	return &ProcessCapabilities{}
}

// OSFamily returns "nt" on Windows and "posix" everywhere else.
func (c *ProcessCapabilities) OSFamily() string {
	if runtime.GOOS == "windows" {
		return "nt"
	}
	return "posix"
}

// OSName returns the normalized OS name used for behavior switches.
func (c *ProcessCapabilities) OSName() string {
	switch runtime.GOOS {
	case "darwin":
		return "osx"
	default:
		return runtime.GOOS
	}
}
