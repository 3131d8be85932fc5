//go:build !windows

package data

// osKind has no OS-specific codes to map outside Windows.
func osKind(err error) error {
	return nil
}
