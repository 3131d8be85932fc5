//go:build windows

package data

import (
	"errors"

	"golang.org/x/sys/windows"
)

// osKind maps Win32 codes that never equal the POSIX errno constants.
// Checked before the generic taxonomy so ERROR_DIR_NOT_EMPTY does not
// fall through to the runtime's fs.ErrExist mapping.
func osKind(err error) error {
	switch {
	case errors.Is(err, windows.ERROR_DIR_NOT_EMPTY):
		return ErrNotEmpty
	case errors.Is(err, windows.ERROR_DIRECTORY):
		return ErrNotFolder
	case errors.Is(err, windows.ERROR_NOT_SUPPORTED):
		return ErrUnsupported
	case errors.Is(err, windows.ERROR_PRIVILEGE_NOT_HELD):
		return ErrPermissionDenied
	default:
		return nil
	}
}
