package data

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// Sentinel error kinds shared by every engine variant. Native errno and
// Win32 codes are normalized to exactly one of these, with a fixed
// English message independent of the host locale.
var (
	ErrNotFound         = errors.New("compat: no such file or directory")
	ErrAlreadyExists    = errors.New("compat: file already exists")
	ErrNotEmpty         = errors.New("compat: directory not empty")
	ErrIsFolder         = errors.New("compat: is a directory")
	ErrNotFolder        = errors.New("compat: not a directory")
	ErrPermissionDenied = errors.New("compat: permission denied")
	ErrUnsupported      = errors.New("compat: operation not supported")
	ErrNotALink         = errors.New("compat: not a symbolic link")

	// Sandboxing violations. These are security errors, kept distinct
	// from plain I/O failures so callers can audit them separately.
	ErrPathEscapesRoot   = errors.New("compat: path escapes the root folder")
	ErrPathOutsideRoot   = errors.New("compat: path is outside the root folder")
	ErrVirtualPathDenied = errors.New("compat: modifying a virtual path is not allowed")
	ErrBrokenVirtualPath = errors.New("compat: broken virtual path")

	// ErrIdentity covers impersonation and token failures. It is never
	// downgraded to a not-found error.
	ErrIdentity = errors.New("compat: identity error")
)

// Stable event identifiers kept for backward-compatible diagnostics.
const (
	EventBrokenVirtualPath = 1004
	EventVirtualOverlap    = 1005
	EventImpersonation     = 1006
	EventVirtualPathDenied = 1007
	EventDeleteRootFolder  = 1009
	EventRemoveGroupFailed = 1013
	EventSetOwnerFailed    = 1016
	EventAddGroupFailed    = 1017
	EventOutsideRoot       = 1018
	EventHomeOutsideRoot   = 20019
)

// Error is the data-carrying error returned by the engine. It wraps one
// of the sentinel kinds so callers can match with errors.Is, and always
// names the operand path when one exists.
type Error struct {
	// EventID is a stable numeric diagnostic id, 0 when none applies.
	EventID int
	Op      string
	Path    string
	Err     error
}

func (e *Error) Error() string {
	text := e.Err.Error()
	if e.Path != "" {
		text = fmt.Sprintf("%s: %s", text, e.Path)
	}
	if e.Op != "" {
		text = fmt.Sprintf("%s %s", e.Op, text)
	}
	if e.EventID != 0 {
		text = fmt.Sprintf("[%d] %s", e.EventID, text)
	}
	return text
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an engine error for op acting on path.
func NewError(op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Err: err}
}

// NewEventError builds an engine error carrying a stable event id.
func NewEventError(event int, op, path string, err error) *Error {
	return &Error{EventID: event, Op: op, Path: path, Err: err}
}

// IdentityError reports an impersonation failure for the named account.
func IdentityError(account string, cause error) *Error {
	return &Error{
		EventID: EventImpersonation,
		Op:      "impersonate",
		Path:    account,
		Err:     fmt.Errorf("%w: account %q: %v", ErrIdentity, account, cause),
	}
}

// MapOSError normalizes a native filesystem error into the portable
// taxonomy, attaching the resolved real path so diagnostics never show a
// bare errno without its operand. A nil error maps to nil.
func MapOSError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var compat *Error
	if errors.As(err, &compat) {
		// Already normalized by a lower layer.
		return err
	}

	kind := errKind(err)
	if kind == nil {
		return &Error{Op: op, Path: path, Err: err}
	}
	return &Error{Op: op, Path: path, Err: fmt.Errorf("%w: %v", kind, causeOf(err))}
}

// errKind maps a native error to its sentinel kind, or nil for errors
// outside the taxonomy. The specific errno checks run before the broad
// fs sentinels: the runtime reports ENOTEMPTY as matching fs.ErrExist,
// which would turn a not-empty failure into an already-exists one.
func errKind(err error) error {
	if kind := osKind(err); kind != nil {
		return kind
	}
	switch {
	case errors.Is(err, syscall.ENOTEMPTY):
		return ErrNotEmpty
	case errors.Is(err, syscall.EISDIR):
		return ErrIsFolder
	case errors.Is(err, syscall.ENOTDIR):
		return ErrNotFolder
	case errors.Is(err, syscall.ENOSYS):
		return ErrUnsupported
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return ErrAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	default:
		return nil
	}
}

// causeOf strips os wrapper types so the normalized message carries the
// native cause once, not the operand path twice.
func causeOf(err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err
	}
	return err
}
