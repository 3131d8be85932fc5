package data

import (
	"errors"
	"io/fs"
	"strings"
	"syscall"
	"testing"
)

func TestMapOSErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		native error
		want   error
	}{
		{"not found", fs.ErrNotExist, ErrNotFound},
		{"already exists", fs.ErrExist, ErrAlreadyExists},
		{"permission", fs.ErrPermission, ErrPermissionDenied},
		{"not empty", syscall.ENOTEMPTY, ErrNotEmpty},
		{"is a directory", syscall.EISDIR, ErrIsFolder},
		{"not a directory", syscall.ENOTDIR, ErrNotFolder},
		{"unsupported", syscall.ENOSYS, ErrUnsupported},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := &fs.PathError{Op: "open", Path: "/tmp/x", Err: tc.native}
			err := MapOSError("open", "/x", wrapped)
			if !errors.Is(err, tc.want) {
				t.Fatalf("MapOSError(%v) = %v, does not match %v",
					tc.native, err, tc.want)
			}
		})
	}
}

func TestMapOSErrorNotEmptyIsNotAlreadyExists(t *testing.T) {
	// The runtime reports ENOTEMPTY as matching fs.ErrExist, so the
	// errno check must win over the broader sentinel.
	wrapped := &fs.PathError{Op: "rmdir", Path: "/tmp/x", Err: syscall.ENOTEMPTY}
	err := MapOSError("delete-folder", "/x", wrapped)
	if !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("MapOSError(ENOTEMPTY) = %v, does not match ErrNotEmpty", err)
	}
	if errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("MapOSError(ENOTEMPTY) = %v, must not match ErrAlreadyExists", err)
	}
}

func TestMapOSErrorNil(t *testing.T) {
	if err := MapOSError("open", "/x", nil); err != nil {
		t.Fatalf("nil must map to nil, got %v", err)
	}
}

func TestMapOSErrorKeepsNormalized(t *testing.T) {
	original := NewEventError(EventDeleteRootFolder, "delete-folder", "/",
		ErrPermissionDenied)
	err := MapOSError("delete-folder", "/", original)
	if err != original {
		t.Fatalf("an already normalized error must pass through, got %v", err)
	}
}

func TestErrorMessageCarriesEventAndPath(t *testing.T) {
	err := NewEventError(EventVirtualPathDenied, "delete-file", "/v/m",
		ErrVirtualPathDenied)

	text := err.Error()
	for _, fragment := range []string{"[1007]", "delete-file", "/v/m"} {
		if !strings.Contains(text, fragment) {
			t.Errorf("error text %q is missing %q", text, fragment)
		}
	}
	if !errors.Is(err, ErrVirtualPathDenied) {
		t.Fatalf("event error must match its sentinel kind")
	}
}

func TestIdentityErrorMatchesKind(t *testing.T) {
	err := IdentityError("alice", errors.New("no such account"))
	if !errors.Is(err, ErrIdentity) {
		t.Fatalf("identity errors must match ErrIdentity, got %v", err)
	}
	var compat *Error
	if !errors.As(err, &compat) || compat.EventID != EventImpersonation {
		t.Fatalf("identity errors must carry event %d, got %v",
			EventImpersonation, err)
	}
}
