//go:build windows

package oscompat

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	advapi32                    = windows.NewLazySystemDLL("advapi32.dll")
	procImpersonateLoggedOnUser = advapi32.NewProc("ImpersonateLoggedOnUser")
)

// windowsScope reverts the thread impersonation on Release. The calling
// goroutine stays locked to its OS thread for the lifetime of the scope,
// since the token is attached to the thread, not the process.
type windowsScope struct {
	released bool
}

// enterIdentity impersonates the logon token on the current thread.
func enterIdentity(id *osIdentity) (ImpersonationScope, error) {
	runtime.LockOSThread()
	ret, _, err := procImpersonateLoggedOnUser.Call(uintptr(id.token))
	if ret == 0 {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("ImpersonateLoggedOnUser: %v", err)
	}
	return &windowsScope{}, nil
}

func (s *windowsScope) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	err := windows.RevertToSelf()
	runtime.UnlockOSThread()
	return err
}

// hasPrivilege reports whether the process token carries the named
// privilege, enabled or not.
func hasPrivilege(name string) bool {
	var token windows.Token
	err := windows.OpenProcessToken(
		windows.CurrentProcess(), windows.TOKEN_QUERY, &token)
	if err != nil {
		return false
	}
	defer token.Close()

	var wanted windows.LUID
	if err := windows.LookupPrivilegeValue(nil, windows.StringToUTF16Ptr(name), &wanted); err != nil {
		return false
	}

	var size uint32
	_ = windows.GetTokenInformation(token, windows.TokenPrivileges, nil, 0, &size)
	if size == 0 {
		return false
	}
	buffer := make([]byte, size)
	err = windows.GetTokenInformation(
		token, windows.TokenPrivileges, &buffer[0], size, &size)
	if err != nil {
		return false
	}

	privileges := (*windows.Tokenprivileges)(unsafe.Pointer(&buffer[0]))
	for _, entry := range privileges.AllPrivileges() {
		if entry.Luid == wanted {
			return true
		}
	}
	return false
}

// enablePrivilege turns on the named privilege for the process token.
// Privileges present on the token start disabled and must be enabled
// before APIs that require them are called.
func enablePrivilege(name string) error {
	var token windows.Token
	err := windows.OpenProcessToken(
		windows.CurrentProcess(),
		windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY,
		&token)
	if err != nil {
		return err
	}
	defer token.Close()

	var luid windows.LUID
	if err := windows.LookupPrivilegeValue(nil, windows.StringToUTF16Ptr(name), &luid); err != nil {
		return err
	}

	privileges := windows.Tokenprivileges{
		PrivilegeCount: 1,
		Privileges: [1]windows.LUIDAndAttributes{{
			Luid:       luid,
			Attributes: windows.SE_PRIVILEGE_ENABLED,
		}},
	}
	err = windows.AdjustTokenPrivileges(token, false, &privileges, 0, nil, nil)
	if err != nil {
		return err
	}
	return nil
}
