//go:build !windows

package oscompat

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// posixScope restores the previous process identity on Release.
//
// The effective uid/gid switch applies to the whole process, not a single
// thread; see Avatar.ImpersonationScope for the serialization contract.
type posixScope struct {
	prevEUID   int
	prevEGID   int
	prevGroups []int
	released   bool
}

// enterIdentity switches the effective identity of the process to id and
// returns the guard restoring the current one.
func enterIdentity(id *osIdentity) (ImpersonationScope, error) {
	prevGroups, err := unix.Getgroups()
	if err != nil {
		return nil, err
	}
	scope := &posixScope{
		prevEUID:   unix.Geteuid(),
		prevEGID:   unix.Getegid(),
		prevGroups: prevGroups,
	}

	if err := changeEffective(id.uid, id.gid, id.groups); err != nil {
		return nil, err
	}
	return scope, nil
}

func (s *posixScope) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	return changeEffective(s.prevEUID, s.prevEGID, s.prevGroups)
}

// changeEffective sets the effective uid/gid and supplementary groups.
//
// The syscall package variants are used for the euid/egid switch: since
// Go 1.16 they apply to every thread of the process, and x/sys/unix does
// not provide Seteuid/Setegid on Linux. The euid is set last: once it
// drops, the process may no longer have permission to change the egid or
// the group list.
func changeEffective(euid, egid int, groups []int) error {
	if unix.Geteuid() == euid && unix.Getegid() == egid {
		// Already running as the requested identity.
		return nil
	}

	if unix.Geteuid() != 0 {
		// Regain full permissions first; the saved set-user-ID keeps
		// this possible for a process started as root.
		if err := syscall.Seteuid(0); err != nil {
			return fmt.Errorf("could not switch user: %v", err)
		}
		if err := syscall.Setegid(0); err != nil {
			return fmt.Errorf("could not switch group: %v", err)
		}
	}

	if groups != nil {
		if err := unix.Setgroups(groups); err != nil {
			return fmt.Errorf("could not set groups: %v", err)
		}
	}
	if err := syscall.Setegid(egid); err != nil {
		return fmt.Errorf("could not switch group: %v", err)
	}
	if err := syscall.Seteuid(euid); err != nil {
		return fmt.Errorf("could not switch user: %v", err)
	}
	return nil
}

// elevatedScope briefly runs as root, for administrative steps nested
// inside the caller scope. The returned guard restores the previous
// identity.
func elevatedScope() (ImpersonationScope, error) {
	return enterIdentity(&osIdentity{uid: 0, gid: 0})
}
