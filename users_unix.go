//go:build !windows

package oscompat

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"
)

const (
	superAccountName = "root"
	superHomeFolder  = "/root"
)

// osIdentity holds the resolved POSIX identity of an avatar account.
type osIdentity struct {
	uid    int
	gid    int
	groups []int
}

// currentAccount returns the name and home folder of the account running
// the process.
func currentAccount() (string, string, error) {
	current, err := user.Current()
	if err != nil {
		return "", "", err
	}
	return current.Username, strings.TrimRight(current.HomeDir, "/"), nil
}

// lookupIdentity resolves the avatar account into effective ids and
// supplementary groups.
func lookupIdentity(avatar *Avatar) (*osIdentity, error) {
	account, err := user.Lookup(avatar.name)
	if err != nil {
		return nil, fmt.Errorf("username does not exist: %v", err)
	}

	uid, err := strconv.Atoi(account.Uid)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.Atoi(account.Gid)
	if err != nil {
		return nil, err
	}

	groupIDs, err := account.GroupIds()
	if err != nil {
		return nil, fmt.Errorf("cannot list groups: %v", err)
	}
	groups := make([]int, 0, len(groupIDs))
	for _, raw := range groupIDs {
		id, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		groups = append(groups, id)
	}

	return &osIdentity{uid: uid, gid: gid, groups: groups}, nil
}

// lookupAccountUID returns the uid for a named account.
func lookupAccountUID(name string) (int, error) {
	account, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(account.Uid)
}

// lookupGroupGID returns the gid for a named group.
func lookupGroupGID(name string) (int, error) {
	group, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(group.Gid)
}

// accountNameForUID returns the account name owning uid.
func accountNameForUID(uid int) (string, error) {
	account, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", err
	}
	return account.Username, nil
}

// groupNameForGID returns the group name for gid.
func groupNameForGID(gid int) (string, error) {
	group, err := user.LookupGroupId(strconv.Itoa(gid))
	if err != nil {
		return "", err
	}
	return group.Name, nil
}
