//go:build windows

package oscompat

import (
	"fmt"
	"os/user"
	"strings"

	"golang.org/x/sys/windows"
)

const (
	superAccountName = "Administrator"
	superHomeFolder  = `c:\Users\Administrator`
)

// osIdentity holds the logon token backing an impersonated avatar.
type osIdentity struct {
	token windows.Token
}

// currentAccount returns the name and profile folder of the account
// running the process. The domain part of the username is dropped.
func currentAccount() (string, string, error) {
	current, err := user.Current()
	if err != nil {
		return "", "", err
	}
	name := current.Username
	if index := strings.LastIndexByte(name, '\\'); index >= 0 {
		name = name[index+1:]
	}
	return name, strings.TrimRight(current.HomeDir, `\`), nil
}

// lookupIdentity wraps the avatar logon token. Windows impersonation
// always works on a token obtained at authentication time; there is no
// way to become another account from a bare name.
func lookupIdentity(avatar *Avatar) (*osIdentity, error) {
	if avatar.token == 0 {
		return nil, fmt.Errorf("no logon token for account %q", avatar.name)
	}
	return &osIdentity{token: windows.Token(avatar.token)}, nil
}

// lookupAccountUID has no meaning on Windows, where ownership is set via
// SIDs resolved from names.
func lookupAccountUID(name string) (int, error) {
	return 0, fmt.Errorf("numeric account ids are not available on Windows")
}

func lookupGroupGID(name string) (int, error) {
	return 0, fmt.Errorf("numeric group ids are not available on Windows")
}

func accountNameForUID(uid int) (string, error) {
	return "", fmt.Errorf("numeric account ids are not available on Windows")
}

func groupNameForGID(gid int) (string, error) {
	return "", fmt.Errorf("numeric group ids are not available on Windows")
}
