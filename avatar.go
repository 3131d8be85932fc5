package oscompat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/chevah/oscompat/data"
)

// Token is an opaque OS identity handle. It carries a Windows logon token
// and is zero on POSIX systems, where accounts are resolved by name.
type Token uintptr

// VirtualFolder maps a segment prefix to an arbitrary real path, overlaid
// onto the confined tree like a bind mount.
type VirtualFolder struct {
	Segments data.Segments
	RealPath string
}

// Avatar represents the OS identity a filesystem operates as, together
// with its confinement and virtual-folder configuration.
//
// An Avatar is immutable after construction, except for the lazily cached
// OS identity used by impersonation, which is resolved once under a lock.
type Avatar struct {
	name             string
	homeFolderPath   string
	rootFolderPath   string
	lockInHomeFolder bool
	token            Token
	useImpersonation bool

	// virtualFolders preserves configuration order for resolution;
	// virtualIndex keeps the same entries sorted by display path for
	// overlap validation and ordered listing.
	virtualFolders []VirtualFolder
	virtualIndex   *btree.BTreeG[VirtualFolder]

	mu       sync.Mutex
	identity *osIdentity
}

// AvatarOption configures an Avatar during construction.
type AvatarOption func(*Avatar) error

// WithRootFolder confines the avatar to the given folder instead of its
// home folder. Implies that the home folder must live under the root.
func WithRootFolder(path string) AvatarOption {
	return func(a *Avatar) error {
		a.rootFolderPath = path
		a.lockInHomeFolder = false
		return nil
	}
}

// WithoutHomeLock lifts the default home-folder confinement. Without an
// explicit root folder the avatar can reach the whole filesystem.
func WithoutHomeLock() AvatarOption {
	return func(a *Avatar) error {
		a.lockInHomeFolder = false
		return nil
	}
}

// WithToken attaches a Windows logon token to the avatar. Ignored on
// POSIX.
func WithToken(token Token) AvatarOption {
	return func(a *Avatar) error {
		a.token = token
		return nil
	}
}

// WithVirtualFolder overlays realPath at the given segment prefix.
//
// Matching follows the host OS case rules (see data.FoldCase), so mixed-OS
// deployments sharing one table can observe different matches.
func WithVirtualFolder(segments data.Segments, realPath string) AvatarOption {
	return func(a *Avatar) error {
		normalized := segments.Normalize()
		if len(normalized) == 0 {
			return fmt.Errorf("virtual folder needs at least one segment")
		}
		a.virtualFolders = append(a.virtualFolders, VirtualFolder{
			Segments: normalized,
			RealPath: realPath,
		})
		return nil
	}
}

// NewAvatar builds an avatar for a named OS account. Filesystem
// operations performed with it run impersonated as that account, and by
// default access is locked inside the home folder.
func NewAvatar(name, homeFolderPath string, opts ...AvatarOption) (*Avatar, error) {
	avatar := &Avatar{
		name:             name,
		homeFolderPath:   homeFolderPath,
		lockInHomeFolder: true,
		useImpersonation: true,
	}
	return newAvatar(avatar, opts)
}

// NewApplicationAvatar builds an avatar that runs as the current process
// identity while still honoring confinement and virtual folders. It is
// never impersonated.
func NewApplicationAvatar(name, homeFolderPath string, opts ...AvatarOption) (*Avatar, error) {
	avatar := &Avatar{
		name:             name,
		homeFolderPath:   homeFolderPath,
		lockInHomeFolder: true,
		useImpersonation: false,
	}
	return newAvatar(avatar, opts)
}

// CurrentProcessAvatar returns the unrestricted avatar for the account
// under which the process runs. It has full filesystem access and no
// impersonation.
func CurrentProcessAvatar() (*Avatar, error) {
	name, home, err := currentAccount()
	if err != nil {
		return nil, data.IdentityError("current process", err)
	}
	return newAvatar(&Avatar{
		name:             name,
		homeFolderPath:   home,
		lockInHomeFolder: false,
		useImpersonation: false,
	}, nil)
}

// SuperAvatar returns the avatar for the privileged system account (root
// on POSIX). Operations with it are impersonated.
func SuperAvatar() (*Avatar, error) {
	return newAvatar(&Avatar{
		name:             superAccountName,
		homeFolderPath:   superHomeFolder,
		lockInHomeFolder: false,
		useImpersonation: true,
	}, nil)
}

func newAvatar(avatar *Avatar, opts []AvatarOption) (*Avatar, error) {
	for _, opt := range opts {
		if err := opt(avatar); err != nil {
			return nil, err
		}
	}

	if avatar.homeFolderPath == "" {
		return nil, fmt.Errorf("avatar %q needs a home folder path", avatar.name)
	}

	avatar.virtualIndex = btree.NewBTreeG(func(a, b VirtualFolder) bool {
		return virtualKey(a) < virtualKey(b)
	})
	for _, folder := range avatar.virtualFolders {
		avatar.virtualIndex.Set(folder)
	}

	if err := avatar.validateVirtualTable(); err != nil {
		return nil, err
	}
	return avatar, nil
}

// virtualKey is the sort key for the virtual-folder table. Folding the
// case here keeps overlap detection consistent with path matching.
func virtualKey(folder VirtualFolder) string {
	key := data.RenderPath(folder.Segments)
	if data.FoldCase {
		key = strings.ToLower(key)
	}
	return key
}

// validateVirtualTable rejects tables where one entry equals or prefixes
// another. The table is validated once at construction, so the pairwise
// check stays simple.
func (a *Avatar) validateVirtualTable() error {
	if a.virtualIndex.Len() != len(a.virtualFolders) {
		// The index collapses entries with equal keys.
		return a.virtualOverlapError()
	}

	for i, first := range a.virtualFolders {
		for _, second := range a.virtualFolders[i+1:] {
			if data.HasSegmentsPrefix(first.Segments, second.Segments, data.FoldCase) ||
				data.HasSegmentsPrefix(second.Segments, first.Segments, data.FoldCase) {
				return a.virtualOverlapError()
			}
		}
	}
	return nil
}

func (a *Avatar) virtualOverlapError() error {
	return data.NewEventError(
		data.EventVirtualOverlap,
		"avatar",
		a.name,
		fmt.Errorf("virtual folders have equal or nested segment prefixes"),
	)
}

// Name returns the account name, or the process account for the default
// avatar.
func (a *Avatar) Name() string { return a.name }

// HomeFolderPath returns the real path of the account home folder.
func (a *Avatar) HomeFolderPath() string { return a.homeFolderPath }

// RootFolderPath returns the configured root folder, empty when the
// avatar is unrestricted or locked in its home folder.
func (a *Avatar) RootFolderPath() string { return a.rootFolderPath }

// LockInHomeFolder reports whether the home folder doubles as the root.
func (a *Avatar) LockInHomeFolder() bool { return a.lockInHomeFolder }

// Token returns the opaque OS handle attached to the avatar.
func (a *Avatar) Token() Token { return a.token }

// UseImpersonation reports whether operations switch the OS identity.
func (a *Avatar) UseImpersonation() bool { return a.useImpersonation }

// VirtualFolders returns the overlay table sorted by display path.
func (a *Avatar) VirtualFolders() []VirtualFolder {
	result := make([]VirtualFolder, 0, a.virtualIndex.Len())
	a.virtualIndex.Scan(func(folder VirtualFolder) bool {
		result = append(result, folder)
		return true
	})
	return result
}

// ImpersonationScope switches the OS identity to the avatar account and
// returns a guard that restores the previous identity. The guard must be
// released exactly once, on every path including errors.
//
// On POSIX the switch changes the effective uid/gid of the whole process:
// at most one scope may be active process-wide at any instant, and
// callers running impersonated operations from multiple goroutines must
// serialize them. On Windows the switch is bound to the calling thread.
func (a *Avatar) ImpersonationScope() (ImpersonationScope, error) {
	if !a.useImpersonation {
		return noopScope{}, nil
	}
	identity, err := a.resolveIdentity()
	if err != nil {
		return nil, data.IdentityError(a.name, err)
	}
	return enterIdentity(identity)
}

// resolveIdentity caches the OS identity behind the avatar name or token.
// Resolved once, then immutable.
func (a *Avatar) resolveIdentity() (*osIdentity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.identity != nil {
		return a.identity, nil
	}
	identity, err := lookupIdentity(a)
	if err != nil {
		return nil, err
	}
	a.identity = identity
	return identity, nil
}

// ImpersonationScope is a temporary OS identity switch. Release restores
// the previous identity and is safe to call from deferred cleanup.
type ImpersonationScope interface {
	Release() error
}

type noopScope struct{}

func (noopScope) Release() error { return nil }
