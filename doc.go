// Package oscompat is an operating-system abstraction layer for
// file-transfer services. It performs filesystem and identity operations
// identically on POSIX and Windows, optionally confining all access to a
// per-account root folder and switching the OS-level identity under which
// operations run.
//
// Callers build one Avatar and one LocalFilesystem per logical session and
// pass them explicitly; the package keeps no process-wide mutable state.
package oscompat
