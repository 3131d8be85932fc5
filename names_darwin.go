//go:build darwin

package oscompat

import "golang.org/x/text/unicode/norm"

// decodeFileName normalizes a directory entry name to NFC. HFS+ and APFS
// store names in a decomposed form that confuses clients comparing
// precomposed strings.
func decodeFileName(name string) string {
	return norm.NFC.String(name)
}
