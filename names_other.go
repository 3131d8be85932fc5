//go:build !darwin

package oscompat

// decodeFileName returns directory entry names as the OS reports them.
func decodeFileName(name string) string {
	return name
}
