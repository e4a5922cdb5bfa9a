//go:build windows

package fsutil

// Directory handles cannot be fsynced on Windows; the rename is already
// durable once the file itself was synced.
func isUnsupportedSync(error) bool { return true }
