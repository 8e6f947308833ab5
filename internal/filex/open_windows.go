//go:build windows

package filex

import "os"

// OpenNoFollow opens a file for writing.
// On Windows, O_NOFOLLOW is not available. Symlink creation needs elevated
// privileges there, so plain OpenFile is used.
func OpenNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

// OpenNoFollowRead opens a file for reading. See OpenNoFollow.
func OpenNoFollowRead(path string) (*os.File, error) {
	return os.Open(path)
}
