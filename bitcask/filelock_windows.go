//go:build windows

package bitcask

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

func LockFileNonBlocking(file *os.File) error {
	flags := windows.LOCKFILE_FAIL_IMMEDIATELY | windows.LOCKFILE_EXCLUSIVE_LOCK
	if err := windows.LockFileEx(windows.Handle(file.Fd()), uint32(flags), 0, 1, 0, &windows.Overlapped{}); err != nil {
		return errors.Wrapf(err, "%s is already locked", file.Name())
	}
	return nil
}
