//go:build darwin || dragonfly || freebsd || illumos || linux || netbsd || openbsd

package bitcask

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func LockFileNonBlocking(file *os.File) error {
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return errors.Wrapf(err, "%s is already locked", file.Name())
	}
	return nil
}
