//go:build unix

package backup

import (
	"os"

	"golang.org/x/sys/unix"
)

// Lock takes an advisory, exclusive flock(2) on f for the duration of a
// rewrite's critical section, so two separate processes touching the same
// path don't race. It is additive to, not a substitute for, the
// single-goroutine discipline the container itself enforces.
func Lock(f *os.File) (unlock func() error, err error) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return nil, err
	}
	return func() error {
		return unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}, nil
}
