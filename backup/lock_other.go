//go:build !unix

package backup

import "os"

// Lock is a no-op on non-unix GOOS: golang.org/x/sys/unix.Flock has no
// portable equivalent wired here, and single-process use is still
// serialized by the container's own single-goroutine discipline.
func Lock(f *os.File) (unlock func() error, err error) {
	return func() error { return nil }, nil
}
