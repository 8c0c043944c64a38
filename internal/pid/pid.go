// Package pid guards against running two daemons at once.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/bcld/internal/errors"
)

const (
	pidFile = "bcld.pid"
)

// File is a PID file.
type File struct {
	path string
}

// Default returns the PID file in the system temp directory.
func Default() File {
	return In(os.TempDir())
}

// In returns the PID file inside dir.
func In(dir string) File {
	return File{path: filepath.Join(dir, pidFile)}
}

func (f File) Path() string { return f.path }

// Write records the current process. It fails with ErrAlreadyRunning when
// the file names another live process; a stale or unreadable file is
// replaced.
func (f File) Write() error {
	errFactory := errors.New()
	self := os.Getpid()

	if bytes, err := os.ReadFile(f.path); err == nil {
		if other, err := strconv.Atoi(strings.TrimSpace(string(bytes))); err == nil && other != self && alive(other) {
			return errFactory.WithData(errors.ErrAlreadyRunning, other)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(self)), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	return nil
}

// Remove deletes the PID file if present.
func (f File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}
	return nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
