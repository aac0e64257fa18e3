//go:build unix

package serial

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another live process holds the device lock.
var ErrLocked = errors.New("device is locked")

// LockFile is an HDB UUCP style lock: the owner's PID as ten ASCII digits
// and a newline.
type LockFile struct {
	Path string
}

// LockPath returns the lock file for device inside dir.
func LockPath(dir, device string) string {
	return filepath.Join(dir, "LCK.."+filepath.Base(device))
}

// Lock creates the lock file exclusively. A lock left by a process that no
// longer exists is removed and the creation retried once.
func Lock(path string) (*LockFile, error) {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%10d\n", os.Getpid())
			cerr := f.Close()
			if werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(path)
				return nil, errors.Wrapf(werr, "write lock file %s", path)
			}
			return &LockFile{Path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, errors.Wrapf(err, "create lock file %s", path)
		}

		pid, err := readLockPID(path)
		if err != nil {
			return nil, err
		}
		if pid == os.Getpid() {
			return &LockFile{Path: path}, nil
		}
		if attempt > 0 || !stale(pid) {
			return nil, errors.Wrapf(ErrLocked, "%s held by pid %d", path, pid)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "remove stale lock file %s", path)
		}
	}
}

// Unlock removes the lock file.
func (l *LockFile) Unlock() error {
	if err := os.Remove(l.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "remove lock file %s", l.Path)
	}
	return nil
}

func readLockPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "read lock file %s", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		// unreadable content counts as an abandoned lock
		return 0, nil
	}
	return pid, nil
}

func stale(pid int) bool {
	if pid <= 0 {
		return true
	}
	return errors.Is(unix.Kill(pid, 0), unix.ESRCH)
}
