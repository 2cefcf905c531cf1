package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// lockFileName sits at the top of the backup root. It is not a directory, so
// retention never mistakes it for a session.
const lockFileName = ".drivevault.lock"

const (
	lockFilePermissions = 0o644
	lockDirPermissions  = 0o755
)

// acquireRootLock takes an exclusive flock on the backup root's lock file
// and writes the current PID into it. Two runs writing into the same root
// would race on session directories and retention, so the second one fails.
// The returned release removes the file and drops the lock.
func acquireRootLock(root string) (release func(), err error) {
	if root == "" {
		return nil, fmt.Errorf("backup root is empty, cannot lock it")
	}

	if err := os.MkdirAll(root, lockDirPermissions); err != nil {
		return nil, fmt.Errorf("creating backup root: %w", err)
	}

	path := filepath.Join(root, lockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	// Non-blocking: fail at once when another process holds it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, perr := readLockPID(path); perr == nil {
			return nil, fmt.Errorf("another drivevault run (PID %d) is using %s", pid, root)
		}

		return nil, fmt.Errorf("another drivevault run is using %s", root)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing lock file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readLockPID reads the PID recorded by the lock holder.
func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
