package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrStoreLocked indicates the exclusive write lock could not be
// acquired within the bounded wait.
var ErrStoreLocked = errors.New("store: write lock held by another process")

const lockPollInterval = 50 * time.Millisecond

// acquireLock takes the exclusive write lock guarding append, archive,
// clear, and restore. It polls until timeout, reclaiming lock files
// older than staleAfter (holder presumed crashed). The returned
// release func removes the lock file.
func acquireLock(path string, timeout, staleAfter time.Duration) (func(), error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			_ = f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("store: creating lock file: %w", err)
		}

		if info, statErr := os.Stat(path); statErr == nil {
			if time.Since(info.ModTime()) > staleAfter {
				// Holder is presumed dead; reclaim and retry immediately.
				_ = os.Remove(path)
				continue
			}
		}

		if time.Now().After(deadline) {
			return nil, ErrStoreLocked
		}
		time.Sleep(lockPollInterval)
	}
}
