package concurrency

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"depres/pkg/hashing"
	"depres/pkg/log"
)

// FileLocks is the process-wide lock group for files on disk.
var FileLocks = NewStripedMutex(DefaultStripes)

// staleLockAge is how old a lock file may get before another process may break it.
const staleLockAge = 10 * time.Minute

// LockFile takes an inter-process lock by exclusively creating path. It waits with a doubling
// delay (capped at one second) while another process holds it.
func LockFile(ctx context.Context, path string) (unlock func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	wait := 10 * time.Millisecond
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d", os.Getpid())
			_ = f.Close()
			return func() {
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					log.Debug("Failed to delete lock file", map[string]interface{}{"path": path, "error": err.Error()})
				}
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			log.Warn("Breaking stale lock file", map[string]interface{}{"path": path})
			_ = os.Remove(path)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if wait *= 2; wait > time.Second {
			wait = time.Second
		}
	}
}

// DoubleLock holds the in-process stripe for key and then the inter-process lock file.
func DoubleLock(ctx context.Context, key, lockFile string) (unlock func(), err error) {
	unlockStripe, err := FileLocks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	unlockFile, err := LockFile(ctx, lockFile)
	if err != nil {
		unlockStripe()
		return nil, err
	}
	return func() {
		unlockFile()
		unlockStripe()
	}, nil
}

// TempFileName returns "~<name>.<8 random chars>", unique per call.
func TempFileName(name string) string {
	return "~" + name + "." + uuid.NewString()[:8]
}

// ProduceFile creates target once and reuses it while the sibling "<target>.sha1" file matches
// its content. Production runs under DoubleLock; write fills a temp file in tempDir which is then
// moved into place. It returns false when write reports failure.
func ProduceFile(ctx context.Context, target, tempDir string, write func(tempPath string) (bool, error)) (bool, error) {
	if producedAlready(target) {
		return true, nil
	}
	name := filepath.Base(target)
	unlock, err := DoubleLock(ctx, target, filepath.Join(tempDir, "~"+name+".lock"))
	if err != nil {
		return false, err
	}
	defer unlock()

	if producedAlready(target) {
		return true, nil
	}

	temp := filepath.Join(tempDir, TempFileName(name))
	ok, err := write(temp)
	if err != nil || !ok {
		_ = os.Remove(temp)
		return false, err
	}
	sha1, err := hashing.FileHash(temp, hashing.SHA1)
	if err != nil {
		_ = os.Remove(temp)
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		_ = os.Remove(temp)
		return false, err
	}
	if err := os.WriteFile(target+".sha1", []byte(sha1), 0o644); err != nil {
		_ = os.Remove(temp)
		return false, err
	}
	if err := os.Rename(temp, target); err != nil {
		_ = os.Remove(temp)
		return false, err
	}
	log.Trace("Produced file", map[string]interface{}{"target": target})
	return true, nil
}

func producedAlready(target string) bool {
	expected, err := os.ReadFile(target + ".sha1")
	if err != nil {
		return false
	}
	actual, err := hashing.FileHash(target, hashing.SHA1)
	if err != nil {
		return false
	}
	return string(expected) == actual
}
