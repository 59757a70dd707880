// Package lockfile guards a directory against concurrent unpack runs.
//
// A run owns the directory while the lock file exists and its heartbeat is
// fresh. A lock whose heartbeat is older than the stale timeout belongs to a
// crashed run and may be taken over.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-unpack/pkg/plog"
	"github.com/paulschiretz/pgl-unpack/pkg/util"
)

// LockFileName is the name of the lock file created in the locked directory.
const LockFileName = ".~pgl-unpack.lock"

// Owner is the JSON payload of a lock file.
type Owner struct {
	PID       int64     `json:"pid"`
	Hostname  string    `json:"hostname"`
	Heartbeat time.Time `json:"heartbeat"`
	Token     string    `json:"token"`
	RunID     string    `json:"runID"`
}

// ErrLockActive is returned when another live run holds the lock.
type ErrLockActive struct {
	Owner Owner
	Age   time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("directory is locked by PID %d on host '%s' (%s), heartbeat %s ago",
		e.Owner.PID, e.Owner.Hostname, e.Owner.RunID, e.Age.Truncate(time.Second))
}

var (
	// ErrLostRace is returned internally when two runs take over the same stale lock.
	ErrLostRace = errors.New("lost race during stale lock takeover")
	// ErrCorruptLockFile marks a lock file that stays empty or unparsable across retries.
	ErrCorruptLockFile = errors.New("lock file is corrupt or empty")
)

// Tunable in tests.
var (
	heartbeatInterval = 30 * time.Second
	staleTimeout      = 4 * heartbeatInterval
	retryDelay        = 100 * time.Millisecond
)

// Lock is a held directory lock. Release it exactly once; extra calls are no-ops.
type Lock struct {
	path  string
	owner Owner

	mu       sync.Mutex
	released bool
	stop     chan struct{}
	done     chan struct{}
}

// Path returns the absolute path of the lock file.
func (l *Lock) Path() string { return l.path }

// Acquire takes the lock in absDir. runID identifies the run in the lock payload.
// It returns *ErrLockActive when a live run already holds the directory.
func Acquire(ctx context.Context, absDir, runID string) (*Lock, error) {
	lockPath := filepath.Join(absDir, LockFileName)

	const attempts = 3
	for range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l, err := create(lockPath, runID)
		if err == nil {
			return l.start(), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		owner, err := readOwner(lockPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Released between our create and read.
			continue
		case errors.Is(err, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, taking it over", "path", lockPath, "error", err)
		case err != nil:
			time.Sleep(retryDelay)
			continue
		default:
			if age := time.Since(owner.Heartbeat); age < staleTimeout {
				return nil, &ErrLockActive{Owner: owner, Age: age}
			}
			plog.Warn("Found stale lock, taking it over", "pid", owner.PID, "host", owner.Hostname)
		}

		l, err = takeover(lockPath, runID)
		if err != nil {
			if !errors.Is(err, ErrLostRace) {
				plog.Warn("Lock takeover failed, retrying", "error", err)
			}
			time.Sleep(retryDelay)
			continue
		}
		return l.start(), nil
	}
	return nil, fmt.Errorf("failed to acquire lock on %s after %d attempts", absDir, attempts)
}

// Release stops the heartbeat and removes the lock file.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	close(l.stop)
	<-l.done

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

func newOwner(runID string) (Owner, error) {
	host, err := os.Hostname()
	if err != nil {
		return Owner{}, err
	}
	token, err := uuid.NewRandom()
	if err != nil {
		return Owner{}, fmt.Errorf("failed to generate lock token: %w", err)
	}
	return Owner{
		PID:       int64(os.Getpid()),
		Hostname:  host,
		Heartbeat: time.Now().UTC(),
		Token:     token.String(),
		RunID:     runID,
	}, nil
}

// create claims a free lock with O_EXCL.
func create(lockPath, runID string) (*Lock, error) {
	owner, err := newOwner(runID)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	werr := json.NewEncoder(f).Encode(owner)
	if err := errors.Join(werr, f.Close()); err != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &Lock{path: lockPath, owner: owner}, nil
}

// takeover replaces a stale lock atomically and reads it back to detect a
// competing takeover.
func takeover(lockPath, runID string) (*Lock, error) {
	owner, err := newOwner(runID)
	if err != nil {
		return nil, err
	}
	if err := writeOwnerAtomic(lockPath, owner); err != nil {
		return nil, err
	}
	got, err := readOwner(lockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file: %w", err)
	}
	if got.Token != owner.Token {
		return nil, ErrLostRace
	}
	plog.Debug("Took over stale lock", "path", lockPath)
	return &Lock{path: lockPath, owner: owner}, nil
}

func (l *Lock) start() *Lock {
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	removeOrphanTemps(l.path)
	go l.heartbeat()
	return l
}

func (l *Lock) heartbeat() {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.owner.Heartbeat = time.Now().UTC()
			if err := writeOwnerAtomic(l.path, l.owner); err != nil {
				plog.Warn("Failed to refresh lock heartbeat", "path", l.path, "error", err)
			}
		}
	}
}

// writeOwnerAtomic writes owner to a sibling temp file and renames it over lockPath.
func writeOwnerAtomic(lockPath string, owner Owner) error {
	tmp, err := os.CreateTemp(filepath.Dir(lockPath), filepath.Base(lockPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	werr := json.NewEncoder(tmp).Encode(owner)
	if err := errors.Join(werr, tmp.Sync(), tmp.Close()); err != nil {
		return fmt.Errorf("failed to write temp lock file: %w", err)
	}
	if err := os.Rename(tmpPath, lockPath); err != nil {
		return fmt.Errorf("failed to replace lock file: %w", err)
	}
	return nil
}

// readOwner reads and decodes a lock file. An empty or partial file is
// retried a few times before it is reported as ErrCorruptLockFile.
func readOwner(lockPath string) (Owner, error) {
	var lastErr error
	for range 3 {
		data, err := os.ReadFile(lockPath)
		if err != nil {
			return Owner{}, err
		}
		var owner Owner
		if len(data) == 0 {
			lastErr = errors.New("lock file is empty")
		} else if lastErr = json.Unmarshal(data, &owner); lastErr == nil {
			return owner, nil
		}
		time.Sleep(retryDelay / 2)
	}
	return Owner{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, lastErr)
}

// removeOrphanTemps deletes heartbeat temp files left behind by crashed runs.
func removeOrphanTemps(lockPath string) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(lockPath), filepath.Base(lockPath)+".*.tmp"))
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-staleTimeout)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove orphaned lock temp file", "path", m, "error", err)
		}
	}
}
