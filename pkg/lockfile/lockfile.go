// Package lockfile guards a destination root against concurrent mirror runs.
// The lock is a JSON file created with O_EXCL; a background heartbeat keeps
// its timestamp fresh so crashed runs can be told apart from active ones and
// their stale locks taken over.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// LockFileName is created in the destination root for the duration of a run.
// The '~' prefix marks it as temporary.
const LockFileName = ".~pgl-mirror.lock"

// ErrLocked is returned when another live process holds the destination.
var ErrLocked = errors.New("destination is locked by another run")

// content is what the lock file holds on disk.
type content struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	LastUpdate time.Time `json:"lastUpdate"`
	// Nonce disambiguates two processes racing for a stale lock takeover.
	Nonce string `json:"nonce"`
}

// Heartbeat/staleness knobs; vars so tests can shrink them.
var (
	heartbeatInterval = time.Minute
	staleTimeout      = 3 * heartbeatInterval
)

// Lock is a held destination lock. Release it when the pair is done.
type Lock struct {
	path   string
	state  content
	cancel context.CancelFunc

	mu   sync.Mutex
	held bool
}

// Acquire locks the destination directory. A fresh lock held by a live
// process yields ErrLocked (wrapped with the holder's identity); a stale or
// unreadable lock is taken over.
func Acquire(ctx context.Context, dirPath string) (*Lock, error) {
	path := filepath.Join(dirPath, LockFileName)

	for attempt := 0; attempt < 3; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := create(path)
		if err == nil {
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("could not access lock file %s: %w", path, err)
		}

		holder, readErr := read(path)
		if readErr == nil {
			age := time.Since(holder.LastUpdate)
			if age < staleTimeout {
				return nil, fmt.Errorf("%w: held by PID %d on %s, last active %s ago",
					ErrLocked, holder.PID, holder.Hostname, age.Truncate(time.Second))
			}
			plog.Warn("Taking over stale lock", "path", path, "pid", holder.PID, "age", age.Truncate(time.Second))
		} else if os.IsNotExist(readErr) {
			// Holder released between our create and read. Go again.
			continue
		} else {
			plog.Warn("Unreadable lock file, treating as stale", "path", path, "error", readErr)
		}

		lock, err = takeover(path)
		if err == nil {
			return lock, nil
		}
		plog.Debug("Lock takeover lost, retrying", "path", path, "error", err)
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("%w: could not acquire %s after repeated attempts", ErrLocked, path)
}

// Release stops the heartbeat and removes the lock file. Safe to call twice.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return
	}
	l.cancel()
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Could not remove lock file", "path", l.path, "error", err)
	}
	l.held = false
}

// create makes a brand new lock file with O_EXCL, which only succeeds when no
// lock exists yet.
func create(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	state, err := freshContent()
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("could not write lock content: %w", err)
	}
	return start(path, state), nil
}

// takeover replaces a stale lock via atomic rename, then reads it back to
// confirm no other process won the same race.
func takeover(path string) (*Lock, error) {
	state, err := freshContent()
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, state); err != nil {
		return nil, err
	}
	winner, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("could not verify lock takeover: %w", err)
	}
	if winner.PID != state.PID || winner.Nonce != state.Nonce {
		return nil, errors.New("another process won the takeover")
	}
	return start(path, state), nil
}

func start(path string, state content) *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{path: path, state: state, cancel: cancel, held: true}
	go l.heartbeat(ctx)
	return l
}

func (l *Lock) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.state.LastUpdate = time.Now().UTC()
			if err := writeAtomic(l.path, l.state); err != nil {
				// Keep ticking; the next beat may succeed.
				plog.Warn("Lock heartbeat failed", "path", l.path, "error", err)
			}
		}
	}
}

func freshContent() (content, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return content{}, fmt.Errorf("could not determine hostname: %w", err)
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return content{}, fmt.Errorf("could not generate lock nonce: %w", err)
	}
	return content{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		LastUpdate: time.Now().UTC(),
		Nonce:      fmt.Sprintf("%x", nonce),
	}, nil
}

func read(path string) (content, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return content{}, err
	}
	var c content
	if err := json.Unmarshal(data, &c); err != nil {
		return content{}, fmt.Errorf("corrupt lock file: %w", err)
	}
	return c, nil
}

// writeAtomic writes via a temp file in the same directory plus rename, so
// the lock file is never observed empty or half-written.
func writeAtomic(path string, c content) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temp lock file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write temp lock file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, path)
}
