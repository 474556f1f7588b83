// Package lock serializes work on an install target, both between
// goroutines of one process and between processes.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/open-edge-platform/bundle-installer/internal/utils/logger"
)

const retryDelay = 100 * time.Millisecond

// Locker hands out exclusive locks keyed by install target path.
type Locker struct {
	dir string

	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// New returns a Locker keeping its lock files in dir.
func New(dir string) *Locker {
	return &Locker{dir: dir, keys: make(map[string]*keyLock)}
}

// Key normalizes target into the lock key.
func Key(target string) (string, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// FilePath returns the lock file used for target.
func (l *Locker) FilePath(target string) (string, error) {
	key, err := Key(target)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:])+".lock"), nil
}

func (l *Locker) acquire(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[key]
	if !ok {
		k = &keyLock{sem: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	return k
}

func (l *Locker) release(key string, k *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}

// Lock blocks until target is held exclusively or ctx is done. The
// returned function releases the lock.
func (l *Locker) Lock(ctx context.Context, target string) (func(), error) {
	key, err := Key(target)
	if err != nil {
		return nil, fmt.Errorf("lock key for %s: %w", target, err)
	}
	k := l.acquire(key)

	select {
	case k.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, k)
		return nil, fmt.Errorf("waiting for lock on %s: %w", key, ctx.Err())
	}
	inProcess := func() {
		<-k.sem
		l.release(key, k)
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		inProcess()
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	lockFile, _ := l.FilePath(target)
	fl := flock.New(lockFile)

	locked, err := fl.TryLock()
	if err == nil && !locked {
		logger.Logger().Infof("waiting for another installer working on %s", key)
		locked, err = fl.TryLockContext(ctx, retryDelay)
	}
	if err != nil || !locked {
		inProcess()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("locking %s: %w", key, err)
	}

	logger.Logger().Debugf("locked %s (%s)", key, lockFile)
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := fl.Unlock(); err != nil {
				logger.Logger().Warnf("releasing lock %s: %v", lockFile, err)
			}
			inProcess()
		})
	}, nil
}
