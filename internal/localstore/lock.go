package localstore

import (
	"fmt"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned by AcquireDaemonLock when another process
// already holds the lock for this local root.
var ErrAlreadyRunning = fmt.Errorf("localstore: another daemon instance is already running for this root")

// DaemonLock guards a local root against being synchronized by more than
// one daemon process at a time.
type DaemonLock struct {
	fl *flock.Flock
}

// AcquireDaemonLock takes a non-blocking exclusive lock on the metadata
// directory's lock file. Returns ErrAlreadyRunning if another process
// already holds it.
func (s *Store) AcquireDaemonLock() (*DaemonLock, error) {
	if err := s.EnsureMetadataDir(); err != nil {
		return nil, err
	}

	fl := flock.New(s.LockFilePath())

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("localstore: acquiring daemon lock: %w", err)
	}

	if !locked {
		return nil, ErrAlreadyRunning
	}

	return &DaemonLock{fl: fl}, nil
}

// Release unlocks and closes the underlying lock file.
func (l *DaemonLock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("localstore: releasing daemon lock: %w", err)
	}

	return nil
}
