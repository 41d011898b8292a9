package artifacts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/labmanager/labml/pkg/models"
)

// TrainingLock serializes training runs of one component across goroutines and
// processes sharing the model directory.
type TrainingLock struct {
	lock *flock.Flock
}

// NewTrainingLock returns the lock guarding a component's training.
func NewTrainingLock(root Root, component string) *TrainingLock {
	return &TrainingLock{lock: flock.New(root.Path(component, lockFile))}
}

// TryAcquire takes the lock without blocking. It returns models.ErrTrainingInProgress
// when another run holds it.
func (l *TrainingLock) TryAcquire() error {
	if err := os.MkdirAll(filepath.Dir(l.lock.Path()), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire training lock: %w", err)
	}
	if !ok {
		return models.ErrTrainingInProgress
	}
	return nil
}

// Release gives the lock back.
func (l *TrainingLock) Release() {
	if err := l.lock.Unlock(); err != nil {
		log.Warnf("failed to release training lock %s: %v", l.lock.Path(), err)
	}
}
