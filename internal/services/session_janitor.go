package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alma/internal/log"
)

// SessionPurger deletes expired durable sessions.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// SessionJanitor periodically drops expired sessions from the store.
type SessionJanitor struct {
	store    SessionPurger
	interval time.Duration
	logger   *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSessionJanitor(store SessionPurger, interval time.Duration, logger *log.Logger) *SessionJanitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &SessionJanitor{
		store:    store,
		interval: interval,
		logger:   logger.WithComponent(log.ComponentStorage),
	}
}

// Start begins the purge loop. Returns an error if already running.
func (j *SessionJanitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return fmt.Errorf("session janitor is already running")
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	go j.runLoop(ctx, j.stopCh, j.doneCh)

	j.logger.InfoContext(ctx, "Session janitor started", "interval", j.interval)
	return nil
}

// Stop ends the loop and waits for it, or for ctx.
func (j *SessionJanitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	stopCh, doneCh := j.stopCh, j.doneCh
	j.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		j.logger.WarnContext(ctx, "Session janitor stop timed out")
		return ctx.Err()
	}
}

func (j *SessionJanitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *SessionJanitor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.PurgeOnce(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.PurgeOnce(ctx)
		}
	}
}

// PurgeOnce runs a single purge and returns the number of sessions removed.
func (j *SessionJanitor) PurgeOnce(ctx context.Context) int64 {
	n, err := j.store.PurgeExpiredSessions(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to purge expired sessions", log.FieldError, err)
		return 0
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "Purged expired sessions", "count", n)
	}
	return n
}
