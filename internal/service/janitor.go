package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner deletes expired sessions. *SessionAuthority satisfies it.
type Pruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// SessionJanitor prunes expired sessions on a fixed interval.
//
// Validate already rejects expired tokens, so the janitor is housekeeping:
// it keeps the sessions table from growing with rows nobody will present
// again.
type SessionJanitor struct {
	pruner   Pruner
	interval time.Duration
	logger   *slog.Logger

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewSessionJanitor creates a janitor. Call Start to run it.
func NewSessionJanitor(pruner Pruner, interval time.Duration, logger *slog.Logger) *SessionJanitor {
	return &SessionJanitor{
		pruner:   pruner,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Calling it again does nothing.
// A non-positive interval leaves the janitor disabled.
func (j *SessionJanitor) Start() {
	j.startOnce.Do(func() {
		if j.interval <= 0 {
			j.logger.Info("session janitor disabled")
			return
		}
		j.logger.Info("starting session janitor", slog.Duration("interval", j.interval))
		j.wg.Add(1)
		go j.loop()
	})
}

// Stop ends the loop and waits for it to exit. Safe to call more than
// once, and before Start.
func (j *SessionJanitor) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
	})
	j.wg.Wait()
}

func (j *SessionJanitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			j.logger.Info("session janitor stopped")
			return
		case <-ticker.C:
			j.pruneOnce()
		}
	}
}

func (j *SessionJanitor) pruneOnce() {
	// Cancel the in-flight prune if Stop is called mid-query.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-j.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := j.pruner.PruneExpired(ctx); err != nil {
		j.logger.Error("session prune failed", slog.Any("error", err))
	}
}
