package storage

import (
	"context"
	"log/slog"
	"time"
)

// LocatorIndex reports whether a metadata record references a blob.
type LocatorIndex interface {
	LocatorExists(ctx context.Context, locator string) (bool, error)
}

// OrphanSweeper periodically removes blobs that no file record references,
// such as blobs left behind when the process died between the blob write and
// the metadata insert. Blobs younger than the grace period are skipped so
// in-flight uploads are never touched.
type OrphanSweeper struct {
	index    LocatorIndex
	store    Store
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	done     chan struct{}
}

// NewOrphanSweeper creates a new sweeper.
func NewOrphanSweeper(index LocatorIndex, store Store, interval, grace time.Duration) *OrphanSweeper {
	return &OrphanSweeper{
		index:    index,
		store:    store,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine. A non-positive
// interval runs a single sweep and then waits for ctx.
func (s *OrphanSweeper) Start(ctx context.Context) {
	slog.Info("orphan sweeper started", "interval", s.interval, "grace", s.grace)

	if s.interval <= 0 {
		go func() {
			s.Sweep(ctx)
			<-ctx.Done()
			close(s.done)
		}()
		return
	}

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Sweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("orphan sweeper stopping")
				close(s.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (s *OrphanSweeper) Wait() {
	<-s.done
}

// Sweep runs one reconciliation pass and returns the number of blobs removed.
func (s *OrphanSweeper) Sweep(ctx context.Context) int {
	blobs, err := s.store.List(ctx)
	if err != nil {
		slog.Error("failed to list blobs", "error", err)
		return 0
	}

	cutoff := s.now().Add(-s.grace)
	var removed, failed int
	for _, blob := range blobs {
		if !IsLocator(blob.Locator) || blob.ModTime.After(cutoff) {
			continue
		}

		exists, err := s.index.LocatorExists(ctx, blob.Locator)
		if err != nil {
			slog.Error("failed to check blob reference", "locator", blob.Locator, "error", err)
			failed++
			continue
		}
		if exists {
			continue
		}

		if err := s.store.Delete(ctx, blob.Locator); err != nil {
			slog.Error("failed to delete orphaned blob", "locator", blob.Locator, "error", err)
			failed++
			continue
		}

		removed++
		slog.Info("removed orphaned blob", "locator", blob.Locator, "modified_at", blob.ModTime)
	}

	if removed > 0 || failed > 0 {
		slog.Info("orphan sweep complete",
			"removed", removed,
			"failed", failed,
			"total_blobs", len(blobs),
		)
	}
	return removed
}
