package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Spatial-NVR/streamgrid/internal/config"
	"github.com/Spatial-NVR/streamgrid/internal/events"
	"github.com/Spatial-NVR/streamgrid/internal/grid"
	"github.com/Spatial-NVR/streamgrid/internal/revisions"
)

type commit struct {
	source   string
	snapshot grid.Snapshot
}

// committer persists committed snapshots in order. Submit never blocks, so
// it can be called from the grid controller's goroutine.
type committer struct {
	cfg    *config.Config
	revs   *revisions.Repository
	bus    *events.Bus
	logger *slog.Logger

	mu    sync.Mutex
	queue []commit
	wake  chan struct{}
	done  chan struct{}
}

func newCommitter(cfg *config.Config, revs *revisions.Repository, bus *events.Bus) *committer {
	return &committer{
		cfg:    cfg,
		revs:   revs,
		bus:    bus,
		logger: slog.Default().With("component", "committer"),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Saved queues a snapshot committed by the grid's edit session
func (c *committer) Saved(s grid.Snapshot) {
	c.submit(commit{source: revisions.SourceSave, snapshot: s})
}

// Reloaded queues a snapshot read from an edited config file
func (c *committer) Reloaded(s grid.Snapshot) {
	c.submit(commit{source: revisions.SourceReload, snapshot: s})
}

func (c *committer) submit(cm commit) {
	c.mu.Lock()
	c.queue = append(c.queue, cm)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run processes commits until ctx is done, then drains what is queued
func (c *committer) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-c.wake:
			c.drain(ctx)
		case <-ctx.Done():
			c.drain(context.Background())
			return
		}
	}
}

// Wait blocks until Run has returned
func (c *committer) Wait() {
	<-c.done
}

func (c *committer) drain(ctx context.Context) {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		cm := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		c.apply(ctx, cm)
	}
}

func (c *committer) apply(ctx context.Context, cm commit) {
	if cm.source == revisions.SourceSave {
		if err := c.cfg.ApplySnapshot(cm.snapshot); err != nil {
			c.logger.Error("Failed to save configuration", "error", err)
		}
	}

	rev, err := c.revs.Record(ctx, cm.source, cm.snapshot)
	if err != nil {
		c.logger.Error("Failed to record revision", "source", cm.source, "error", err)
	}

	if c.bus != nil {
		if err := c.bus.PublishConfig(rev.ID, cm.source, cm.snapshot); err != nil {
			c.logger.Warn("Failed to publish configuration event", "error", err)
		}
	}
}
