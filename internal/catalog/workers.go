package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/goldmedia/goldmedia/internal/metrics"
)

const (
	jobQueueSize = 1024
	probeTimeout = 60 * time.Second
)

// jobQueues holds the two single-consumer job channels. Membership in
// pending coalesces repeated triggers into at most one queued job per
// path.
type jobQueues struct {
	duration  chan string
	thumbnail chan string

	mu      sync.Mutex
	pending map[string]struct{} // keyed by kind + path
}

func newJobQueues() *jobQueues {
	return &jobQueues{
		duration:  make(chan string, jobQueueSize),
		thumbnail: make(chan string, jobQueueSize),
		pending:   map[string]struct{}{},
	}
}

// offer enqueues a path unless it is already pending. A full queue
// drops the job; the next scan re-enqueues it.
func (q *jobQueues) offer(kind string, ch chan string, path string) bool {
	key := kind + "\x00" + path
	q.mu.Lock()
	if _, dup := q.pending[key]; dup {
		q.mu.Unlock()
		return false
	}
	q.pending[key] = struct{}{}
	q.mu.Unlock()

	select {
	case ch <- path:
		return true
	default:
		q.mu.Lock()
		delete(q.pending, key)
		q.mu.Unlock()
		return false
	}
}

func (q *jobQueues) done(kind, path string) {
	q.mu.Lock()
	delete(q.pending, kind+"\x00"+path)
	q.mu.Unlock()
}

func (c *Catalog) enqueueDuration(path string) {
	c.queues.offer("duration", c.queues.duration, path)
}

func (c *Catalog) enqueueThumbnail(path string) {
	c.queues.offer("thumbnail", c.queues.thumbnail, path)
}

// StartWorkers launches the two background consumers. They exit when
// ctx is cancelled.
func (c *Catalog) StartWorkers(ctx context.Context) {
	go c.durationWorker(ctx)
	go c.thumbnailWorker(ctx)
	c.log.Info().Msg("background workers started")
}

func (c *Catalog) durationWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-c.queues.duration:
			c.probeDuration(ctx, path)
			c.queues.done("duration", path)
		}
	}
}

func (c *Catalog) thumbnailWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-c.queues.thumbnail:
			c.renderThumbnail(ctx, path)
			c.queues.done("thumbnail", path)
		}
	}
}

func (c *Catalog) probeDuration(ctx context.Context, path string) {
	fp := Fingerprint(path)
	if d, ok := c.durations.get(fp); ok && d > 0 {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	dur, err := c.tool.Duration(probeCtx, path)
	if err != nil {
		// A failed probe persists 0 so the file still streams; the entry
		// is retried only after deletion and re-creation.
		c.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("duration probe failed")
		c.durations.put(fp, 0, c.log)
		metrics.ProbeJobs.WithLabelValues("duration", "error").Inc()
		return
	}
	c.durations.put(fp, dur, c.log)
	metrics.ProbeJobs.WithLabelValues("duration", "ok").Inc()
	c.log.Debug().Str("file", filepath.Base(path)).Float64("duration", dur).Msg("duration cached")
}

func (c *Catalog) renderThumbnail(ctx context.Context, path string) {
	if c.HasThumbnail(path) {
		return
	}

	ts := c.store.Current().ThumbnailTimestamp
	if d, ok := c.durations.get(Fingerprint(path)); ok && d > 0 && ts >= d {
		ts = d / 2
	}

	renderCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := c.tool.Thumbnail(renderCtx, path, ts, c.ThumbnailPath(path)); err != nil {
		c.log.Warn().Err(err).Str("file", filepath.Base(path)).Msg("thumbnail render failed")
		metrics.ProbeJobs.WithLabelValues("thumbnail", "error").Inc()
		return
	}
	metrics.ProbeJobs.WithLabelValues("thumbnail", "ok").Inc()
	c.log.Debug().Str("file", filepath.Base(path)).Msg("thumbnail generated")
}
