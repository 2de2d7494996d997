// Package cleanup provides background retention for the local stores.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/HyphaGroup/airops-go/internal/metrics"
)

// HistoryPruner deletes resolved execution records older than maxAge
type HistoryPruner interface {
	Prune(ctx context.Context, maxAge time.Duration) (int64, error)
}

// RunPruner deletes schedule runs older than maxAge
type RunPruner interface {
	PruneRuns(ctx context.Context, maxAge time.Duration) (int64, error)
}

// IdleEvicter forgets per-key state unused for longer than maxAge
type IdleEvicter interface {
	Cleanup(maxAge time.Duration) int
}

// Cleaner performs periodic resource cleanup.
type Cleaner struct {
	dataDir   string
	interval  time.Duration
	retention time.Duration
	idle      time.Duration
	diskWarn  float64
	diskError float64
	history   HistoryPruner
	runs      RunPruner
	limiter   IdleEvicter
	logger    *slog.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// Config holds cleanup configuration. Nil targets are skipped.
type Config struct {
	DataDir          string
	Interval         time.Duration // How often to run cleanup
	Retention        time.Duration // How long to keep resolved history and schedule runs, 0 keeps forever
	LimiterIdle      time.Duration // Evict rate limit keys idle this long
	DiskWarnPercent  float64       // Warn at this disk usage percentage
	DiskErrorPercent float64       // Error at this disk usage percentage
	History          HistoryPruner
	Runs             RunPruner
	Limiter          IdleEvicter
	Logger           *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		Interval:         time.Hour,
		Retention:        30 * 24 * time.Hour,
		LimiterIdle:      10 * time.Minute,
		DiskWarnPercent:  80.0,
		DiskErrorPercent: 90.0,
	}
}

// New creates a new Cleaner with the given configuration.
func New(cfg Config) *Cleaner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		dataDir:   cfg.DataDir,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		idle:      cfg.LimiterIdle,
		diskWarn:  cfg.DiskWarnPercent,
		diskError: cfg.DiskErrorPercent,
		history:   cfg.History,
		runs:      cfg.Runs,
		limiter:   cfg.Limiter,
		logger:    logger,
	}
}

// Start begins the periodic cleanup loop.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		// Run immediately on start
		c.RunOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunOnce(ctx)
			}
		}
	}()

	c.logger.Info("Cleanup started", "interval", c.interval, "retention", c.retention)
}

// Stop halts the cleanup loop.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		c.cancel = nil
		c.logger.Info("Cleanup stopped")
	}
}

// RunOnce performs all cleanup tasks.
func (c *Cleaner) RunOnce(ctx context.Context) {
	c.pruneHistory(ctx)
	c.pruneRuns(ctx)
	c.evictIdleKeys()
	c.checkDiskUsage()
}

func (c *Cleaner) pruneHistory(ctx context.Context) {
	if c.history == nil || c.retention <= 0 {
		return
	}
	n, err := c.history.Prune(ctx, c.retention)
	if err != nil {
		c.logger.Warn("History prune failed", "error", err)
		return
	}
	metrics.RecordPruned("history", n)
	if n > 0 {
		c.logger.Info("Pruned execution history", "records", n)
	}
}

func (c *Cleaner) pruneRuns(ctx context.Context) {
	if c.runs == nil || c.retention <= 0 {
		return
	}
	n, err := c.runs.PruneRuns(ctx, c.retention)
	if err != nil {
		c.logger.Warn("Schedule run prune failed", "error", err)
		return
	}
	metrics.RecordPruned("schedule_runs", n)
	if n > 0 {
		c.logger.Info("Pruned schedule runs", "runs", n)
	}
}

func (c *Cleaner) evictIdleKeys() {
	if c.limiter == nil || c.idle <= 0 {
		return
	}
	if n := c.limiter.Cleanup(c.idle); n > 0 {
		c.logger.Debug("Evicted idle rate limit keys", "keys", n)
	}
}

// checkDiskUsage monitors disk usage of the data dir and logs warnings.
func (c *Cleaner) checkDiskUsage() {
	_, _, usedPercent, err := c.DiskUsage()
	if err != nil {
		return
	}

	if c.diskError > 0 && usedPercent >= c.diskError {
		c.logger.Error("Disk usage critical", "used_percent", usedPercent, "dir", c.dataDir)
	} else if c.diskWarn > 0 && usedPercent >= c.diskWarn {
		c.logger.Warn("Disk usage high", "used_percent", usedPercent, "dir", c.dataDir)
	}
}

// DiskUsage returns current disk usage stats.
func (c *Cleaner) DiskUsage() (usedBytes, totalBytes uint64, usedPercent float64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(c.dataDir, &stat); err != nil {
		return
	}

	totalBytes = stat.Blocks * uint64(stat.Bsize)
	freeBytes := stat.Bfree * uint64(stat.Bsize)
	usedBytes = totalBytes - freeBytes
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}
	return
}
