package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/sst-grid-service/internal/models"
	"github.com/kjstillabower/sst-grid-service/internal/observability"
)

// SnapshotLoader is implemented by the service layer to fetch and load one daily snapshot.
// It returns "" with a nil error when the snapshot is not published yet. Used by
// CacheWarmer to avoid a circular dependency on the service package.
type SnapshotLoader interface {
	Prefetch(ctx context.Context, res models.Resolution, day time.Time) (string, error)
}

// CacheWarmer keeps the most recent daily snapshots on local disk so point readings for
// them never wait on a transfer.
type CacheWarmer struct {
	loader SnapshotLoader
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer. A nil clock selects the real clock.
func NewCacheWarmer(loader SnapshotLoader, clock clockwork.Clock, logger *zap.Logger) *CacheWarmer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{loader: loader, clock: clock, logger: logger}
}

// Days returns the UTC dates of the last n days, today first.
func (w *CacheWarmer) Days(n int) []time.Time {
	today := w.clock.Now().UTC().Truncate(24 * time.Hour)
	days := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, today.AddDate(0, 0, -i))
	}
	return days
}

// Warm prefetches the last `days` snapshots of every resolution concurrently.
// Snapshots not yet published are skipped; any other failure is returned (aggregated).
func (w *CacheWarmer) Warm(ctx context.Context, resolutions []models.Resolution, days int) error {
	start := w.clock.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming snapshots", zap.Int("resolutions", len(resolutions)), zap.Int("days", days))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		errs    []error
		loaded  int
		missing int
	)
	for _, res := range resolutions {
		for _, day := range w.Days(days) {
			wg.Add(1)
			go func(res models.Resolution, day time.Time) {
				defer wg.Done()
				path, err := w.loader.Prefetch(ctx, res, day)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					errs = append(errs, fmt.Errorf("warm %s %s: %w", res, day.Format("2006-01-02"), err))
				case path == "":
					missing++
				default:
					loaded++
				}
			}(res, day)
		}
	}
	wg.Wait()

	duration := w.clock.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("snapshot warming complete",
		zap.Int("loaded", loaded), zap.Int("missing", missing), zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs Warm immediately and then every interval on a gocron scheduler until
// ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, resolutions []models.Resolution, days int, interval time.Duration) error {
	scheduler, err := gocron.NewScheduler(gocron.WithClock(w.clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			if err := w.Warm(ctx, resolutions, days); err != nil {
				w.logger.Warn("periodic snapshot warm failed", zap.Error(err))
			}
		}),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithName("snapshot_prefetch_job"),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("failed to create snapshot_prefetch_job: %w", err)
	}
	scheduler.Start()

	<-ctx.Done()
	if err := scheduler.Shutdown(); err != nil {
		w.logger.Warn("scheduler shutdown failed", zap.Error(err))
	}
	return ctx.Err()
}
