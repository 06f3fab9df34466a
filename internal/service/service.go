package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/sst-grid-service/internal/cache"
	"github.com/kjstillabower/sst-grid-service/internal/models"
	"github.com/kjstillabower/sst-grid-service/internal/notify"
	"github.com/kjstillabower/sst-grid-service/internal/observability"
	"github.com/kjstillabower/sst-grid-service/internal/sst"
)

var (
	// ErrNoData is returned when JMA has not published the requested snapshot.
	ErrNoData = errors.New("snapshot not available")
	// ErrOutOfCoverage is returned for a point outside the grid of the requested resolution.
	ErrOutOfCoverage = errors.New("point outside grid coverage")
)

// SnapshotSource resolves and fetches snapshot files. Implemented by *sst.Fetcher.
type SnapshotSource interface {
	Locate(timestamp, baseDir, tag string) (models.ResolvedLocation, error)
	FetchRequest(ctx context.Context, req models.DataRequest, opts sst.TransferOptions) (string, error)
}

// Options configures an SSTService.
type Options struct {
	DataDir  string
	Transfer sst.TransferOptions
	// TTL of cached point readings.
	TTL time.Duration
	// CoalesceTimeout bounds how long a caller waits on a shared grid load (0 disables coalescing).
	CoalesceTimeout time.Duration
	// GridCacheSize is the number of parsed grids kept in memory.
	GridCacheSize int
	Clock         clockwork.Clock
	Logger        *zap.Logger
}

// SSTService serves point readings and whole grids using a cache-aside pattern:
// reading cache, then in-memory grids, then fetch and parse.
type SSTService struct {
	source          SnapshotSource
	cache           cache.Cache
	publisher       notify.Publisher
	dataDir         string
	transfer        sst.TransferOptions
	ttl             time.Duration
	clock           clockwork.Clock
	logger          *zap.Logger
	grids           *gridCache
	loads           *loadWatch
	coalescer       *requestCoalescer[*loadedGrid] // nil if disabled
}

// NewSSTService creates an SSTService. A nil publisher drops grid events.
func NewSSTService(source SnapshotSource, c cache.Cache, publisher notify.Publisher, opts Options) *SSTService {
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	var coalescer *requestCoalescer[*loadedGrid]
	if opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer[*loadedGrid](opts.CoalesceTimeout)
	}
	return &SSTService{
		source:          source,
		cache:           c,
		publisher:       publisher,
		dataDir:         opts.DataDir,
		transfer:        opts.Transfer,
		ttl:             opts.TTL,
		clock:           opts.Clock,
		logger:          opts.Logger,
		grids:           newGridCache(opts.GridCacheSize),
		loads:           newLoadWatch(),
		coalescer:       coalescer,
	}
}

// loggerFromContext extracts the request logger, falling back to the service logger.
func (s *SSTService) loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return s.logger
}

// Locate resolves where the snapshot for day is published and cached.
func (s *SSTService) Locate(res models.Resolution, day time.Time) (models.ResolvedLocation, error) {
	return s.source.Locate(day.UTC().Format(sst.TimestampLayout), s.dataDir, res.String())
}

// GetReading returns the temperature of the grid cell nearest to (lat, lon) on day.
func (s *SSTService) GetReading(ctx context.Context, res models.Resolution, day time.Time, lat, lon float64) (models.Reading, error) {
	if !res.Valid() {
		return models.Reading{}, fmt.Errorf("%w: %d", models.ErrUnknownResolution, int(res))
	}
	day = truncateDay(day)
	start := s.clock.Now()
	logger := s.loggerFromContext(ctx)

	i, j, ok := res.Profile().Nearest(lat, lon)
	if !ok {
		return models.Reading{}, fmt.Errorf("%w: (%g, %g) for %s", ErrOutOfCoverage, lat, lon, res)
	}
	key := cache.ReadingKey(res, day, i, j)

	getStart := time.Now()
	cached, hit, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
	} else if hit {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues("reading").Inc()
		observability.ReadingsTotal.WithLabelValues(res.String()).Inc()
		cached.Latitude, cached.Longitude = lat, lon
		logger.Debug("reading served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", s.clock.Since(start)))
		return cached, nil
	}

	loaded, err := s.loadGrid(ctx, res, day)
	if err != nil {
		return models.Reading{}, err
	}
	g := loaded.grid
	reading := models.Reading{
		Date:          day.Format("2006-01-02"),
		Resolution:    res.String(),
		Latitude:      lat,
		Longitude:     lon,
		GridLatitude:  g.Latitude[i],
		GridLongitude: g.Longitude[j],
		Units:         g.Units,
		Timestamp:     s.clock.Now().UTC(),
	}
	if v := g.Values[i][j]; !math.IsNaN(v) {
		reading.Temperature = &v
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, reading, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	observability.ReadingsTotal.WithLabelValues(res.String()).Inc()
	logger.Debug("reading served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", s.clock.Since(start)))
	return reading, nil
}

// GetGrid returns the parsed snapshot for day.
func (s *SSTService) GetGrid(ctx context.Context, res models.Resolution, day time.Time) (*models.Grid, error) {
	if !res.Valid() {
		return nil, fmt.Errorf("%w: %d", models.ErrUnknownResolution, int(res))
	}
	loaded, err := s.loadGrid(ctx, res, truncateDay(day))
	if err != nil {
		return nil, err
	}
	return loaded.grid, nil
}

// Prefetch fetches and loads the snapshot for day and returns its local path. It returns
// "" with a nil error when the snapshot is not published yet. Implements cache.SnapshotLoader.
func (s *SSTService) Prefetch(ctx context.Context, res models.Resolution, day time.Time) (string, error) {
	loaded, err := s.loadGrid(ctx, res, truncateDay(day))
	if errors.Is(err, ErrNoData) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return loaded.path, nil
}

func (s *SSTService) loadGrid(ctx context.Context, res models.Resolution, day time.Time) (*loadedGrid, error) {
	snap := newSnapshotKey(res, day)
	key := snap.String()
	if g, ok := s.grids.get(key); ok {
		return g, nil
	}

	concurrent, done := s.loads.begin(snap)
	defer done()
	if concurrent > 1 {
		s.loggerFromContext(ctx).Debug("grid already loading", zap.String("key", key), zap.Int("concurrent", concurrent))
	}

	if s.coalescer == nil {
		return s.load(ctx, res, day)
	}
	// The shared load must outlive the caller that happened to start it.
	loadCtx := context.WithoutCancel(ctx)
	return s.coalescer.GetOrDo(ctx, key, func() (*loadedGrid, error) {
		return s.load(loadCtx, res, day)
	})
}

func (s *SSTService) load(ctx context.Context, res models.Resolution, day time.Time) (*loadedGrid, error) {
	logger := s.loggerFromContext(ctx)
	key := newSnapshotKey(res, day).String()

	path, err := s.source.FetchRequest(ctx, models.DataRequest{Time: day, Resolution: res, BaseDir: s.dataDir}, s.transfer)
	if err != nil {
		observability.GridLoadsTotal.WithLabelValues(res.String(), "error").Inc()
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if path == "" {
		observability.GridLoadsTotal.WithLabelValues(res.String(), "no_data").Inc()
		return nil, fmt.Errorf("%w: %s %s", ErrNoData, res, day.Format("2006-01-02"))
	}

	parseStart := time.Now()
	g, err := sst.Parse(path, res)
	observability.GridParseDuration.WithLabelValues(res.String()).Observe(time.Since(parseStart).Seconds())
	if err != nil {
		observability.GridLoadsTotal.WithLabelValues(res.String(), "error").Inc()
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	if g.Date.IsZero() {
		g.Date = day
	}

	loaded := &loadedGrid{grid: g, path: path}
	s.grids.put(key, loaded)
	observability.GridLoadsTotal.WithLabelValues(res.String(), "success").Inc()
	logger.Info("grid loaded", zap.String("key", key), zap.String("path", path))

	if err := s.publisher.Publish(ctx, notify.NewGridEvent(g, day, path, s.clock.Now())); err != nil {
		logger.Warn("grid event not published", zap.String("key", key), zap.Error(err))
	}
	return loaded, nil
}

func truncateDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
