package sst

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/sst-grid-service/internal/models"
	"github.com/kjstillabower/sst-grid-service/internal/observability"
)

// Fetcher resolves, downloads and decompresses SST snapshots into a local directory,
// reusing files that are already there.
type Fetcher struct {
	downloader   Downloader
	decompressor Decompressor
	rootURL      string
	logger       *zap.Logger
}

// NewFetcher creates a Fetcher. An empty rootURL selects DefaultRootURL; a nil logger
// discards log output.
func NewFetcher(downloader Downloader, decompressor Decompressor, rootURL string, logger *zap.Logger) *Fetcher {
	if rootURL == "" {
		rootURL = DefaultRootURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		downloader:   downloader,
		decompressor: decompressor,
		rootURL:      rootURL,
		logger:       logger,
	}
}

// Locate resolves the location of a snapshot from a resolution tag. Unknown tags are
// logged before the error is returned.
func (f *Fetcher) Locate(timestamp, baseDir, tag string) (models.ResolvedLocation, error) {
	req, err := f.request(timestamp, baseDir, tag)
	if err != nil {
		return models.ResolvedLocation{}, err
	}
	return ResolveRequest(f.rootURL, req)
}

// Fetch makes sure the snapshot for timestamp exists under baseDir and returns its path.
// It returns "" with a nil error when the remote has no file for that date.
func (f *Fetcher) Fetch(ctx context.Context, timestamp, baseDir, tag string, opts TransferOptions) (string, error) {
	req, err := f.request(timestamp, baseDir, tag)
	if err != nil {
		return "", err
	}
	return f.FetchRequest(ctx, req, opts)
}

// FetchRequest is Fetch for an already parsed request.
func (f *Fetcher) FetchRequest(ctx context.Context, req models.DataRequest, opts TransferOptions) (string, error) {
	if req.BaseDir == "" {
		req.BaseDir = "."
	}
	if err := os.MkdirAll(req.BaseDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}

	loc, err := ResolveRequest(f.rootURL, req)
	if err != nil {
		return "", err
	}
	res := req.Resolution.String()

	finalPath := FinalPath(loc, req.Resolution)
	if _, err := os.Stat(finalPath); err == nil {
		observability.FileCacheHitsTotal.WithLabelValues(res).Inc()
		f.logger.Debug("snapshot already cached", zap.String("path", finalPath))
		return finalPath, nil
	}

	start := time.Now()
	code, err := f.downloader.Download(ctx, DownloadRequest{
		URL:             loc.URL,
		TargetDir:       normalizeDir(req.BaseDir, string(os.PathSeparator)),
		Filename:        loc.Filename,
		TransferOptions: opts,
	})
	observability.SnapshotFetchDuration.WithLabelValues(res).Observe(time.Since(start).Seconds())
	if err != nil {
		f.logger.Error("failed to download snapshot",
			zap.String("file", loc.Filename), zap.String("url", loc.URL), zap.Error(err))
		return "", fmt.Errorf("%w: %s: %w", ErrTransferFailed, loc.URL, err)
	}

	switch code {
	case http.StatusOK:
	case http.StatusNotFound:
		f.logger.Warn("snapshot does not exist on server (status 404), following downloads will be stopped",
			zap.String("file", loc.Filename))
		observability.SnapshotsMissingTotal.WithLabelValues(res).Inc()
		return "", nil
	default:
		f.logger.Error("failed to download snapshot, try again later or check the url",
			zap.String("file", loc.Filename), zap.Int("status", code), zap.String("url", loc.URL))
		return "", fmt.Errorf("%w: HTTP %d from %s", ErrTransferFailed, code, loc.URL)
	}

	if req.Resolution.Compressed() {
		if err := f.decompressor.Decompress(loc.LocalPath); err != nil {
			f.logger.Error("failed to decompress snapshot",
				zap.String("file", loc.Filename), zap.String("path", loc.LocalPath), zap.Error(err))
			return "", fmt.Errorf("decompress %s: %w", loc.LocalPath, err)
		}
	}
	observability.SnapshotsDownloadedTotal.WithLabelValues(res).Inc()
	return finalPath, nil
}

// FetchRange fetches one snapshot per day from `from` to `to` (inclusive) and calls fn
// with each local path. It stops without error at the first day the server has no
// file for, returning the number of snapshots fetched.
func (f *Fetcher) FetchRange(ctx context.Context, from, to time.Time, baseDir string, res models.Resolution, opts TransferOptions, fn func(day time.Time, path string) error) (int, error) {
	n := 0
	for day := from.UTC().Truncate(24 * time.Hour); !day.After(to.UTC()); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		path, err := f.FetchRequest(ctx, models.DataRequest{Time: day, Resolution: res, BaseDir: baseDir}, opts)
		if err != nil {
			return n, fmt.Errorf("fetch %s: %w", day.Format("2006-01-02"), err)
		}
		if path == "" {
			break
		}
		n++
		if fn != nil {
			if err := fn(day, path); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (f *Fetcher) request(timestamp, baseDir, tag string) (models.DataRequest, error) {
	res, err := models.ParseResolution(tag)
	if err != nil {
		f.logger.Error("unknown resolution", zap.String("resolution", tag), zap.Strings("valid", []string{"low", "high"}))
		return models.DataRequest{}, err
	}
	t, err := ParseTimestamp(timestamp)
	if err != nil {
		return models.DataRequest{}, err
	}
	return models.DataRequest{Time: t, Resolution: res, BaseDir: baseDir}, nil
}
