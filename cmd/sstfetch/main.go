// Command sstfetch downloads NearGOOS SST snapshots from JMA into a local data
// directory, optionally parsing each grid and exporting it to NetCDF.
//
// Usage:
//
//	go run ./cmd/sstfetch -res high -date 2024-07-29 -parse
//	go run ./cmd/sstfetch -res low -from 2024-07-01 -to 2024-07-31 -dir data -netcdf out -progress
//
// A range stops at the first day JMA has not published yet.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/sst-grid-service/internal/archive"
	"github.com/kjstillabower/sst-grid-service/internal/client"
	"github.com/kjstillabower/sst-grid-service/internal/config"
	"github.com/kjstillabower/sst-grid-service/internal/export"
	"github.com/kjstillabower/sst-grid-service/internal/models"
	"github.com/kjstillabower/sst-grid-service/internal/observability"
	"github.com/kjstillabower/sst-grid-service/internal/sst"
	"github.com/kjstillabower/sst-grid-service/internal/validation"
)

// headerFlags collects repeated -header "Name: value" flags.
type headerFlags map[string]string

func (h headerFlags) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, ", ")
}

func (h headerFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header must be \"Name: value\", got %q", s)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

type options struct {
	res         models.Resolution
	from, to    time.Time
	dir         string
	source      string
	timeout     time.Duration
	keepArchive bool
	parse       bool
	netcdfDir   string
	transfer    sst.TransferOptions
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "dotenv: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, logLevel, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "sstfetch: %v\n", err)
		return 2
	}

	logger, err := observability.NewLoggerWithLevel(logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	fetcher := sst.NewFetcher(
		client.NewHTTPDownloader(opts.timeout, logger),
		archive.Gunzip{KeepArchive: opts.keepArchive},
		opts.source,
		logger,
	)
	if opts.transfer.ShowProgress {
		opts.transfer.Sink = client.NewProgressBar(stderr)
	}

	n, err := fetcher.FetchRange(ctx, opts.from, opts.to, opts.dir, opts.res, opts.transfer, func(day time.Time, path string) error {
		return report(stdout, opts, day, path)
	})
	if err != nil {
		logger.Error("fetch failed", zap.Error(err), zap.Int("fetched", n))
		fmt.Fprintf(stderr, "sstfetch: %v\n", err)
		return 1
	}
	if n == 0 {
		fmt.Fprintf(stderr, "no %s snapshot published for %s\n", opts.res, opts.from.Format(validation.DateLayout))
		return 0
	}
	fmt.Fprintf(stdout, "fetched %d %s snapshot(s) into %s\n", n, opts.res, opts.dir)
	return 0
}

func parseFlags(args []string, stderr io.Writer) (options, string, error) {
	fs := flag.NewFlagSet("sstfetch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	headers := headerFlags{}
	resTag := fs.String("res", "low", "resolution: low (0.25 degree global) or high (0.1 degree Pacific)")
	date := fs.String("date", "", "single date YYYY-MM-DD (default today, UTC)")
	from := fs.String("from", "", "first date of a range YYYY-MM-DD")
	to := fs.String("to", "", "last date of a range YYYY-MM-DD (default today)")
	dir := fs.String("dir", envOr("SST_DATA_DIR", "data"), "local data directory")
	source := fs.String("source", envOr("SST_SOURCE_URL", sst.DefaultRootURL), "JMA product root URL")
	proxyHost := fs.String("proxy-host", os.Getenv("SST_PROXY_HOST"), "HTTP proxy host")
	proxyPort := fs.Int("proxy-port", 0, "HTTP proxy port")
	timeout := fs.Duration("timeout", 60*time.Second, "per-transfer timeout")
	progress := fs.Bool("progress", false, "show a transfer progress bar on stderr")
	keepArchive := fs.Bool("keep-archive", false, "keep .gz archives after decompression")
	parse := fs.Bool("parse", false, "parse each snapshot and print grid statistics")
	netcdfDir := fs.String("netcdf", "", "export each parsed grid as NetCDF into this directory")
	logLevel := fs.String("log-level", envOr("LOG_LEVEL", "WARN"), "DEBUG, INFO, WARN or ERROR")
	fs.Var(headers, "header", "extra request header \"Name: value\" (repeatable)")

	if err := fs.Parse(args); err != nil {
		return options{}, "", err
	}
	if fs.NArg() > 0 {
		return options{}, "", fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	res, err := models.ParseResolution(*resTag)
	if err != nil {
		return options{}, "", err
	}
	opts := options{
		res:         res,
		dir:         *dir,
		source:      *source,
		timeout:     *timeout,
		keepArchive: *keepArchive,
		parse:       *parse || *netcdfDir != "",
		netcdfDir:   *netcdfDir,
		transfer: sst.TransferOptions{
			ProxyHost:    *proxyHost,
			ProxyPort:    *proxyPort,
			Headers:      headers,
			ShowProgress: *progress,
		},
	}

	now := time.Now()
	today := now.UTC().Truncate(24 * time.Hour)
	switch {
	case *date != "" && (*from != "" || *to != ""):
		return options{}, "", errors.New("-date cannot be combined with -from/-to")
	case *from != "":
		if opts.from, err = validation.ValidateDate(*from, now); err != nil {
			return options{}, "", fmt.Errorf("-from: %w", err)
		}
		opts.to = today
		if *to != "" {
			if opts.to, err = validation.ValidateDate(*to, now); err != nil {
				return options{}, "", fmt.Errorf("-to: %w", err)
			}
		}
		if opts.to.Before(opts.from) {
			return options{}, "", errors.New("-to is before -from")
		}
	case *to != "":
		return options{}, "", errors.New("-to requires -from")
	case *date != "":
		if opts.from, err = validation.ValidateDate(*date, now); err != nil {
			return options{}, "", fmt.Errorf("-date: %w", err)
		}
		opts.to = opts.from
	default:
		opts.from, opts.to = today, today
	}
	return opts, *logLevel, nil
}

// report prints one line per fetched snapshot, with grid statistics when parsing.
func report(w io.Writer, opts options, day time.Time, path string) error {
	if !opts.parse {
		fmt.Fprintf(w, "%s %s %s\n", day.Format(validation.DateLayout), opts.res, path)
		return nil
	}
	g, err := sst.Parse(path, opts.res)
	if err != nil {
		return err
	}
	s := g.Stats()
	rows, cols := g.Shape()
	fmt.Fprintf(w, "%s %s %s %dx%d valid=%d missing=%d min=%.1f max=%.1f mean=%.2f\n",
		day.Format(validation.DateLayout), opts.res, path, rows, cols, s.Valid, s.Missing, s.Min, s.Max, s.Mean)

	if opts.netcdfDir == "" {
		return nil
	}
	if err := os.MkdirAll(opts.netcdfDir, 0o755); err != nil {
		return fmt.Errorf("create netcdf directory: %w", err)
	}
	out := filepath.Join(opts.netcdfDir, fmt.Sprintf("sst_%s_%s.nc", opts.res, day.Format("20060102")))
	if err := export.WriteNetCDF(out, g); err != nil {
		return err
	}
	fmt.Fprintf(w, "  -> %s\n", out)
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
