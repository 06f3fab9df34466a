package sst

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kjstillabower/sst-grid-service/internal/models"
)

// DefaultRootURL is the JMA NearGOOS product root.
const DefaultRootURL = "https://www.data.jma.go.jp/gmd/goos/data/pub/JMA-product/"

// TimestampLayout is the only accepted timestamp format (UTC).
const TimestampLayout = "2006-01-02 15:04"

// ParseTimestamp parses a "YYYY-MM-DD HH:MM" UTC timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match YYYY-MM-DD HH:MM", ErrMalformedTimestamp, s)
	}
	return t, nil
}

// Resolve derives the remote file name, URL and local cache path for a timestamp against
// the default JMA root. It never touches the filesystem.
func Resolve(timestamp, baseDir string, res models.Resolution) (models.ResolvedLocation, error) {
	t, err := ParseTimestamp(timestamp)
	if err != nil {
		return models.ResolvedLocation{}, err
	}
	return ResolveRequest(DefaultRootURL, models.DataRequest{Time: t, Resolution: res, BaseDir: baseDir})
}

// ResolveRequest is Resolve for an already parsed request and an explicit root URL.
func ResolveRequest(rootURL string, req models.DataRequest) (models.ResolvedLocation, error) {
	if !req.Resolution.Valid() {
		return models.ResolvedLocation{}, fmt.Errorf("%w: %d", ErrUnknownResolution, int(req.Resolution))
	}
	p := req.Resolution.Profile()
	t := req.Time.UTC()
	date := t.Format("20060102")
	year := t.Format("2006")

	// The coarse product was renamed in 2022; older files only exist under the
	// reanalysis name.
	template := p.NameTemplate
	if p.ReanalysisNameTemplate != "" && t.Year() < p.ReanalysisUntil {
		template = p.ReanalysisNameTemplate
	}
	filename := fmt.Sprintf(template, date)

	return models.ResolvedLocation{
		Filename:  filename,
		URL:       normalizeDir(rootURL, "/") + fmt.Sprintf(p.DirTemplate, year) + filename,
		LocalPath: normalizeDir(req.BaseDir, string(os.PathSeparator)) + filename,
	}, nil
}

// FinalPath is the path of the usable artifact once any compression suffix is stripped.
func FinalPath(loc models.ResolvedLocation, res models.Resolution) string {
	return strings.TrimSuffix(loc.LocalPath, res.Profile().CompressionSuffix)
}

func normalizeDir(dir, sep string) string {
	if dir == "" {
		return "." + sep
	}
	if strings.HasSuffix(dir, "/") || strings.HasSuffix(dir, sep) {
		return dir
	}
	return dir + sep
}
