//go:build integration
// +build integration

package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/kjstillabower/sst-grid-service/internal/models"
	"github.com/kjstillabower/sst-grid-service/internal/sst"
)

// TestHTTPDownloader_JMA_Integration downloads a fine-grid snapshot from a week ago.
func TestHTTPDownloader_JMA_Integration(t *testing.T) {
	day := time.Now().UTC().AddDate(0, 0, -7)
	loc, err := sst.ResolveRequest(sst.DefaultRootURL, models.DataRequest{Time: day, Resolution: models.Fine, BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("ResolveRequest() error = %v", err)
	}

	d := NewHTTPDownloader(2*time.Minute, nil)
	code, err := d.Download(context.Background(), sst.DownloadRequest{
		URL: loc.URL, TargetDir: t.TempDir(), Filename: loc.Filename,
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("Download(%s) code = %d", loc.URL, code)
	}
}
