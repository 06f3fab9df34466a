package client

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/sst-grid-service/internal/circuitbreaker"
	"github.com/kjstillabower/sst-grid-service/internal/sst"
)

const body = "20240729\n123456789\n"

type recordingSink struct {
	begun    string
	size     int64
	advanced int64
	finished int
}

func (s *recordingSink) Begin(name string, size int64) { s.begun, s.size = name, size }
func (s *recordingSink) Advance(n int64)               { s.advanced += n }
func (s *recordingSink) Finish()                       { s.finished++ }

func TestHTTPDownloader_Download_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.Header.Get("X-Custom"); got != "value" {
			t.Errorf("X-Custom header = %q, want value", got)
		}
		if got := r.Header.Get("User-Agent"); got != UserAgent {
			t.Errorf("User-Agent = %q, want %q", got, UserAgent)
		}
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	dir := t.TempDir()
	sink := &recordingSink{}
	var lastTotal, stepSum int64
	d := NewHTTPDownloader(2*time.Second, nil)
	code, err := d.Download(context.Background(), sst.DownloadRequest{
		URL:       server.URL + "/him_sst_pac_D20240729.txt",
		TargetDir: dir,
		Filename:  "him_sst_pac_D20240729.txt",
		TransferOptions: sst.TransferOptions{
			Headers:      map[string]string{"X-Custom": "value"},
			ShowProgress: true,
			Sink:         sink,
			Observer: sst.ProgressFunc(func(total, step int64) {
				lastTotal = total
				stepSum += step
			}),
		},
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if code != http.StatusOK {
		t.Fatalf("Download() code = %d, want 200", code)
	}

	data, err := os.ReadFile(filepath.Join(dir, "him_sst_pac_D20240729.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != body {
		t.Errorf("file content = %q, want %q", data, body)
	}
	if lastTotal != int64(len(body)) || stepSum != int64(len(body)) {
		t.Errorf("observer total=%d steps=%d, want %d", lastTotal, stepSum, len(body))
	}
	if sink.begun != "him_sst_pac_D20240729.txt" || sink.advanced != int64(len(body)) || sink.finished != 1 {
		t.Errorf("sink = %+v", sink)
	}
}

func TestHTTPDownloader_Download_ProgressHidden(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	sink := &recordingSink{}
	d := NewHTTPDownloader(2*time.Second, nil)
	_, err := d.Download(context.Background(), sst.DownloadRequest{
		URL:             server.URL,
		TargetDir:       t.TempDir(),
		Filename:        "f.txt",
		TransferOptions: sst.TransferOptions{ShowProgress: false, Sink: sink},
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if sink.begun != "" || sink.finished != 0 {
		t.Errorf("sink used while ShowProgress is false: %+v", sink)
	}
}

func TestHTTPDownloader_Download_NonOKLeavesNoFile(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusInternalServerError} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		dir := t.TempDir()
		d := NewHTTPDownloader(2*time.Second, nil)
		code, err := d.Download(context.Background(), sst.DownloadRequest{
			URL: server.URL, TargetDir: dir, Filename: "missing.txt",
		})
		server.Close()
		if err != nil {
			t.Fatalf("Download() error = %v, want nil for HTTP %d", err, status)
		}
		if code != status {
			t.Errorf("Download() code = %d, want %d", code, status)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("HTTP %d left %d files behind", status, len(entries))
		}
	}
}

func TestHTTPDownloader_Download_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	d := NewHTTPDownloader(50*time.Millisecond, nil)
	code, err := d.Download(context.Background(), sst.DownloadRequest{
		URL: server.URL, TargetDir: t.TempDir(), Filename: "slow.txt",
	})
	if err == nil {
		t.Fatal("Download() expected timeout error")
	}
	if code != 0 {
		t.Errorf("Download() code = %d, want 0", code)
	}
	if got := CategorizeError(err); got != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %q, want %q", got, ErrorCategoryTimeout)
	}
}

func TestHTTPDownloader_Download_ThroughProxy(t *testing.T) {
	var proxied bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = strings.HasPrefix(r.RequestURI, "http://")
		_, _ = w.Write([]byte(body))
	}))
	defer proxy.Close()

	host, port := splitHostPort(t, proxy.URL)
	d := NewHTTPDownloader(2*time.Second, nil)
	code, err := d.Download(context.Background(), sst.DownloadRequest{
		URL:             "http://data.example.invalid/him_sst_pac_D20240729.txt",
		TargetDir:       t.TempDir(),
		Filename:        "him_sst_pac_D20240729.txt",
		TransferOptions: sst.TransferOptions{ProxyHost: host, ProxyPort: port},
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if code != http.StatusOK || !proxied {
		t.Errorf("code = %d proxied = %v, want 200 through proxy", code, proxied)
	}
}

// TestHTTPDownloader_ProxyConnectionReused verifies consecutive transfers through the same
// proxy share one client and one keep-alive connection.
func TestHTTPDownloader_ProxyConnectionReused(t *testing.T) {
	var conns atomic.Int32
	proxy := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	proxy.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			conns.Add(1)
		}
	}
	proxy.Start()
	defer proxy.Close()

	host, port := splitHostPort(t, proxy.URL)
	d := NewHTTPDownloader(2*time.Second, nil)
	dir := t.TempDir()
	for _, day := range []string{"20240729", "20240730"} {
		name := "him_sst_pac_D" + day + ".txt"
		code, err := d.Download(context.Background(), sst.DownloadRequest{
			URL:             "http://data.example.invalid/" + name,
			TargetDir:       dir,
			Filename:        name,
			TransferOptions: sst.TransferOptions{ProxyHost: host, ProxyPort: port},
		})
		if err != nil || code != http.StatusOK {
			t.Fatalf("Download(%s) = (%d, %v)", day, code, err)
		}
	}

	if n := conns.Load(); n != 1 {
		t.Errorf("proxy connections = %d, want 1", n)
	}
	if n := len(d.proxyClients); n != 1 {
		t.Errorf("proxied clients = %d, want 1", n)
	}
	direct, _ := d.clientFor("", 0)
	if direct != d.client {
		t.Error("clientFor without a proxy should return the direct client")
	}
}

func TestProxyURL_Invalid(t *testing.T) {
	if _, err := proxyURL("proxy.local", 70000); !errors.Is(err, ErrInvalidProxy) {
		t.Errorf("proxyURL() error = %v, want ErrInvalidProxy", err)
	}
	u, err := proxyURL("proxy.local", 3128)
	if err != nil {
		t.Fatalf("proxyURL() error = %v", err)
	}
	if u.Host != "proxy.local:3128" {
		t.Errorf("proxyURL() host = %q", u.Host)
	}
}

func splitHostPort(t *testing.T, raw string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(raw, "http://"))
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	return host, port
}

// TestHTTPDownloader_CircuitBreaker verifies 5xx statuses open the circuit while 404s do
// not, and that an open circuit skips the transfer.
func TestHTTPDownloader_CircuitBreaker(t *testing.T) {
	var hits, status atomic.Int32
	status.Store(http.StatusNotFound)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	d := NewHTTPDownloader(2*time.Second, nil)
	d.SetCircuitBreaker(circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour}))
	req := sst.DownloadRequest{URL: server.URL + "/x.txt", TargetDir: t.TempDir(), Filename: "x.txt"}

	for i := 0; i < 3; i++ {
		if code, err := d.Download(context.Background(), req); code != http.StatusNotFound || err != nil {
			t.Fatalf("404 download = (%d, %v)", code, err)
		}
	}

	status.Store(http.StatusServiceUnavailable)
	for i := 0; i < 2; i++ {
		if code, err := d.Download(context.Background(), req); code != http.StatusServiceUnavailable || err != nil {
			t.Fatalf("503 download = (%d, %v), want status with nil error", code, err)
		}
	}

	code, err := d.Download(context.Background(), req)
	if !errors.Is(err, circuitbreaker.ErrOpen) || code != 0 {
		t.Fatalf("open circuit download = (%d, %v), want ErrOpen", code, err)
	}
	if n := hits.Load(); n != 5 {
		t.Errorf("server hits = %d, want 5", n)
	}
}
