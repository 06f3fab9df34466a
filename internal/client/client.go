package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/sst-grid-service/internal/circuitbreaker"
	"github.com/kjstillabower/sst-grid-service/internal/observability"
	"github.com/kjstillabower/sst-grid-service/internal/sst"
)

// UserAgent is sent with every transfer.
const UserAgent = "sst-grid-service/1.0 (+https://github.com/kjstillabower/sst-grid-service)"

const chunkSize = 32 * 1024

var (
	// ErrInvalidProxy is returned when the proxy host/port cannot form a URL.
	ErrInvalidProxy = errors.New("invalid proxy")

	errWriteFile = errors.New("write target file")

	errServerStatus = errors.New("server error status")
)

// HTTPDownloader implements sst.Downloader with a single GET per transfer. It never
// retries; callers decide what to do with the returned status.
type HTTPDownloader struct {
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
	breaker *circuitbreaker.CircuitBreaker // nil disables

	proxyMu      sync.Mutex
	proxyClients map[string]*http.Client // by proxy URL
}

// NewHTTPDownloader creates a downloader whose transfers are bounded by timeout.
func NewHTTPDownloader(timeout time.Duration, logger *zap.Logger) *HTTPDownloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPDownloader{
		timeout:      timeout,
		client:       newHTTPClient(timeout, nil),
		logger:       logger,
		proxyClients: make(map[string]*http.Client),
	}
}

// clientFor returns the shared client for transfers through the given proxy, or the
// direct client when host is empty.
func (d *HTTPDownloader) clientFor(host string, port int) (*http.Client, error) {
	if host == "" {
		return d.client, nil
	}
	proxy, err := proxyURL(host, port)
	if err != nil {
		return nil, err
	}
	key := proxy.String()

	d.proxyMu.Lock()
	defer d.proxyMu.Unlock()
	c, ok := d.proxyClients[key]
	if !ok {
		c = newHTTPClient(d.timeout, proxy)
		d.proxyClients[key] = c
	}
	return c, nil
}

func newHTTPClient(timeout time.Duration, proxy *url.URL) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	if proxy != nil {
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// SetCircuitBreaker guards transfers with cb. Transport errors and 5xx statuses count as
// failures; 404 does not.
func (d *HTTPDownloader) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	d.breaker = cb
}

// Download fetches req.URL into req.TargetDir/req.Filename. Non-200 statuses are returned
// with a nil error and leave no file behind.
func (d *HTTPDownloader) Download(ctx context.Context, req sst.DownloadRequest) (int, error) {
	if d.breaker == nil {
		return d.download(ctx, req)
	}
	var code int
	err := d.breaker.Call(ctx, func() error {
		var err error
		code, err = d.download(ctx, req)
		if err == nil && code >= http.StatusInternalServerError {
			return errServerStatus
		}
		return err
	})
	if errors.Is(err, errServerStatus) {
		return code, nil
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		d.logger.Debug("transfer skipped, circuit open", zap.String("url", req.URL))
		observability.DownloadsTotal.WithLabelValues("circuit_open").Inc()
	}
	return code, err
}

func (d *HTTPDownloader) download(ctx context.Context, req sst.DownloadRequest) (int, error) {
	start := time.Now()

	httpClient, err := d.clientFor(req.ProxyHost, req.ProxyPort)
	if err != nil {
		d.record(0, err, start)
		return 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		d.record(0, err, start)
		return 0, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", UserAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	d.logger.Debug("downloading snapshot", zap.String("url", req.URL))
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		d.record(0, err, start)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return 0, fmt.Errorf("request timeout: %w", err)
		}
		return 0, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		d.record(resp.StatusCode, nil, start)
		return resp.StatusCode, nil
	}

	if err := d.save(resp, req); err != nil {
		d.record(0, err, start)
		return 0, err
	}
	d.record(resp.StatusCode, nil, start)
	return resp.StatusCode, nil
}

// save streams the body into a temporary file next to the target and renames it into
// place so an interrupted transfer never looks like a cached snapshot.
func (d *HTTPDownloader) save(resp *http.Response, req sst.DownloadRequest) error {
	if err := os.MkdirAll(req.TargetDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", errWriteFile, err)
	}
	target := filepath.Join(req.TargetDir, req.Filename)
	tmp, err := os.CreateTemp(req.TargetDir, "."+req.Filename+".*.part")
	if err != nil {
		return fmt.Errorf("%w: %v", errWriteFile, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var sink sst.ProgressSink
	if req.ShowProgress && req.Sink != nil {
		sink = req.Sink
		sink.Begin(req.Filename, resp.ContentLength)
		defer sink.Finish()
	}

	total, err := copyWithProgress(tmp, resp.Body, func(total, step int64) {
		if sink != nil {
			sink.Advance(step)
		}
		if req.Observer != nil {
			req.Observer.Progress(total, step)
		}
	})
	observability.DownloadBytesTotal.Add(float64(total))
	if err != nil {
		tmp.Close()
		return fmt.Errorf("read response body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", errWriteFile, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("%w: %v", errWriteFile, err)
	}
	d.logger.Debug("snapshot saved", zap.String("path", target), zap.Int64("bytes", total))
	return nil
}

func copyWithProgress(dst io.Writer, src io.Reader, progress func(total, step int64)) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("%w: %v", errWriteFile, err)
			}
			total += int64(n)
			progress(total, int64(n))
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, readErr
		}
	}
}

func (d *HTTPDownloader) record(code int, err error, start time.Time) {
	label := observability.StatusLabel(code)
	if err != nil {
		label = string(CategorizeError(err))
	}
	observability.DownloadsTotal.WithLabelValues(label).Inc()
	observability.DownloadDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func proxyURL(host string, port int) (*url.URL, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidProxy, port)
	}
	hostport := host
	if port > 0 {
		hostport = net.JoinHostPort(host, strconv.Itoa(port))
	}
	u, err := url.Parse("http://" + hostport)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProxy, hostport)
	}
	return u, nil
}
