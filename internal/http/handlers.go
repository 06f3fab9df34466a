package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/sst-grid-service/internal/export"
	"github.com/kjstillabower/sst-grid-service/internal/models"
	"github.com/kjstillabower/sst-grid-service/internal/service"
	"github.com/kjstillabower/sst-grid-service/internal/sst"
	"github.com/kjstillabower/sst-grid-service/internal/traffic"
	"github.com/kjstillabower/sst-grid-service/internal/validation"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when rate limiter disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sstService       *service.SSTService
	tracker          *traffic.Tracker
	healthConfig     *HealthConfig
	logger           *zap.Logger
	rateLimiter      *rate.Limiter
	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. A nil tracker gets a fresh one.
func NewHandler(
	sstService *service.SSTService,
	tracker *traffic.Tracker,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	rateLimiter *rate.Limiter,
) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sstService:   sstService,
		tracker:      tracker,
		healthConfig: healthConfig,
		logger:       logger,
		rateLimiter:  rateLimiter,
	}
}

// SetShuttingDown flips /health to shutting-down. Called on SIGTERM before the server drains.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// snapshotVars parses the {resolution} and {date} path variables, writing a 400 on failure.
func snapshotVars(w http.ResponseWriter, r *http.Request) (models.Resolution, time.Time, bool) {
	vars := mux.Vars(r)
	res, err := models.ParseResolution(vars["resolution"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_RESOLUTION", "resolution must be low or high")
		return 0, time.Time{}, false
	}
	day, err := validation.ValidateDate(vars["date"], time.Now())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return 0, time.Time{}, false
	}
	return res, day, true
}

// GetReading handles GET /sst/{resolution}/{date}?lat=&lon=.
func (h *Handler) GetReading(w http.ResponseWriter, r *http.Request) {
	res, day, ok := snapshotVars(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	lat, lon, err := validation.ValidateCoordinate(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATE", err.Error())
		return
	}

	reading, err := h.sstService.GetReading(r.Context(), res, day, lat, lon)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.tracker.RecordSuccess()
	writeJSON(w, http.StatusOK, reading)
}

// locationResponse is the body of GET /sst/{resolution}/{date}/location.
type locationResponse struct {
	Resolution string `json:"resolution"`
	Date       string `json:"date"`
	models.ResolvedLocation
	FinalPath string `json:"finalPath"`
	Cached    bool   `json:"cached"`
}

// GetLocation handles GET /sst/{resolution}/{date}/location. It never touches the network.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	res, day, ok := snapshotVars(w, r)
	if !ok {
		return
	}
	loc, err := h.sstService.Locate(res, day)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_RESOLUTION", err.Error())
		return
	}
	final := sst.FinalPath(loc, res)
	_, statErr := os.Stat(final)
	writeJSON(w, http.StatusOK, locationResponse{
		Resolution:       res.String(),
		Date:             day.Format(validation.DateLayout),
		ResolvedLocation: loc,
		FinalPath:        final,
		Cached:           statErr == nil,
	})
}

// statsResponse is the body of GET /sst/{resolution}/{date}/stats.
type statsResponse struct {
	Resolution string           `json:"resolution"`
	Date       string           `json:"date"`
	Rows       int              `json:"rows"`
	Columns    int              `json:"columns"`
	Units      string           `json:"units"`
	Stats      models.GridStats `json:"stats"`
}

// GetStats handles GET /sst/{resolution}/{date}/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	res, day, ok := snapshotVars(w, r)
	if !ok {
		return
	}
	g, err := h.sstService.GetGrid(r.Context(), res, day)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.tracker.RecordSuccess()
	rows, cols := g.Shape()
	writeJSON(w, http.StatusOK, statsResponse{
		Resolution: res.String(),
		Date:       day.Format(validation.DateLayout),
		Rows:       rows,
		Columns:    cols,
		Units:      g.Units,
		Stats:      g.Stats(),
	})
}

// GetGridNetCDF handles GET /sst/{resolution}/{date}/grid.nc.
func (h *Handler) GetGridNetCDF(w http.ResponseWriter, r *http.Request) {
	res, day, ok := snapshotVars(w, r)
	if !ok {
		return
	}
	g, err := h.sstService.GetGrid(r.Context(), res, day)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.tracker.RecordSuccess()

	dir, err := os.MkdirTemp("", "sst-export-*")
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("sst_%s_%s.nc", res, day.Format("20060102"))
	path := filepath.Join(dir, name)
	if err := export.WriteNetCDF(path, g); err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		h.writeInternalError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/x-netcdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", fmt.Sprint(info.Size()))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, f)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "error_rate_breach" {
		checks["jma"] = "unhealthy"
	} else {
		checks["jma"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "sst-grid-service",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	cfg := h.healthConfig
	if cfg.RateLimitRPS > 0 && cfg.OverloadWindow > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(h.tracker.RequestCount(cfg.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errs, total := h.tracker.ErrorRate(cfg.DegradedWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(cfg.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusOK, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps service errors to responses. Only upstream failures count
// against the degraded error rate.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNoData):
		h.tracker.RecordSuccess()
		writeError(w, r, http.StatusNotFound, "NO_DATA", "No snapshot published for this date")
		return
	case errors.Is(err, service.ErrOutOfCoverage):
		h.tracker.RecordSuccess()
		writeError(w, r, http.StatusNotFound, "OUT_OF_COVERAGE", "Point is outside the grid for this resolution")
		return
	case errors.Is(err, models.ErrUnknownResolution):
		writeError(w, r, http.StatusBadRequest, "INVALID_RESOLUTION", "resolution must be low or high")
		return
	}
	h.tracker.RecordError()
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, r, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Timed out fetching SST data")
	} else {
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch SST data")
	}
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}

func (h *Handler) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unable to export grid")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Error("grid export failed", zap.Error(err))
	}
}
