package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/sst-grid-service/internal/observability"
)

// NewRouter wires the API routes. Rate limiting and the request timeout apply to /sst only.
func NewRouter(h *Handler, logger *zap.Logger, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	sstRouter := router.PathPrefix("/sst").Subrouter()
	sstRouter.Use(RateLimitMiddleware(h.rateLimiter, h.tracker))
	if requestTimeout > 0 {
		sstRouter.Use(TimeoutMiddleware(requestTimeout))
	}
	sstRouter.HandleFunc("/{resolution}/{date}", h.GetReading).Methods("GET")
	sstRouter.HandleFunc("/{resolution}/{date}/location", h.GetLocation).Methods("GET")
	sstRouter.HandleFunc("/{resolution}/{date}/stats", h.GetStats).Methods("GET")
	sstRouter.HandleFunc("/{resolution}/{date}/grid.nc", h.GetGridNetCDF).Methods("GET")
	return router
}
