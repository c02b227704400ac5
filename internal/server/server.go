package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/victortrac/calltally/internal/tracker"
	"github.com/victortrac/calltally/internal/videocall"
)

// NewHandler builds the metrics, API and dashboard routes.
func NewHandler(t *tracker.Tracker, vc videocall.Detector) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	RegisterDashboard(mux, t, vc)
	return mux
}

// Start serves on addr until ctx is done.
func Start(ctx context.Context, addr string, t *tracker.Tracker, vc videocall.Detector) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(t, vc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"addr":     addr,
	}).Info("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
