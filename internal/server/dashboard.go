package server

import (
	"embed"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/victortrac/calltally/internal/tracker"
	"github.com/victortrac/calltally/internal/videocall"
)

//go:embed assets/*.html
var assets embed.FS

func RegisterDashboard(mux *http.ServeMux, t *tracker.Tracker, vc videocall.Detector) {
	mux.HandleFunc("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		serveAsset(w, "assets/index.html")
	})

	mux.HandleFunc("/mini", func(w http.ResponseWriter, r *http.Request) {
		serveAsset(w, "assets/mini.html")
	})

	mux.HandleFunc("/api/videocall", func(w http.ResponseWriter, r *http.Request) {
		state := videocall.CallState{Phase: videocall.PhaseNoCall}
		if vc != nil {
			state = vc.GetState()
		}
		writeJSON(w, state)
	})

	mux.HandleFunc("/api/videocall/stats", func(w http.ResponseWriter, r *http.Request) {
		timeRange := r.URL.Query().Get("range")
		if timeRange == "" {
			timeRange = "24h"
		}
		writeJSON(w, t.GetVideoCallStats(timeRange))
	})

	mux.HandleFunc("/api/videocall/heatmap", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, t.GetVideoCallHeatmap())
	})

	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 1000 {
				http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
				return
			}
			limit = n
		}
		events, err := t.RecentEvents(limit)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "RegisterDashboard",
				"error":    err.Error(),
			}).Warn("Failed to load events")
			http.Error(w, "failed to load events", http.StatusInternalServerError)
			return
		}
		writeJSON(w, events)
	})
}

func serveAsset(w http.ResponseWriter, name string) {
	content, err := assets.ReadFile(name)
	if err != nil {
		http.NotFound(w, nil)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write(content)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
