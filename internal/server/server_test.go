package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victortrac/calltally/internal/tracker"
	"github.com/victortrac/calltally/internal/videocall"
)

type stubDetector struct {
	state videocall.CallState
}

func (s *stubDetector) GetState() videocall.CallState { return s.state }
func (s *stubDetector) IsInCall() bool { return s.state.InCall }
func (s *stubDetector) SetCallback(videocall.StateCallback) {}
func (s *stubDetector) SetReporter(videocall.Reporter) {}
func (s *stubDetector) Run(context.Context, videocall.Source) error { return nil }

func newTestServer(t *testing.T, state videocall.CallState) (*httptest.Server, *tracker.Tracker) {
	t.Helper()
	tr, err := tracker.NewTracker(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	srv := httptest.NewServer(NewHandler(tr, &stubDetector{state: state}))
	t.Cleanup(srv.Close)
	return srv, tr
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestVideoCallState(t *testing.T) {
	srv, _ := newTestServer(t, videocall.CallState{
		Phase:       videocall.PhaseInCall,
		InCall:      true,
		AudioActive: true,
		AudioPort:   51001,
		VideoPort:   51000,
		ControlPort: 51002,
	})

	resp, body := get(t, srv.URL+"/api/videocall")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var st videocall.CallState
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, videocall.PhaseInCall, st.Phase)
	assert.True(t, st.InCall)
	assert.True(t, st.AudioActive)
	assert.False(t, st.VideoActive)
	assert.Equal(t, uint16(51002), st.ControlPort)
}

func TestEventsEndpoint(t *testing.T) {
	srv, tr := newTestServer(t, videocall.CallState{Phase: videocall.PhaseNoCall})

	now := time.Now()
	tr.Report(videocall.Event{Kind: videocall.EventCallStarted, Time: now.Add(-time.Second), AudioPort: 51001})
	tr.Report(videocall.Event{Kind: videocall.EventCallEnded, Time: now})

	resp, body := get(t, srv.URL+"/api/events?limit=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []tracker.StoredEvent
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 1)
	assert.Equal(t, videocall.EventCallEnded, events[0].Kind)

	resp, _ = get(t, srv.URL+"/api/events?limit=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoints(t *testing.T) {
	srv, tr := newTestServer(t, videocall.CallState{Phase: videocall.PhaseNoCall})
	tr.TrackVideoCall(true, true, false, videocall.AppName)

	resp, body := get(t, srv.URL+"/api/videocall/stats?range=1h")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats tracker.VideoCallStats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.TotalMinutes)
	assert.Equal(t, 1, stats.CameraMinutes)

	resp, body = get(t, srv.URL+"/api/videocall/heatmap")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var heat []tracker.HeatmapPoint
	require.NoError(t, json.Unmarshal(body, &heat))
	assert.Len(t, heat, 1)
}

func TestDashboardPages(t *testing.T) {
	srv, _ := newTestServer(t, videocall.CallState{Phase: videocall.PhaseNoCall})

	for _, path := range []string{"/dashboard", "/mini"} {
		resp, body := get(t, srv.URL+path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
		assert.Contains(t, string(body), "/api/videocall")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, videocall.CallState{Phase: videocall.PhaseNoCall})

	resp, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "calltally_call_minutes_total")
}

func TestStartStopsWithContext(t *testing.T) {
	tr, err := tracker.NewTracker(t.TempDir())
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", tr, nil) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
