package tracker

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/victortrac/calltally/internal/videocall"
)

var (
	callMinutesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calltally_call_minutes_total",
		Help: "Minutes recorded with a call in progress",
	})
	storeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calltally_store_errors_total",
		Help: "Failed writes to the call history database",
	})
)

// TimePoint is a count at a Unix time.
type TimePoint struct {
	Time  int64 `json:"time"`
	Count int   `json:"count"`
}

// HeatmapPoint is one minute bucket; Value is 1 while in a call.
type HeatmapPoint struct {
	Timestamp int64   `json:"ts"`
	Value     float64 `json:"value"`
}

// StoredEvent is a call event as kept in the history database.
type StoredEvent struct {
	ID int64 `json:"id"`
	videocall.Event
}

// minuteState is the last row written for a minute bucket.
type minuteState struct {
	bucket              int64
	inCall, camera, mic bool
}

// Tracker keeps the call history: one row per minute spent in a call and
// every event the detector reported.
type Tracker struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
	now  func() time.Time
	last minuteState
}

// NewTracker opens (or creates) the history database in dataDir.
func NewTracker(dataDir string) (*Tracker, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, "calltally.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS video_calls (
			minute INTEGER PRIMARY KEY,
			in_call INTEGER,
			camera_active INTEGER,
			microphone_active INTEGER,
			app TEXT
		);
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			kind TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			audio_port INTEGER NOT NULL DEFAULT 0,
			video_port INTEGER NOT NULL DEFAULT 0,
			control_port INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS events_ts ON events (ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewTracker",
		"path":     path,
	}).Info("Call history opened")

	return &Tracker{db: db, path: path, now: time.Now}, nil
}

// Close closes the database.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.db.Close()
}

// TrackVideoCall records the current video call state. It is called on every
// detector evaluation, so a minute bucket is only written when it is new or
// its state changed.
func (t *Tracker) TrackVideoCall(inCall, cameraActive, micActive bool, app string) {
	if !inCall {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := t.now().Truncate(time.Minute).Unix()
	st := minuteState{bucket: bucket, inCall: inCall, camera: cameraActive, mic: micActive}
	if st == t.last {
		return
	}
	newMinute := bucket != t.last.bucket

	// A minute counts as camera/mic time if either was on at any point in it.
	_, err := t.db.Exec(`
		INSERT INTO video_calls (minute, in_call, camera_active, microphone_active, app)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(minute) DO UPDATE SET
			in_call = 1,
			camera_active = MAX(camera_active, excluded.camera_active),
			microphone_active = MAX(microphone_active, excluded.microphone_active),
			app = COALESCE(NULLIF(excluded.app, ''), app)
	`, bucket, boolToInt(cameraActive), boolToInt(micActive), app)
	if err != nil {
		storeErrorsTotal.Inc()
		logrus.WithFields(logrus.Fields{
			"function": "TrackVideoCall",
			"error":    err.Error(),
		}).Warn("Failed to record call minute")
		return
	}
	if newMinute {
		callMinutesTotal.Inc()
	}
	t.last = st
}

// Report stores a call event. It makes the tracker a videocall.Reporter.
func (t *Tracker) Report(e videocall.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.Exec(`
		INSERT INTO events (ts, kind, reason, audio_port, video_port, control_port)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Time.UnixMilli(), string(e.Kind), e.Reason, e.AudioPort, e.VideoPort, e.ControlPort)
	if err != nil {
		storeErrorsTotal.Inc()
		logrus.WithFields(logrus.Fields{
			"function": "Report",
			"event":    string(e.Kind),
			"error":    err.Error(),
		}).Warn("Failed to store call event")
	}
}

// RecentEvents returns up to limit events, newest first.
func (t *Tracker) RecentEvents(limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rows, err := t.db.Query(`
		SELECT id, ts, kind, reason, audio_port, video_port, control_port
		FROM events
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]StoredEvent, 0, limit)
	for rows.Next() {
		var (
			ev   StoredEvent
			ts   int64
			kind string
		)
		if err := rows.Scan(&ev.ID, &ts, &kind, &ev.Reason, &ev.AudioPort, &ev.VideoPort, &ev.ControlPort); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = videocall.EventKind(kind)
		ev.Time = time.UnixMilli(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// VideoCallStats summarises the call history over a time range.
type VideoCallStats struct {
	TotalMinutes      int            `json:"total_minutes"`
	TotalCalls        int            `json:"total_calls"`
	CameraMinutes     int            `json:"camera_minutes"`
	MicrophoneMinutes int            `json:"microphone_minutes"`
	DiscoveryFailures int            `json:"discovery_failures"`
	DailyMinutes      []TimePoint    `json:"daily_minutes"` // local midnight -> minutes in call
	Heatmap           []HeatmapPoint `json:"heatmap"`
}

var rangeDurations = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// rangeStart maps a range name to its start. Unknown names mean one hour.
func rangeStart(now time.Time, timeRange string) time.Time {
	if timeRange == "1y" {
		return now.AddDate(-1, 0, 0)
	}
	d, ok := rangeDurations[timeRange]
	if !ok {
		d = time.Hour
	}
	return now.Add(-d)
}

// GetVideoCallStats aggregates the minutes and events recorded since the
// start of timeRange ("1h", "24h", "7d", "30d" or "1y").
func (t *Tracker) GetVideoCallStats(timeRange string) VideoCallStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := rangeStart(t.now(), timeRange)
	stats := VideoCallStats{DailyMinutes: []TimePoint{}}

	err := t.db.QueryRow(`
		SELECT COALESCE(SUM(in_call), 0), COALESCE(SUM(camera_active), 0), COALESCE(SUM(microphone_active), 0)
		FROM video_calls WHERE minute >= ?
	`, start.Unix()).Scan(&stats.TotalMinutes, &stats.CameraMinutes, &stats.MicrophoneMinutes)
	if err != nil {
		logQueryError("GetVideoCallStats", err)
	}

	err = t.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM events WHERE kind = ? AND ts >= ?),
			(SELECT COUNT(*) FROM events WHERE kind = ? AND ts >= ?)
	`, string(videocall.EventCallStarted), start.UnixMilli(),
		string(videocall.EventDiscoveryFailed), start.UnixMilli()).
		Scan(&stats.TotalCalls, &stats.DiscoveryFailures)
	if err != nil {
		logQueryError("GetVideoCallStats", err)
	}

	stats.Heatmap = t.heatmap(`SELECT minute, in_call FROM video_calls WHERE minute >= ? ORDER BY minute`, start.Unix())

	// Fold in-call minutes into local calendar days.
	var day int64
	for _, p := range stats.Heatmap {
		if p.Value == 0 {
			continue
		}
		y, m, d := time.Unix(p.Timestamp, 0).In(time.Local).Date()
		midnight := time.Date(y, m, d, 0, 0, 0, 0, time.Local).Unix()
		if n := len(stats.DailyMinutes); n == 0 || midnight != day {
			stats.DailyMinutes = append(stats.DailyMinutes, TimePoint{Time: midnight})
			day = midnight
		}
		stats.DailyMinutes[len(stats.DailyMinutes)-1].Count++
	}
	return stats
}

// GetVideoCallHeatmap returns every minute spent in a call.
func (t *Tracker) GetVideoCallHeatmap() []HeatmapPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heatmap(`SELECT minute, in_call FROM video_calls WHERE in_call = 1 ORDER BY minute`)
}

func (t *Tracker) heatmap(query string, args ...any) []HeatmapPoint {
	points := []HeatmapPoint{}
	rows, err := t.db.Query(query, args...)
	if err != nil {
		logQueryError("heatmap", err)
		return points
	}
	defer rows.Close()

	for rows.Next() {
		var (
			minute int64
			inCall int
		)
		if err := rows.Scan(&minute, &inCall); err != nil {
			logQueryError("heatmap", err)
			return points
		}
		points = append(points, HeatmapPoint{Timestamp: minute, Value: float64(inCall)})
	}
	return points
}

func logQueryError(function string, err error) {
	logrus.WithFields(logrus.Fields{
		"function": function,
		"error":    err.Error(),
	}).Warn("Call history query failed")
}
