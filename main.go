package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/getlantern/systray"
	"github.com/sirupsen/logrus"

	"github.com/victortrac/calltally/internal/capture"
	"github.com/victortrac/calltally/internal/config"
	"github.com/victortrac/calltally/internal/server"
	"github.com/victortrac/calltally/internal/tracker"
	"github.com/victortrac/calltally/internal/videocall"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		device     = flag.String("device", "", "capture device (default: first non-loopback device)")
		list       = flag.Bool("list", false, "list capture devices and exit")
		readPath   = flag.String("read", "", "replay a pcap or pcapng file instead of capturing")
		recordPath = flag.String("record", "", "write observed packets to a pcap file")
		listenAddr = flag.String("listen", "", "HTTP listen address")
		headless   = flag.Bool("headless", false, "run without the tray icon")
		logLevel   = flag.String("log-level", "", "log level (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "log format (text or json)")
		dataDir    = flag.String("data-dir", "", "directory for the call history database")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Failed to load config")
	}

	// Flags win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "device":
			cfg.Device = *device
		case "listen":
			cfg.ListenAddr = *listenAddr
		case "headless":
			cfg.Headless = *headless
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		case "data-dir":
			cfg.DataDir = *dataDir
		}
	})

	if err := cfg.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Invalid configuration")
	}
	setupLogging(cfg)

	if *list {
		if err := listDevices(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "main",
				"error":    err.Error(),
			}).Fatal("Failed to list capture devices")
		}
		return
	}

	if err := checkModes(*readPath, *recordPath); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Invalid flags")
	}

	if *readPath != "" {
		if err := replay(cfg, *readPath); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "main",
				"file":     *readPath,
				"error":    err.Error(),
			}).Fatal("Replay failed")
		}
		return
	}

	a, err := newApp(cfg, *recordPath)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Failed to start")
	}

	if cfg.Headless {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a.start(ctx)
		<-ctx.Done()
		a.stop()
		return
	}
	systray.Run(a.onReady, a.onExit)
}

// checkModes rejects flag combinations that would be silently ignored.
func checkModes(readPath, recordPath string) error {
	if readPath != "" && recordPath != "" {
		return errors.New("-record cannot be combined with -read")
	}
	return nil
}

func setupLogging(cfg config.Config) {
	if strings.EqualFold(cfg.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "setupLogging",
			"level":    cfg.LogLevel,
		}).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

func listDevices() error {
	devices, err := capture.ListDevices()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(devices)
}

// replay runs the detector over a recorded trace and logs every event. The
// call history is left untouched.
func replay(cfg config.Config, path string) error {
	detection, err := cfg.Detection()
	if err != nil {
		return err
	}
	src, err := capture.OpenFile(path)
	if err != nil {
		return err
	}
	defer src.Close()

	d, err := videocall.NewDetector(detection)
	if err != nil {
		return err
	}
	d.SetReporter(videocall.NewLogReporter(logrus.StandardLogger()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := d.Run(ctx, src); err != nil {
		return err
	}

	st := d.GetState()
	stats := src.Stats()
	logrus.WithFields(logrus.Fields{
		"function":  "replay",
		"phase":     st.Phase,
		"received":  stats.Received,
		"malformed": stats.Malformed,
		"skipped":   stats.Skipped,
	}).Info("Replay finished")
	return nil
}

// app is a live capture wired to the history, the HTTP server and the tray.
type app struct {
	cfg      config.Config
	src      videocall.Source
	live     *capture.LiveSource
	record   *os.File
	tracker  *tracker.Tracker
	detector videocall.Detector
	cancel   context.CancelFunc
	done     chan struct{}
}

func newApp(cfg config.Config, recordPath string) (*app, error) {
	detection, err := cfg.Detection()
	if err != nil {
		return nil, err
	}
	liveCfg, err := cfg.Capture()
	if err != nil {
		return nil, err
	}

	live, err := capture.OpenLive(liveCfg)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	a := &app{cfg: cfg, src: live, live: live, done: make(chan struct{})}

	if recordPath != "" {
		f, err := os.Create(recordPath)
		if err != nil {
			live.Close()
			return nil, fmt.Errorf("create trace: %w", err)
		}
		w, err := capture.NewTraceWriter(f, netip.Addr{})
		if err != nil {
			f.Close()
			live.Close()
			return nil, err
		}
		a.record = f
		a.src = capture.Record(live, w)
	}

	a.tracker, err = tracker.NewTracker(cfg.DataDir)
	if err != nil {
		a.closeSource()
		return nil, err
	}

	a.detector, err = videocall.NewDetector(detection)
	if err != nil {
		a.closeSource()
		a.tracker.Close()
		return nil, err
	}
	a.detector.SetReporter(videocall.Reporters{
		videocall.NewLogReporter(logrus.StandardLogger()),
		a.tracker,
	})
	a.detector.SetCallback(a.tracker.TrackVideoCall)
	return a, nil
}

// start runs the detector and the HTTP server until ctx is done or stop is
// called.
func (a *app) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		defer close(a.done)
		if err := a.detector.Run(ctx, a.src); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "start",
				"error":    err.Error(),
			}).Error("Detector stopped")
		}
	}()

	go func() {
		if err := server.Start(ctx, a.cfg.ListenAddr, a.tracker, a.detector); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "start",
				"addr":     a.cfg.ListenAddr,
				"error":    err.Error(),
			}).Error("HTTP server failed")
		}
	}()
}

func (a *app) stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	a.closeSource()

	stats := a.live.Stats()
	logrus.WithFields(logrus.Fields{
		"function":  "stop",
		"received":  stats.Received,
		"malformed": stats.Malformed,
		"skipped":   stats.Skipped,
	}).Info("Capture closed")

	if err := a.tracker.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "stop",
			"error":    err.Error(),
		}).Warn("Failed to close call history")
	}
}

func (a *app) closeSource() {
	a.src.Close()
	if a.record != nil {
		a.record.Close()
	}
}
