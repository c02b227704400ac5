package main

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/getlantern/systray"
	"github.com/sirupsen/logrus"
)

func (a *app) onReady() {
	logrus.WithFields(logrus.Fields{
		"function": "onReady",
	}).Info("calltally started")
	systray.SetTitle(trayTitle(false, false, false))
	systray.SetTooltip("calltally Zoom tally light")

	mStatus := systray.AddMenuItem("No call", "Current call state")
	mStatus.Disable()
	mDashboard := systray.AddMenuItem("Open Dashboard", "View call history")
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	var (
		mu   sync.Mutex
		last string
	)
	a.detector.SetCallback(func(inCall, cameraActive, micActive bool, app string) {
		a.tracker.TrackVideoCall(inCall, cameraActive, micActive, app)

		title := trayTitle(inCall, cameraActive, micActive)
		mu.Lock()
		defer mu.Unlock()
		if title == last {
			return
		}
		last = title
		systray.SetTitle(title)
		mStatus.SetTitle(trayStatus(inCall, cameraActive, micActive))
	})

	a.start(context.Background())

	go func() {
		for {
			select {
			case <-mDashboard.ClickedCh:
				openBrowser("http://" + dashboardHost(a.cfg.ListenAddr) + "/dashboard")
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func (a *app) onExit() {
	logrus.WithFields(logrus.Fields{
		"function": "onExit",
	}).Info("calltally exiting...")
	a.stop()
}

// trayTitle renders the tally: a red dot per live media stream.
func trayTitle(inCall, cameraActive, micActive bool) string {
	if !inCall {
		return "○"
	}
	mic, cam := "mic ·", "cam ·"
	if micActive {
		mic = "mic ●"
	}
	if cameraActive {
		cam = "cam ●"
	}
	return mic + " " + cam
}

func trayStatus(inCall, cameraActive, micActive bool) string {
	if !inCall {
		return "No call"
	}
	parts := []string{"In call"}
	if micActive {
		parts = append(parts, "audio on")
	} else {
		parts = append(parts, "audio off")
	}
	if cameraActive {
		parts = append(parts, "video on")
	} else {
		parts = append(parts, "video off")
	}
	return strings.Join(parts, ", ")
}

// dashboardHost turns a listen address such as ":2112" into something a
// browser can open.
func dashboardHost(listenAddr string) string {
	if strings.HasPrefix(listenAddr, ":") {
		return "localhost" + listenAddr
	}
	return listenAddr
}

func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "openBrowser",
			"url":      url,
			"error":    err.Error(),
		}).Warn("Error opening browser")
	}
}
