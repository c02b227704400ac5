package videocall

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calltally_packets_total",
		Help: "Observed packets, partitioned by the call phase they arrived in",
	}, []string{"phase"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calltally_events_total",
		Help: "Call events emitted, partitioned by kind",
	}, []string{"kind"})

	inCallGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calltally_in_call",
		Help: "1 while a call is in progress",
	})

	audioGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calltally_audio_active",
		Help: "1 while the audio flow is active",
	})

	videoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calltally_video_active",
		Help: "1 while the video flow is active",
	})
)

func observeMetrics(st CallState) {
	inCallGauge.Set(boolToFloat(st.InCall))
	audioGauge.Set(boolToFloat(st.AudioActive))
	videoGauge.Set(boolToFloat(st.VideoActive))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
