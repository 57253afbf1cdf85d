// Package metrics exposes stage counters to prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stage"

var (
	promSessionCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "total",
	})
	promChannelMembers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "channel",
		Name:      "members",
	}, []string{"channel"})
	promEventCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "events",
	}, []string{"event", "result"})
	promMainChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "selector",
		Name:      "main_changes",
	})
	promTrackPublished = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "track",
		Name:      "published_total",
	}, []string{"kind"})
	promRelayCurrent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "total",
	})

	registerOnce sync.Once
)

// Event results.
const (
	ResultOK    = "ok"
	ResultStale = "stale"
	ResultError = "error"
)

// Register adds every collector to reg once per process.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			promSessionCurrent,
			promChannelMembers,
			promEventCounter,
			promMainChanges,
			promTrackPublished,
			promRelayCurrent,
		)
	})
}

func SessionStarted() { promSessionCurrent.Inc() }
func SessionEnded()   { promSessionCurrent.Dec() }

func ChannelMembers(channel string, n int) {
	if n == 0 {
		promChannelMembers.DeleteLabelValues(channel)
		return
	}
	promChannelMembers.WithLabelValues(channel).Set(float64(n))
}

func Event(event, result string) {
	promEventCounter.WithLabelValues(event, result).Inc()
}

func MainChanged() { promMainChanges.Inc() }

func TrackPublished(kind string)   { promTrackPublished.WithLabelValues(kind).Inc() }
func TrackUnpublished(kind string) { promTrackPublished.WithLabelValues(kind).Dec() }

func RelayStarted() { promRelayCurrent.Inc() }
func RelayStopped() { promRelayCurrent.Dec() }
