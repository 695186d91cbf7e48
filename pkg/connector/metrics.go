// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Filter reasons reported by the pipeline.
const (
	reasonUntracked = "untracked_author"
	reasonDuplicate = "duplicate"
	reasonReply     = "cross_user_reply"
)

// Metrics holds the bridge's Prometheus collectors.
type Metrics struct {
	streamEvents    *prometheus.CounterVec
	postsFiltered   *prometheus.CounterVec
	postsDelivered  prometheus.Counter
	deliveryErrors  prometheus.Counter
	mediaFailures   prometheus.Counter
	archiveFailures prometheus.Counter
	deletions       *prometheus.CounterVec
	streamEnds      *prometheus.CounterVec
	trackedAccounts prometheus.Gauge
	state           *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbridge_stream_events_total",
			Help: "Stream frames received, by kind",
		}, []string{"kind"}),
		postsFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbridge_posts_filtered_total",
			Help: "Posts dropped by the pipeline, by reason",
		}, []string{"reason"}),
		postsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetbridge_posts_delivered_total",
			Help: "Posts handed to the chat delivery",
		}),
		deliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetbridge_delivery_errors_total",
			Help: "Posts whose chat delivery failed",
		}),
		mediaFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetbridge_media_failures_total",
			Help: "Media entries whose processing failed",
		}),
		archiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tweetbridge_archive_failures_total",
			Help: "Raw post snapshots that could not be written",
		}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbridge_deletions_total",
			Help: "Chat message delete requests, by result",
		}, []string{"result"}),
		streamEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tweetbridge_stream_ends_total",
			Help: "Stream sessions that ended, by failure class",
		}, []string{"class"}),
		trackedAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tweetbridge_tracked_accounts",
			Help: "Accounts followed by the current stream session",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tweetbridge_connection_state",
			Help: "1 for the current connection state, 0 otherwise",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.streamEvents, m.postsFiltered, m.postsDelivered, m.deliveryErrors,
			m.mediaFailures, m.archiveFailures, m.deletions, m.streamEnds,
			m.trackedAccounts, m.state,
		)
	}
	return m
}

func (m *Metrics) setState(s State) {
	for _, st := range []State{StateDisconnected, StateConnecting, StateStreaming, StateBackoff} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}
