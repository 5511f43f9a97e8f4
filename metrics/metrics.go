// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. A nil *Metrics is valid and records
// nothing, so packages can be used without a registry in tests.
type Metrics struct {
	votesCast          prometheus.Counter
	votesRejected      *prometheus.CounterVec
	admissionsRejected *prometheus.CounterVec
	editsApplied       prometheus.Counter
	editConflicts      prometheus.Counter
	liveSubscribers    prometheus.Gauge
	pushesDropped      prometheus.Counter
	pollsCompleted     prometheus.Counter
	sweepDuration      prometheus.Histogram
}

// New creates the collectors and registers them with registerer.
func New(namespace string, registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		votesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_cast",
			Help:      "Number of ballots committed",
		}),
		votesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "votes_rejected",
				Help:      "Number of vote attempts refused, by error kind",
			},
			[]string{"kind"},
		),
		admissionsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_rejected",
				Help:      "Number of requests refused by the admission guard, by reason",
			},
			[]string{"reason"},
		),
		editsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_applied",
			Help:      "Number of poll edits committed",
		}),
		editConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_conflicts",
			Help:      "Number of poll edits refused for a stale revision",
		}),
		liveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_subscribers",
			Help:      "Number of open live tally subscriptions",
		}),
		pushesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tally_pushes_dropped",
			Help:      "Number of tally pushes dropped for slow subscribers",
		}),
		pollsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_completed",
			Help:      "Number of polls whose completion was processed",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Time spent in one lifecycle sweep",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	err := errors.Join(
		registerer.Register(m.votesCast),
		registerer.Register(m.votesRejected),
		registerer.Register(m.admissionsRejected),
		registerer.Register(m.editsApplied),
		registerer.Register(m.editConflicts),
		registerer.Register(m.liveSubscribers),
		registerer.Register(m.pushesDropped),
		registerer.Register(m.pollsCompleted),
		registerer.Register(m.sweepDuration),
	)
	return m, err
}

func (m *Metrics) VoteCast() {
	if m != nil {
		m.votesCast.Inc()
	}
}

func (m *Metrics) VoteRejected(kind string) {
	if m != nil {
		m.votesRejected.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) AdmissionRejected(reason string) {
	if m != nil {
		m.admissionsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) EditApplied() {
	if m != nil {
		m.editsApplied.Inc()
	}
}

func (m *Metrics) EditConflict() {
	if m != nil {
		m.editConflicts.Inc()
	}
}

func (m *Metrics) SubscriberAdded() {
	if m != nil {
		m.liveSubscribers.Inc()
	}
}

func (m *Metrics) SubscriberRemoved() {
	if m != nil {
		m.liveSubscribers.Dec()
	}
}

func (m *Metrics) PushDropped() {
	if m != nil {
		m.pushesDropped.Inc()
	}
}

func (m *Metrics) PollCompleted() {
	if m != nil {
		m.pollsCompleted.Inc()
	}
}

// ObserveSweep records how long one sweep took, in seconds.
func (m *Metrics) ObserveSweep(seconds float64) {
	if m != nil {
		m.sweepDuration.Observe(seconds)
	}
}
