// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New("ballotbox", reg)
	require.NoError(t, err)

	m.VoteCast()
	m.VoteCast()
	m.AdmissionRejected("rate_limit")
	m.SubscriberAdded()

	require.Equal(t, 2.0, testutil.ToFloat64(m.votesCast))
	require.Equal(t, 1.0, testutil.ToFloat64(m.admissionsRejected.WithLabelValues("rate_limit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.liveSubscribers))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNewTwiceOnSameRegistryFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New("ballotbox", reg)
	require.NoError(t, err)

	_, err = New("ballotbox", reg)
	require.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.VoteCast()
		m.VoteRejected("conflict")
		m.AdmissionRejected("automation")
		m.EditApplied()
		m.EditConflict()
		m.SubscriberAdded()
		m.SubscriberRemoved()
		m.PushDropped()
		m.PollCompleted()
		m.ObserveSweep(0.5)
	})
}
