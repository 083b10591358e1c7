// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const memoryUsageQuery = "avg(last_5m):avg:azure.iot_edge.edge_agent.used_memory{*} by {host}.rollup(max, 60) / " +
	"avg:azure.iot_edge.edge_agent.total_memory{*} by {host}.rollup(max, 60) * 100 > 80"

func TestParseMemoryUsageQuery(t *testing.T) {
	q, err := Parse(memoryUsageQuery)
	require.NoError(t, err)

	require.Equal(t, AvgAggregator, q.WindowAggregator)
	require.Equal(t, Window{Raw: "last_5m", Duration: 5 * time.Minute}, q.Window)
	require.Equal(t, GreaterThan, q.Comparator)
	require.Equal(t, 80.0, q.Threshold)
	require.Equal(t, []string{"host"}, q.GroupBy())

	metrics := q.Metrics()
	require.Len(t, metrics, 2)

	require.Equal(t, "azure.iot_edge.edge_agent.used_memory", metrics[0].Metric)
	require.Equal(t, "azure.iot_edge.edge_agent.total_memory", metrics[1].Metric)

	for _, metric := range metrics {
		require.Equal(t, AvgAggregator, metric.SpaceAggregator)
		require.Equal(t, "*", metric.Scope)
		require.Equal(t, []string{"host"}, metric.GroupBy)
		require.NotNil(t, metric.Rollup)
		require.Equal(t, MaxRollup, metric.Rollup.Func)
		require.Equal(t, time.Minute, metric.Rollup.Interval)
	}
}

func TestParseRendersCanonicalForm(t *testing.T) {
	q, err := Parse(memoryUsageQuery)
	require.NoError(t, err)
	require.Equal(t, memoryUsageQuery, q.String())
}

func TestParseErrors(t *testing.T) {
	type testCase struct {
		name  string
		query string
	}

	cases := []testCase{
		{
			name:  "empty",
			query: "",
		},
		{
			name:  "unknownWindowAggregator",
			query: "median(last_5m):avg:metric{*} > 1",
		},
		{
			name:  "invalidWindow",
			query: "avg(five_minutes):avg:metric{*} > 1",
		},
		{
			name:  "missingScope",
			query: "avg(last_5m):avg:metric > 1",
		},
		{
			name:  "emptyScope",
			query: "avg(last_5m):avg:metric{} > 1",
		},
		{
			name:  "unknownRollup",
			query: "avg(last_5m):avg:metric{*}.rollup(p99, 60) > 1",
		},
		{
			name:  "fractionalRollupInterval",
			query: "avg(last_5m):avg:metric{*}.rollup(max, 0.5) > 1",
		},
		{
			name:  "missingComparator",
			query: "avg(last_5m):avg:metric{*}",
		},
		{
			name:  "missingThreshold",
			query: "avg(last_5m):avg:metric{*} >",
		},
		{
			name:  "trailingInput",
			query: "avg(last_5m):avg:metric{*} > 1 garbage",
		},
		{
			name:  "mixedGroupings",
			query: "avg(last_5m):avg:a{*} by {host} / avg:b{*} by {device} > 1",
		},
		{
			name:  "noMetricTerms",
			query: "avg(last_5m):100 > 1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.query)
			require.Error(t, err)
		})
	}
}

func TestParseWindows(t *testing.T) {
	type testCase struct {
		raw      string
		expected time.Duration
	}

	cases := []testCase{
		{raw: "last_30s", expected: 30 * time.Second},
		{raw: "last_5m", expected: 5 * time.Minute},
		{raw: "last_2h", expected: 2 * time.Hour},
		{raw: "last_1d", expected: 24 * time.Hour},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			window, err := parseWindow(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.expected, window.Duration)
		})
	}
}

func TestScopePairs(t *testing.T) {
	mq := &MetricQuery{Scope: "*"}
	pairs, err := mq.ScopePairs()
	require.NoError(t, err)
	require.Nil(t, pairs)

	mq = &MetricQuery{Scope: "device:edge-01, env:prod"}
	pairs, err = mq.ScopePairs()
	require.NoError(t, err)
	require.Equal(t, [][2]string{{"device", "edge-01"}, {"env", "prod"}}, pairs)

	mq = &MetricQuery{Scope: "nonsense"}
	_, err = mq.ScopePairs()
	require.Error(t, err)
}

func TestApplyRollup(t *testing.T) {
	series := Series{
		{Timestamp: 0, Value: 10},
		{Timestamp: 30, Value: 50},
		{Timestamp: 60, Value: 20},
		{Timestamp: 119, Value: 40},
	}

	rolled := applyRollup(&Rollup{Func: MaxRollup, Interval: time.Minute}, series)
	require.Equal(t, Series{{Timestamp: 0, Value: 50}, {Timestamp: 60, Value: 40}}, rolled)

	rolled = applyRollup(&Rollup{Func: CountRollup, Interval: time.Minute}, series)
	require.Equal(t, Series{{Timestamp: 0, Value: 2}, {Timestamp: 60, Value: 2}}, rolled)

	require.Equal(t, series, applyRollup(nil, series))
}

func TestEvaluateRatioQuery(t *testing.T) {
	q, err := Parse(memoryUsageQuery)
	require.NoError(t, err)

	metrics := q.Metrics()
	series := map[*MetricQuery]Series{
		// two rollup buckets, the first has two raw points so max applies
		metrics[0]: {
			{Timestamp: 0, Value: 600},
			{Timestamp: 30, Value: 900},
			{Timestamp: 60, Value: 850},
		},
		metrics[1]: {
			{Timestamp: 0, Value: 1000},
			{Timestamp: 30, Value: 1000},
			{Timestamp: 60, Value: 1000},
		},
	}

	// bucket values: 900/1000 and 850/1000, scaled to percentages then averaged
	value, err := q.Evaluate(series)
	require.NoError(t, err)
	require.InDelta(t, 87.5, value, 0.0001)
	require.True(t, q.Triggered(value))
}

func TestEvaluateDropsUnmatchedBuckets(t *testing.T) {
	q, err := Parse("avg(last_5m):avg:a{*} by {host} / avg:b{*} by {host} > 10")
	require.NoError(t, err)

	metrics := q.Metrics()
	series := map[*MetricQuery]Series{
		metrics[0]: {{Timestamp: 0, Value: 100}, {Timestamp: 60, Value: 300}},
		metrics[1]: {{Timestamp: 0, Value: 10}},
	}

	value, err := q.Evaluate(series)
	require.NoError(t, err)
	require.Equal(t, 10.0, value)
	require.False(t, q.Triggered(value))
}

func TestEvaluateDivisionByZero(t *testing.T) {
	q, err := Parse("avg(last_5m):avg:a{*} / avg:b{*} > 10")
	require.NoError(t, err)

	metrics := q.Metrics()
	series := map[*MetricQuery]Series{
		metrics[0]: {{Timestamp: 0, Value: 100}},
		metrics[1]: {{Timestamp: 0, Value: 0}},
	}

	// the only bucket is dropped so there is nothing left to aggregate
	_, err = q.Evaluate(series)
	require.ErrorIs(t, err, ErrNoData)
}

func TestEvaluateNoData(t *testing.T) {
	q, err := Parse("avg(last_5m):avg:a{*} > 10")
	require.NoError(t, err)

	_, err = q.Evaluate(map[*MetricQuery]Series{})
	require.ErrorIs(t, err, ErrNoData)
}

func TestComparatorExceeds(t *testing.T) {
	require.True(t, GreaterThan.Exceeds(81, 80))
	require.False(t, GreaterThan.Exceeds(80, 80))
	require.True(t, GreaterThanEqual.Exceeds(80, 80))
	require.True(t, LessThan.Exceeds(5, 10))
	require.False(t, LessThan.Exceeds(10, 10))
	require.True(t, LessThanEqual.Exceeds(10, 10))
}
