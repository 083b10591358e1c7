// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

// Package query implements parsing and evaluation of the metric query language used by query alert monitors.
//
// A query has the shape
//
//	avg(last_5m):avg:some.metric{*} by {host}.rollup(max, 60) / avg:other.metric{*} by {host}.rollup(max, 60) * 100 > 80
//
// which reads as: every evaluation cycle take the last five minutes of both metrics, roll each up into 60 second
// buckets keeping the bucket maximum, divide them bucket by bucket per host, scale to a percentage, average the
// resulting window and compare against 80.
package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Aggregator is a function used to reduce a set of values to a single one. It is used both for the evaluation
// window aggregation and for the space aggregation of a single metric.
type Aggregator string

const (
	AvgAggregator Aggregator = "avg"
	MinAggregator Aggregator = "min"
	MaxAggregator Aggregator = "max"
	SumAggregator Aggregator = "sum"
)

func (a Aggregator) valid() bool {
	switch a {
	case AvgAggregator, MinAggregator, MaxAggregator, SumAggregator:
		return true
	default:
		return false
	}
}

// Apply reduces the given values.
func (a Aggregator) Apply(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	switch a {
	case MinAggregator:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min
	case MaxAggregator:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max
	case SumAggregator, AvgAggregator:
		var sum float64
		for _, v := range values {
			sum += v
		}
		if a == SumAggregator {
			return sum
		}
		return sum / float64(len(values))
	default:
		return 0
	}
}

// RollupFunc is the aggregation applied to the points that fall in one rollup bucket.
type RollupFunc string

const (
	AvgRollup   RollupFunc = "avg"
	MinRollup   RollupFunc = "min"
	MaxRollup   RollupFunc = "max"
	SumRollup   RollupFunc = "sum"
	CountRollup RollupFunc = "count"
)

func (r RollupFunc) valid() bool {
	switch r {
	case AvgRollup, MinRollup, MaxRollup, SumRollup, CountRollup:
		return true
	default:
		return false
	}
}

// Comparator is the trailing comparison operator of a query.
type Comparator string

const (
	GreaterThan      Comparator = ">"
	GreaterThanEqual Comparator = ">="
	LessThan         Comparator = "<"
	LessThanEqual    Comparator = "<="
)

// Exceeds returns true if the given value is past the threshold in the alerting direction of the comparator.
func (c Comparator) Exceeds(value, threshold float64) bool {
	switch c {
	case GreaterThan:
		return value > threshold
	case GreaterThanEqual:
		return value >= threshold
	case LessThan:
		return value < threshold
	case LessThanEqual:
		return value <= threshold
	default:
		return false
	}
}

// Window is the evaluation window of a query, e.g. "last_5m".
type Window struct {
	Raw      string
	Duration time.Duration
}

// Rollup reduces a raw series into fixed interval buckets before any arithmetic is done.
type Rollup struct {
	Func     RollupFunc
	Interval time.Duration
}

// MetricQuery is a single metric term within a query expression.
type MetricQuery struct {
	// SpaceAggregator combines points from different series that share a group (e.g. multiple containers on one
	// host).
	SpaceAggregator Aggregator
	// Metric is the metric name, e.g. "azure.iot_edge.edge_agent.used_memory".
	Metric string
	// Scope is the raw filter between the braces. "*" means no filter.
	Scope string
	// GroupBy is the list of dimensions results are split by. Empty means a single ungrouped series.
	GroupBy []string
	// Rollup is optional. When nil points are used as they come in.
	Rollup *Rollup
}

// ScopePairs splits the scope filter into key/value pairs. A scope of "*" yields nil.
func (m *MetricQuery) ScopePairs() ([][2]string, error) {
	if m.Scope == "*" || m.Scope == "" {
		return nil, nil
	}

	parts := strings.Split(m.Scope, ",")
	pairs := make([][2]string, 0, len(parts))
	for _, part := range parts {
		key, value, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found || key == "" || value == "" {
			return nil, fmt.Errorf("invalid scope filter %q", part)
		}

		pairs = append(pairs, [2]string{key, value})
	}

	return pairs, nil
}

func (m *MetricQuery) render(sb *strings.Builder) {
	sb.WriteString(string(m.SpaceAggregator))
	sb.WriteByte(':')
	sb.WriteString(m.Metric)
	sb.WriteByte('{')
	sb.WriteString(m.Scope)
	sb.WriteByte('}')

	if len(m.GroupBy) != 0 {
		sb.WriteString(" by {")
		sb.WriteString(strings.Join(m.GroupBy, ","))
		sb.WriteByte('}')
	}

	if m.Rollup != nil {
		fmt.Fprintf(sb, ".rollup(%s, %d)", m.Rollup.Func, int(m.Rollup.Interval.Seconds()))
	}
}

// Query is a fully parsed monitor query.
type Query struct {
	WindowAggregator Aggregator
	Window           Window
	Expr             Expr
	Comparator       Comparator
	Threshold        float64
}

// Metrics returns the metric terms of the expression in the order they appear.
func (q *Query) Metrics() []*MetricQuery {
	var out []*MetricQuery
	q.Expr.collectMetrics(&out)
	return out
}

// GroupBy returns the grouping shared by every metric term. Parse guarantees all terms agree.
func (q *Query) GroupBy() []string {
	for _, m := range q.Metrics() {
		if len(m.GroupBy) != 0 {
			return m.GroupBy
		}
	}

	return nil
}

// Triggered returns whether the given evaluated value is past the alerting threshold.
func (q *Query) Triggered(value float64) bool {
	return q.Comparator.Exceeds(value, q.Threshold)
}

// String renders the query back in its canonical form.
func (q *Query) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(%s):", q.WindowAggregator, q.Window.Raw)
	q.Expr.render(&sb)
	sb.WriteByte(' ')
	sb.WriteString(string(q.Comparator))
	sb.WriteByte(' ')
	sb.WriteString(strconv.FormatFloat(q.Threshold, 'f', -1, 64))
	return sb.String()
}
