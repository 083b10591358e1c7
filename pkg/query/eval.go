// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package query

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrNoData is returned when an evaluation window contains no usable points.
var ErrNoData = errors.New("no data points in evaluation window")

// Point is a single sample of a metric series. The timestamp is in unix seconds.
type Point struct {
	Timestamp int64
	Value     float64
}

// Series is a time ordered set of points for a single group of a single metric.
type Series []Point

// Expr is a node of the arithmetic expression between the window aggregator and the comparator.
type Expr interface {
	render(sb *strings.Builder)
	collectMetrics(out *[]*MetricQuery)
	eval(series map[*MetricQuery]Series) (evalValue, error)
}

// evalValue is either a series or a scalar. Scalars come from numeric literals and are broadcast across the
// points of the series they are combined with.
type evalValue struct {
	series Series
	scalar float64
}

func (v evalValue) isScalar() bool {
	return v.series == nil
}

type metricExpr struct {
	mq *MetricQuery
}

func (e *metricExpr) render(sb *strings.Builder) {
	e.mq.render(sb)
}

func (e *metricExpr) collectMetrics(out *[]*MetricQuery) {
	*out = append(*out, e.mq)
}

func (e *metricExpr) eval(series map[*MetricQuery]Series) (evalValue, error) {
	s, ok := series[e.mq]
	if !ok || len(s) == 0 {
		return evalValue{}, fmt.Errorf("metric %s: %w", e.mq.Metric, ErrNoData)
	}

	return evalValue{series: applyRollup(e.mq.Rollup, s)}, nil
}

type literalExpr struct {
	value float64
}

func (e *literalExpr) render(sb *strings.Builder) {
	sb.WriteString(strconv.FormatFloat(e.value, 'f', -1, 64))
}

func (e *literalExpr) collectMetrics(_ *[]*MetricQuery) {}

func (e *literalExpr) eval(_ map[*MetricQuery]Series) (evalValue, error) {
	return evalValue{scalar: e.value}, nil
}

type groupExpr struct {
	inner Expr
}

func (e *groupExpr) render(sb *strings.Builder) {
	sb.WriteByte('(')
	e.inner.render(sb)
	sb.WriteByte(')')
}

func (e *groupExpr) collectMetrics(out *[]*MetricQuery) {
	e.inner.collectMetrics(out)
}

func (e *groupExpr) eval(series map[*MetricQuery]Series) (evalValue, error) {
	return e.inner.eval(series)
}

type binaryExpr struct {
	op       byte
	lhs, rhs Expr
}

func (e *binaryExpr) render(sb *strings.Builder) {
	e.lhs.render(sb)
	fmt.Fprintf(sb, " %c ", e.op)
	e.rhs.render(sb)
}

func (e *binaryExpr) collectMetrics(out *[]*MetricQuery) {
	e.lhs.collectMetrics(out)
	e.rhs.collectMetrics(out)
}

func (e *binaryExpr) eval(series map[*MetricQuery]Series) (evalValue, error) {
	lhs, err := e.lhs.eval(series)
	if err != nil {
		return evalValue{}, err
	}

	rhs, err := e.rhs.eval(series)
	if err != nil {
		return evalValue{}, err
	}

	switch {
	case lhs.isScalar() && rhs.isScalar():
		value, ok := apply(e.op, lhs.scalar, rhs.scalar)
		if !ok {
			return evalValue{}, fmt.Errorf("division by zero in constant expression")
		}
		return evalValue{scalar: value}, nil
	case lhs.isScalar():
		return evalValue{series: mapSeries(rhs.series, func(v float64) (float64, bool) {
			return apply(e.op, lhs.scalar, v)
		})}, nil
	case rhs.isScalar():
		return evalValue{series: mapSeries(lhs.series, func(v float64) (float64, bool) {
			return apply(e.op, v, rhs.scalar)
		})}, nil
	default:
		return evalValue{series: combineSeries(e.op, lhs.series, rhs.series)}, nil
	}
}

func apply(op byte, lhs, rhs float64) (float64, bool) {
	switch op {
	case '+':
		return lhs + rhs, true
	case '-':
		return lhs - rhs, true
	case '*':
		return lhs * rhs, true
	case '/':
		if rhs == 0 {
			return 0, false
		}
		return lhs / rhs, true
	default:
		return 0, false
	}
}

func mapSeries(s Series, fn func(float64) (float64, bool)) Series {
	out := make(Series, 0, len(s))
	for _, point := range s {
		value, ok := fn(point.Value)
		if !ok {
			continue
		}

		out = append(out, Point{Timestamp: point.Timestamp, Value: value})
	}

	return out
}

// combineSeries applies the operation point-wise on timestamps present in both series. Points with no counterpart
// are dropped, as are points the operation cannot be applied to (division by zero).
func combineSeries(op byte, lhs, rhs Series) Series {
	byTimestamp := make(map[int64]float64, len(rhs))
	for _, point := range rhs {
		byTimestamp[point.Timestamp] = point.Value
	}

	out := make(Series, 0, len(lhs))
	for _, point := range lhs {
		other, ok := byTimestamp[point.Timestamp]
		if !ok {
			continue
		}

		value, ok := apply(op, point.Value, other)
		if !ok {
			continue
		}

		out = append(out, Point{Timestamp: point.Timestamp, Value: value})
	}

	return out
}

// applyRollup buckets the series by the rollup interval and reduces each bucket with the rollup function. A nil
// rollup leaves the series untouched.
func applyRollup(rollup *Rollup, s Series) Series {
	if rollup == nil {
		return s
	}

	interval := int64(rollup.Interval.Seconds())
	buckets := make(map[int64][]float64)
	for _, point := range s {
		bucket := point.Timestamp - point.Timestamp%interval
		buckets[bucket] = append(buckets[bucket], point.Value)
	}

	out := make(Series, 0, len(buckets))
	for bucket, values := range buckets {
		out = append(out, Point{Timestamp: bucket, Value: rollupValue(rollup.Func, values)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func rollupValue(fn RollupFunc, values []float64) float64 {
	if fn == CountRollup {
		return float64(len(values))
	}

	return Aggregator(fn).Apply(values)
}

// Evaluate computes the value of the query for one group given the raw series of each metric term, keyed by the
// pointers returned from Metrics. The expression is combined point-wise first, then reduced with the window
// aggregator.
func (q *Query) Evaluate(series map[*MetricQuery]Series) (float64, error) {
	value, err := q.Expr.eval(series)
	if err != nil {
		return 0, err
	}

	if value.isScalar() {
		return value.scalar, nil
	}

	if len(value.series) == 0 {
		return 0, ErrNoData
	}

	values := make([]float64, len(value.series))
	for i, point := range value.series {
		values[i] = point.Value
	}

	return q.WindowAggregator.Apply(values), nil
}
