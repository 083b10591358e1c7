// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

// Package promsource evaluates metric terms against a Prometheus server.
package promsource

import (
	"context"
	"fmt"
	"strings"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/couchbaselabs/monitormanager/pkg/query"
	"github.com/couchbaselabs/monitormanager/pkg/values"
)

// DefaultStep is the sample resolution asked of Prometheus when the metric term has no rollup of its own.
const DefaultStep = time.Minute

// promAPI is a subset of promv1.API, meant to facilitate mocking for tests.
type promAPI interface {
	QueryRange(ctx context.Context, query string, r promv1.Range) (model.Value, promv1.Warnings, error)
}

type Source struct {
	prom promAPI
}

func NewSource(baseURL string) (*Source, error) {
	client, err := promapi.NewClient(promapi.Config{
		Address: baseURL,
	})
	if err != nil {
		return nil, err
	}

	return &Source{prom: promv1.NewAPI(client)}, nil
}

func (s *Source) Series(ctx context.Context, metric *query.MetricQuery, start, end time.Time) (
	map[string]query.Series, error,
) {
	promQL, err := translate(metric)
	if err != nil {
		return nil, err
	}

	step := DefaultStep
	if metric.Rollup != nil && metric.Rollup.Interval < step {
		step = metric.Rollup.Interval
	}

	value, warnings, err := s.prom.QueryRange(ctx, promQL, promv1.Range{Start: start, End: end, Step: step})
	if err != nil {
		return nil, fmt.Errorf("could not query Prometheus: %w", err)
	}

	if len(warnings) > 0 {
		zap.S().Warnw("(Prometheus Source) Query returned warnings", "query", promQL, "warnings", warnings)
	}

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s", value.Type())
	}

	out := make(map[string]query.Series, len(matrix))
	for _, stream := range matrix {
		points := make(query.Series, 0, len(stream.Values))
		for _, sample := range stream.Values {
			points = append(points, query.Point{Timestamp: sample.Timestamp.Unix(), Value: float64(sample.Value)})
		}

		out[groupKey(metric, stream.Metric)] = points
	}

	return out, nil
}

// translate renders the metric term as a PromQL expression. Metric and dimension names use dots which Prometheus
// does not allow in identifiers, so they get mapped to underscores.
func translate(metric *query.MetricQuery) (string, error) {
	pairs, err := metric.ScopePairs()
	if err != nil {
		return "", err
	}

	matchers := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		matchers = append(matchers, fmt.Sprintf("%s=%q", promName(pair[0]), pair[1]))
	}

	selector := promName(metric.Metric)
	if len(matchers) > 0 {
		selector += "{" + strings.Join(matchers, ",") + "}"
	}

	if len(metric.GroupBy) == 0 {
		return fmt.Sprintf("%s(%s)", metric.SpaceAggregator, selector), nil
	}

	groups := make([]string, len(metric.GroupBy))
	for i, group := range metric.GroupBy {
		groups[i] = promName(group)
	}

	return fmt.Sprintf("%s by (%s) (%s)", metric.SpaceAggregator, strings.Join(groups, ", "), selector), nil
}

// groupKey rebuilds the "dim:value" group key out of the labels of one result stream.
func groupKey(metric *query.MetricQuery, labels model.Metric) string {
	if len(metric.GroupBy) == 0 {
		return values.UngroupedKey
	}

	parts := make([]string, len(metric.GroupBy))
	for i, group := range metric.GroupBy {
		parts[i] = group + ":" + string(labels[model.LabelName(promName(group))])
	}

	return strings.Join(parts, ",")
}

func promName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}
