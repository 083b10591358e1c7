// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/couchbaselabs/monitormanager/pkg/query"
	"github.com/couchbaselabs/monitormanager/pkg/statistics"
	"github.com/couchbaselabs/monitormanager/pkg/storage"
	"github.com/couchbaselabs/monitormanager/pkg/values"

	"go.uber.org/zap"
)

// Evaluator is the structure that will be in charge of periodically evaluating the stored monitors.
type Evaluator struct {
	store  storage.Store
	source Source

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	workStream chan *values.Monitor
	numWorkers int
	workerWg   sync.WaitGroup

	// now gets swapped out in tests
	now func() time.Time
}

func NewEvaluator(store storage.Store, source Source, workers int) *Evaluator {
	return &Evaluator{store: store, source: source, numWorkers: workers, now: time.Now}
}

func (e *Evaluator) Start(frequency time.Duration) {
	// evaluator already running
	if e.ctx != nil {
		return
	}

	zap.S().Infow("(Evaluator) Starting evaluator", "frequency", frequency)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.wg.Add(1)
	go e.evaluationLoop(frequency)
}

func (e *Evaluator) Stop() {
	// not running
	if e.ctx == nil {
		return
	}

	zap.S().Info("(Evaluator) Stopping evaluator")
	e.cancel()
	e.wg.Wait()
	e.ctx, e.cancel = nil, nil
}

func (e *Evaluator) evaluationLoop(frequency time.Duration) {
	ticker := time.NewTicker(frequency)
	defer func() {
		e.wg.Done()
		ticker.Stop()
	}()

	for {
		select {
		case <-ticker.C:
			if err := e.doEvaluation(); err != nil {
				zap.S().Warnw("(Evaluator) There was an issue evaluating the monitors", "err", err.Error())
			}
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Evaluator) doEvaluation() error {
	zap.S().Infow("(Evaluator) Starting evaluation run")
	start := time.Now()
	monitors, err := e.store.GetMonitors()
	if err != nil {
		return fmt.Errorf("could not get monitors to evaluate: %w", err)
	}

	e.workStream = make(chan *values.Monitor)
	// start the workers
	for i := 0; i < e.numWorkers; i++ {
		e.workerWg.Add(1)
		go e.evaluationWorkerFn()
	}

	// send the data
	for _, monitor := range monitors {
		e.workStream <- monitor
	}

	close(e.workStream)

	// to avoid starting the next run before finishing this one we wait until all the workers are done
	e.workerWg.Wait()

	zap.S().Debugw("(Evaluator) Evaluation run finished", "elapsed", time.Since(start).String(), "#monitors",
		len(monitors))
	return nil
}

func (e *Evaluator) evaluationWorkerFn() {
	defer e.workerWg.Done()

	for monitor := range e.workStream {
		if err := e.EvaluateMonitor(e.ctx, monitor); err != nil {
			zap.S().Errorw("(Evaluator) Could not evaluate monitor", "id", monitor.ID, "err", err)
		}
	}
}

// EvaluateMonitor runs one evaluation pass for every group of the given monitor and persists the results.
func (e *Evaluator) EvaluateMonitor(ctx context.Context, monitor *values.Monitor) error {
	q, err := query.Parse(monitor.Query)
	if err != nil {
		statistics.EvaluationError(monitor)
		return fmt.Errorf("could not parse query: %w", err)
	}

	now := e.now()
	windowStart := now.Add(-q.Window.Duration)

	metrics := q.Metrics()
	grouped := make([]map[string]query.Series, len(metrics))
	for i, metric := range metrics {
		grouped[i], err = e.source.Series(ctx, metric, windowStart, now)
		if err != nil {
			statistics.EvaluationError(monitor)
			return fmt.Errorf("could not fetch series for %q: %w", metric.Metric, err)
		}
	}

	states, err := e.store.GetMonitorStates(values.StateSearch{MonitorID: &monitor.ID})
	if err != nil {
		return fmt.Errorf("could not get previous states: %w", err)
	}

	previous := make(map[string]*values.MonitorState, len(states))
	for _, state := range states {
		previous[state.Group] = state
	}

	// only groups every metric term has samples for can be evaluated
	for _, group := range intersectGroups(grouped) {
		series := make(map[*query.MetricQuery]query.Series, len(metrics))
		for i, metric := range metrics {
			series[metric] = grouped[i][group]
		}

		e.evaluateGroup(monitor, q, group, series, previous[group], now, windowStart)
		delete(previous, group)
	}

	// anything left over had a state but produced no samples this run
	for _, state := range previous {
		e.handleMissingData(monitor, state, now)
	}

	return nil
}

func (e *Evaluator) evaluateGroup(monitor *values.Monitor, q *query.Query, group string,
	series map[*query.MetricQuery]query.Series, prev *values.MonitorState, now, windowStart time.Time,
) {
	state := prev
	if state == nil {
		state = &values.MonitorState{
			MonitorID: monitor.ID,
			Group:     group,
			Status:    values.OKMonitorStatus,
			FirstSeen: now,
		}
	}

	state.LastEvaluated = now
	if newest, ok := newestSample(series); ok {
		state.LastDataAt = newest
	}

	opts := &monitor.Options
	if group != values.UngroupedKey && opts.NewHostDelay > 0 &&
		now.Sub(state.FirstSeen) < time.Duration(opts.NewHostDelay)*time.Second {
		zap.S().Debugw("(Evaluator) Group inside new host grace period", "id", monitor.ID, "group", group)
		e.persist(monitor, state)
		return
	}

	if opts.RequireFullWindow && !spansWindow(series, windowStart) {
		zap.S().Debugw("(Evaluator) Group samples do not span the window", "id", monitor.ID, "group", group)
		e.persist(monitor, state)
		return
	}

	value, err := q.Evaluate(series)
	if errors.Is(err, query.ErrNoData) {
		e.handleMissingData(monitor, state, now)
		return
	} else if err != nil {
		zap.S().Warnw("(Evaluator) Could not evaluate group", "id", monitor.ID, "group", group, "err", err)
		statistics.EvaluationError(monitor)
		return
	}

	state.Value = value
	transition(state, nextStatus(state.Status, value, q.Comparator, opts.Thresholds), now)
	e.persist(monitor, state)
}

// handleMissingData decides what happens to a group that produced no samples. The state only moves to no data
// once the gap is long enough and the monitor asked for it, otherwise it keeps its last status.
func (e *Evaluator) handleMissingData(monitor *values.Monitor, state *values.MonitorState, now time.Time) {
	state.LastEvaluated = now

	opts := &monitor.Options
	if opts.NotifyNoData && opts.NoDataTimeframe != nil &&
		now.Sub(state.LastDataAt) >= time.Duration(*opts.NoDataTimeframe)*time.Minute {
		transition(state, values.NoDataMonitorStatus, now)
	} else if opts.TimedOut(state, now) {
		transition(state, values.OKMonitorStatus, now)
	}

	e.persist(monitor, state)
}

func (e *Evaluator) persist(monitor *values.Monitor, state *values.MonitorState) {
	if err := e.store.SetMonitorState(state); err != nil {
		zap.S().Errorw("(Evaluator) Could not persist monitor state", "id", monitor.ID, "group", state.Group,
			"err", err)
		return
	}

	statistics.EvaluationStatus(monitor, state)
}

// intersectGroups returns the group keys present in every metric term's result, sorted for deterministic runs.
func intersectGroups(grouped []map[string]query.Series) []string {
	if len(grouped) == 0 {
		return nil
	}

	out := make([]string, 0, len(grouped[0]))
	for group := range grouped[0] {
		found := true
		for _, other := range grouped[1:] {
			if _, ok := other[group]; !ok {
				found = false
				break
			}
		}

		if found {
			out = append(out, group)
		}
	}

	slices.Sort(out)
	return out
}

// spansWindow checks every metric term has a sample near the start of the evaluation window. The slack is one
// rollup interval as that is the resolution the samples get bucketed to anyway.
func spansWindow(series map[*query.MetricQuery]query.Series, windowStart time.Time) bool {
	for metric, points := range series {
		if len(points) == 0 {
			return false
		}

		slack := time.Minute
		if metric.Rollup != nil {
			slack = metric.Rollup.Interval
		}

		if time.Unix(points[0].Timestamp, 0).After(windowStart.Add(slack)) {
			return false
		}
	}

	return true
}

func newestSample(series map[*query.MetricQuery]query.Series) (time.Time, bool) {
	var newest int64
	for _, points := range series {
		for _, point := range points {
			if point.Timestamp > newest {
				newest = point.Timestamp
			}
		}
	}

	if newest == 0 {
		return time.Time{}, false
	}

	return time.Unix(newest, 0), true
}
