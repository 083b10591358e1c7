// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchbase/tools-common/errdefs"
	"go.uber.org/zap"

	"github.com/couchbaselabs/monitormanager/pkg/storage"
	"github.com/couchbaselabs/monitormanager/pkg/values"
)

// Janitor is in charge of cleaning up stale data periodically.
type Janitor struct {
	store storage.Store

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	shiftStart chan struct{}

	cfg Config
}

type Config struct {
	// StaleStateMaxAge is how long a resolved group state may go without being evaluated before its row is
	// dropped. This is what reaps states for hosts that have gone away for good. 0 disables the reaping.
	StaleStateMaxAge time.Duration
}

var DefaultConfig = Config{
	StaleStateMaxAge: 24 * time.Hour,
}

func NewJanitor(store storage.Store, cfg Config) *Janitor {
	return &Janitor{
		store:      store,
		cfg:        cfg,
		shiftStart: make(chan struct{}, 20),
	}
}

// Start starts the janitor cleanup duty.
func (j *Janitor) Start(frequency time.Duration) {
	if j.ctx != nil {
		return
	}

	j.ctx, j.cancel = context.WithCancel(context.Background())
	j.wg.Add(1)
	go j.periodicCleanUp(frequency)
}

func (j *Janitor) Stop() {
	if j.ctx == nil {
		return
	}

	j.cancel()
	j.wg.Wait()
	j.ctx, j.cancel = nil, nil
}

func (j *Janitor) ForceShift() {
	j.shiftStart <- struct{}{}
}

func (j *Janitor) periodicCleanUp(frequency time.Duration) {
	ticker := time.NewTicker(frequency)
	defer func() {
		ticker.Stop()
		j.wg.Done()
	}()

	for {
		select {
		case <-j.shiftStart:
			j.doCleanUp()
		case <-ticker.C:
			j.doCleanUp()
		case <-j.ctx.Done():
			return
		}
	}
}

func (j *Janitor) doCleanUp() {
	zap.S().Infow("(Janitor) Shift started")
	start := time.Now()
	j.cleanStore()
	zap.S().Debugw("(Janitor) Shift ended", "elapsed", time.Since(start).String())
}

func (j *Janitor) cleanStore() {
	removed, err := j.store.DeleteExpiredSilences()
	reportCleanUp("expired silences", removed, err)

	monitors, err := j.store.GetMonitors()
	if err != nil {
		zap.S().Errorw("(Janitor) Could not get monitors", "err", err)
		return
	}

	knownIDs := make([]string, len(monitors))
	for i, monitor := range monitors {
		knownIDs[i] = monitor.ID
	}

	removed, err = j.store.DeleteStatesForUnknownMonitors(knownIDs)
	reportCleanUp("states for deleted monitors", removed, err)

	removed, err = j.store.DeleteSilencesForUnknownMonitors(knownIDs)
	reportCleanUp("silences for deleted monitors", removed, err)

	for _, monitor := range monitors {
		j.cleanMonitorStates(monitor)
	}
}

// cleanMonitorStates applies the per monitor state rules: auto resolving alerts stuck past timeout_h and
// dropping the rows of groups that have been gone for longer than the stale state age.
func (j *Janitor) cleanMonitorStates(monitor *values.Monitor) {
	states, err := j.store.GetMonitorStates(values.StateSearch{MonitorID: &monitor.ID})
	if err != nil {
		reportCleanUp("monitor states", 0, fmt.Errorf("could not get states for %s: %w", monitor.ID, err))
		return
	}

	now := time.Now()
	var resolved, dropped int64
	errs := &errdefs.MultiError{}

	for _, state := range states {
		if monitor.Options.TimedOut(state, now) {
			resolvedAt := now
			state.Status = values.OKMonitorStatus
			state.TriggeredAt = nil
			state.LastNotified = nil
			state.ResolvedAt = &resolvedAt

			if err = j.store.SetMonitorState(state); err != nil {
				errs.Add(err)
			} else {
				resolved++
			}

			continue
		}

		if j.cfg.StaleStateMaxAge == 0 || state.Status.Triggered() ||
			now.Sub(state.LastEvaluated) <= j.cfg.StaleStateMaxAge {
			continue
		}

		err = j.store.DeleteMonitorStates(values.StateSearch{MonitorID: &state.MonitorID, Group: &state.Group})
		if err != nil {
			errs.Add(err)
		} else {
			dropped++
		}
	}

	if len(errs.Errors()) > 0 {
		reportCleanUp("timed out alerts", resolved, errs)
		return
	}

	reportCleanUp("timed out alerts", resolved, nil)
	reportCleanUp("stale group states", dropped, nil)
}

func reportCleanUp(cleaning string, removed int64, err error) {
	if err != nil {
		zap.S().Errorw(fmt.Sprintf("(Janitor) Could not remove %s", cleaning), "err", err)
	} else {
		zap.S().Infow(fmt.Sprintf("(Janitor) Removed %s", cleaning), "count", removed)
	}
}
