// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package evaluator

import (
	"time"

	"github.com/couchbaselabs/monitormanager/pkg/query"
	"github.com/couchbaselabs/monitormanager/pkg/values"
)

// nextStatus applies the hysteresis rules. Crossing a trigger threshold moves the state up; once triggered the
// state only drops when the value falls back past the matching recovery threshold, not the trigger itself.
func nextStatus(prev values.MonitorStatus, value float64, comparator query.Comparator,
	thresholds values.Thresholds,
) values.MonitorStatus {
	if comparator.Exceeds(value, thresholds.Critical) {
		return values.AlertMonitorStatus
	}

	if prev == values.AlertMonitorStatus && thresholds.CriticalRecovery != nil &&
		comparator.Exceeds(value, *thresholds.CriticalRecovery) {
		return values.AlertMonitorStatus
	}

	if thresholds.Warning != nil {
		if comparator.Exceeds(value, *thresholds.Warning) {
			return values.WarnMonitorStatus
		}

		if (prev == values.WarnMonitorStatus || prev == values.AlertMonitorStatus) &&
			thresholds.WarningRecovery != nil && comparator.Exceeds(value, *thresholds.WarningRecovery) {
			return values.WarnMonitorStatus
		}
	}

	return values.OKMonitorStatus
}

// transition moves the state to the next status, stamping the trigger and resolution times on the way through.
func transition(state *values.MonitorState, next values.MonitorStatus, now time.Time) {
	if next.Triggered() && !state.Status.Triggered() {
		triggered := now
		state.TriggeredAt = &triggered
		state.ResolvedAt = nil
	} else if !next.Triggered() && state.Status.Triggered() {
		resolved := now
		state.ResolvedAt = &resolved
		state.TriggeredAt = nil
		state.LastNotified = nil
	}

	state.Status = next
}
