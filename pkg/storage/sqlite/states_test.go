// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/couchbaselabs/monitormanager/pkg/values"
)

func testState(monitorID, group string, status values.MonitorStatus) *values.MonitorState {
	now := time.Unix(1700000000, 0).UTC()
	return &values.MonitorState{
		MonitorID:     monitorID,
		Group:         group,
		Status:        status,
		Value:         87.5,
		FirstSeen:     now.Add(-time.Hour),
		LastEvaluated: now,
		LastDataAt:    now,
	}
}

func TestDBSetAndGetMonitorState(t *testing.T) {
	db, _ := createEmptyDB(t)
	defer db.Close()

	stateIn := testState("monitor-0", "host:edge-01", values.AlertMonitorStatus)
	triggered := stateIn.LastEvaluated.Add(-30 * time.Minute)
	stateIn.TriggeredAt = &triggered

	require.NoError(t, db.SetMonitorState(stateIn))

	monitorID := "monitor-0"
	states, err := db.GetMonitorStates(values.StateSearch{MonitorID: &monitorID})
	require.NoError(t, err)
	require.Len(t, states, 1)

	// timestamps come back with a different location representation so compare instants, not structs
	stateOut := states[0]
	require.Equal(t, stateIn.MonitorID, stateOut.MonitorID)
	require.Equal(t, stateIn.Group, stateOut.Group)
	require.Equal(t, stateIn.Status, stateOut.Status)
	require.Equal(t, stateIn.Value, stateOut.Value)
	require.True(t, stateIn.FirstSeen.Equal(stateOut.FirstSeen))
	require.True(t, stateIn.LastEvaluated.Equal(stateOut.LastEvaluated))
	require.True(t, stateIn.LastDataAt.Equal(stateOut.LastDataAt))
	require.NotNil(t, stateOut.TriggeredAt)
	require.True(t, triggered.Equal(*stateOut.TriggeredAt))
	require.Nil(t, stateOut.LastNotified)
	require.Nil(t, stateOut.ResolvedAt)
}

func TestDBSetMonitorStateReplacesPrevious(t *testing.T) {
	db, _ := createEmptyDB(t)
	defer db.Close()

	require.NoError(t, db.SetMonitorState(testState("monitor-0", "host:edge-01", values.OKMonitorStatus)))

	updated := testState("monitor-0", "host:edge-01", values.AlertMonitorStatus)
	require.NoError(t, db.SetMonitorState(updated))

	states, err := db.GetMonitorStates(values.StateSearch{})
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, values.AlertMonitorStatus, states[0].Status)
}

func TestDBGetMonitorStatesFiltering(t *testing.T) {
	db, _ := createEmptyDB(t)
	defer db.Close()

	require.NoError(t, db.SetMonitorState(testState("monitor-0", "host:edge-01", values.OKMonitorStatus)))
	require.NoError(t, db.SetMonitorState(testState("monitor-0", "host:edge-02", values.AlertMonitorStatus)))
	require.NoError(t, db.SetMonitorState(testState("monitor-1", "host:edge-01", values.WarnMonitorStatus)))

	alertStatus := values.AlertMonitorStatus
	states, err := db.GetMonitorStates(values.StateSearch{Status: &alertStatus})
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, "host:edge-02", states[0].Group)

	group := "host:edge-01"
	states, err = db.GetMonitorStates(values.StateSearch{Group: &group})
	require.NoError(t, err)
	require.Len(t, states, 2)
}

func TestDBDeleteMonitorStates(t *testing.T) {
	db, _ := createEmptyDB(t)
	defer db.Close()

	require.NoError(t, db.SetMonitorState(testState("monitor-0", "host:edge-01", values.OKMonitorStatus)))
	require.NoError(t, db.SetMonitorState(testState("monitor-1", "host:edge-01", values.OKMonitorStatus)))

	require.Error(t, db.DeleteMonitorStates(values.StateSearch{}))

	monitorID := "monitor-0"
	require.NoError(t, db.DeleteMonitorStates(values.StateSearch{MonitorID: &monitorID}))

	states, err := db.GetMonitorStates(values.StateSearch{})
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, "monitor-1", states[0].MonitorID)
}

func TestDBDeleteStatesForUnknownMonitors(t *testing.T) {
	db, _ := createEmptyDB(t)
	defer db.Close()

	require.NoError(t, db.SetMonitorState(testState("monitor-0", "host:edge-01", values.OKMonitorStatus)))
	require.NoError(t, db.SetMonitorState(testState("monitor-1", "host:edge-01", values.OKMonitorStatus)))

	removed, err := db.DeleteStatesForUnknownMonitors([]string{"monitor-0"})
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	states, err := db.GetMonitorStates(values.StateSearch{})
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, "monitor-0", states[0].MonitorID)
}
