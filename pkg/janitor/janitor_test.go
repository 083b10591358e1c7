// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package janitor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/couchbaselabs/monitormanager/pkg/storage"
	"github.com/couchbaselabs/monitormanager/pkg/storage/sqlite"
	"github.com/couchbaselabs/monitormanager/pkg/values"

	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) storage.Store {
	store, err := sqlite.NewSQLiteDB(filepath.Join(t.TempDir(), "store.db"), "key")
	require.Nil(t, err, "Unexpected error creating test store")

	t.Cleanup(func() { store.Close() })
	return store
}

func addMonitor(t *testing.T, store storage.Store, id string, options values.MonitorOptions) *values.Monitor {
	monitor := &values.Monitor{
		ID:      id,
		Name:    "monitor " + id,
		Type:    values.QueryAlertMonitorType,
		Query:   "avg(last_5m):avg:device.disk.used_percent{*} > 80",
		Message: "Disk usage is above {{threshold}}%.",
		Options: options,
	}

	require.NoError(t, store.AddMonitor(monitor))
	return monitor
}

// TestJanitorExpiredSilences checks that the janitor cleans up expired silences. It adds an expired one, one that
// has not expired and one that cannot expire, runs the janitor for a couple of shifts and checks only the expired
// one is gone.
func TestJanitorExpiredSilences(t *testing.T) {
	store := createTestStore(t)

	require.NoError(t, store.AddSilence(&values.Silence{ID: "expired", Scope: "*",
		Until: time.Now().Add(-24 * time.Hour).UTC()}))
	require.NoError(t, store.AddSilence(&values.Silence{ID: "alive", Scope: "*",
		Until: time.Now().Add(24 * time.Hour).UTC()}))
	require.NoError(t, store.AddSilence(&values.Silence{ID: "forever", Scope: "*", Forever: true}))

	// run janitor for a couple of shifts
	janitor := NewJanitor(store, DefaultConfig)
	janitor.Start(100 * time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	janitor.Stop()

	silences, err := store.GetSilences(values.SilenceSearch{})
	require.NoError(t, err)
	require.Len(t, silences, 2)

	for _, silence := range silences {
		require.NotEqual(t, "expired", silence.ID)
	}
}

func TestJanitorRemovesDataForDeletedMonitors(t *testing.T) {
	store := createTestStore(t)
	monitor := addMonitor(t, store, "monitor-0", values.MonitorOptions{
		Thresholds: values.Thresholds{Critical: 80},
	})

	now := time.Now()
	require.NoError(t, store.SetMonitorState(&values.MonitorState{MonitorID: monitor.ID, Group: "host:edge-01",
		Status: values.OKMonitorStatus, FirstSeen: now, LastEvaluated: now, LastDataAt: now}))
	require.NoError(t, store.SetMonitorState(&values.MonitorState{MonitorID: "monitor-404", Group: "host:edge-01",
		Status: values.OKMonitorStatus, FirstSeen: now, LastEvaluated: now, LastDataAt: now}))
	require.NoError(t, store.AddSilence(&values.Silence{ID: "orphan", MonitorID: "monitor-404", Scope: "*",
		Forever: true}))

	janitor := NewJanitor(store, DefaultConfig)
	janitor.cleanStore()

	states, err := store.GetMonitorStates(values.StateSearch{})
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, monitor.ID, states[0].MonitorID)

	silences, err := store.GetSilences(values.SilenceSearch{})
	require.NoError(t, err)
	require.Empty(t, silences)
}

func TestJanitorResolvesTimedOutAlerts(t *testing.T) {
	store := createTestStore(t)
	monitor := addMonitor(t, store, "monitor-0", values.MonitorOptions{
		TimeoutHours: 1,
		Thresholds:   values.Thresholds{Critical: 80},
	})

	now := time.Now()
	stuckSince := now.Add(-2 * time.Hour)
	require.NoError(t, store.SetMonitorState(&values.MonitorState{MonitorID: monitor.ID, Group: "host:edge-01",
		Status: values.AlertMonitorStatus, Value: 90, FirstSeen: stuckSince, LastEvaluated: now,
		LastDataAt: now, TriggeredAt: &stuckSince}))

	freshSince := now.Add(-10 * time.Minute)
	require.NoError(t, store.SetMonitorState(&values.MonitorState{MonitorID: monitor.ID, Group: "host:edge-02",
		Status: values.AlertMonitorStatus, Value: 90, FirstSeen: freshSince, LastEvaluated: now,
		LastDataAt: now, TriggeredAt: &freshSince}))

	janitor := NewJanitor(store, DefaultConfig)
	janitor.cleanStore()

	group := "host:edge-01"
	states, err := store.GetMonitorStates(values.StateSearch{Group: &group})
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, values.OKMonitorStatus, states[0].Status)
	require.Nil(t, states[0].TriggeredAt)
	require.NotNil(t, states[0].ResolvedAt)

	group = "host:edge-02"
	states, err = store.GetMonitorStates(values.StateSearch{Group: &group})
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.Equal(t, values.AlertMonitorStatus, states[0].Status)
}

func TestJanitorDropsStaleGroupStates(t *testing.T) {
	store := createTestStore(t)
	monitor := addMonitor(t, store, "monitor-0", values.MonitorOptions{
		Thresholds: values.Thresholds{Critical: 80},
	})

	now := time.Now()
	require.NoError(t, store.SetMonitorState(&values.MonitorState{MonitorID: monitor.ID, Group: "host:gone",
		Status: values.OKMonitorStatus, FirstSeen: now.Add(-72 * time.Hour),
		LastEvaluated: now.Add(-48 * time.Hour), LastDataAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.SetMonitorState(&values.MonitorState{MonitorID: monitor.ID, Group: "host:alive",
		Status: values.OKMonitorStatus, FirstSeen: now.Add(-72 * time.Hour), LastEvaluated: now,
		LastDataAt: now}))

	// a triggered state is never reaped no matter how old it is
	triggeredAt := now.Add(-96 * time.Hour)
	require.NoError(t, store.SetMonitorState(&values.MonitorState{MonitorID: monitor.ID, Group: "host:stuck",
		Status: values.AlertMonitorStatus, Value: 90, FirstSeen: triggeredAt,
		LastEvaluated: now.Add(-48 * time.Hour), LastDataAt: triggeredAt, TriggeredAt: &triggeredAt}))

	janitor := NewJanitor(store, DefaultConfig)
	janitor.cleanStore()

	states, err := store.GetMonitorStates(values.StateSearch{})
	require.NoError(t, err)
	require.Len(t, states, 2)

	for _, state := range states {
		require.NotEqual(t, "host:gone", state.Group)
	}
}
