// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package manager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/couchbaselabs/monitormanager/pkg/values"

	"github.com/stretchr/testify/require"
)

func float64Ptr(f float64) *float64 { return &f }

func testMonitorDoc() *values.Monitor {
	return &values.Monitor{
		Name:    "Memory usage is high on device {{host}}",
		Type:    values.QueryAlertMonitorType,
		Query:   "avg(last_5m):avg:device.disk.used_percent{*} by {host} > 80",
		Message: "Memory usage is above {{threshold}}% on {{host}}.",
		Tags:    []string{"integration:azure_iot_edge"},
		Options: values.MonitorOptions{
			IncludeTags: true,
			Thresholds: values.Thresholds{
				Critical:         80,
				Warning:          float64Ptr(65),
				CriticalRecovery: float64Ptr(79),
				WarningRecovery:  float64Ptr(64),
			},
		},
	}
}

func doJSONRequest(t *testing.T, method, url string, body any) *http.Response {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reqBody)
	require.NoError(t, err)

	req.SetBasicAuth("user", "password")

	res, err := http.DefaultClient.Do(req)
	require.Nil(t, err, "Expected to be able to do the request")
	return res
}

func TestAddAndGetMonitor(t *testing.T) {
	mgr := createTestManager(t)
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/monitors", mgr.config.HTTPPort)

	res := doJSONRequest(t, http.MethodPost, baseURL, testMonitorDoc())
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var created values.Monitor
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	require.NotEmpty(t, created.ID)
	require.Equal(t, "Memory usage is high on device {{host}}", created.Name)

	t.Run("get-all", func(t *testing.T) {
		res := doJSONRequest(t, http.MethodGet, baseURL, nil)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		var monitors []*values.Monitor
		require.NoError(t, json.NewDecoder(res.Body).Decode(&monitors))
		require.Len(t, monitors, 1)
		require.Equal(t, created.ID, monitors[0].ID)
	})

	t.Run("get-one", func(t *testing.T) {
		res := doJSONRequest(t, http.MethodGet, baseURL+"/"+created.ID, nil)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		var monitor values.Monitor
		require.NoError(t, json.NewDecoder(res.Body).Decode(&monitor))
		require.Equal(t, created, monitor)
	})

	t.Run("get-unknown", func(t *testing.T) {
		res := doJSONRequest(t, http.MethodGet, baseURL+"/not-an-id", nil)
		defer res.Body.Close()
		require.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestAddMonitorInvalid(t *testing.T) {
	mgr := createTestManager(t)
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/monitors", mgr.config.HTTPPort)

	// critical threshold does not match the one in the query
	monitor := testMonitorDoc()
	monitor.Options.Thresholds.Critical = 90

	res := doJSONRequest(t, http.MethodPost, baseURL, monitor)
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	monitors, err := mgr.store.GetMonitors()
	require.NoError(t, err)
	require.Empty(t, monitors)
}

func TestValidateMonitor(t *testing.T) {
	mgr := createTestManager(t)
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/monitors/validate", mgr.config.HTTPPort)

	t.Run("valid", func(t *testing.T) {
		res := doJSONRequest(t, http.MethodPost, baseURL, testMonitorDoc())
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
	})

	t.Run("invalid", func(t *testing.T) {
		monitor := testMonitorDoc()
		monitor.Message = ""

		res := doJSONRequest(t, http.MethodPost, baseURL, monitor)
		defer res.Body.Close()
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	// validation never stores anything
	monitors, err := mgr.store.GetMonitors()
	require.NoError(t, err)
	require.Empty(t, monitors)
}

func TestUpdateMonitor(t *testing.T) {
	mgr := createTestManager(t)
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	monitor := testMonitorDoc()
	monitor.ID = "monitor-0"
	require.NoError(t, mgr.store.AddMonitor(monitor))

	baseURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/monitors/", mgr.config.HTTPPort)

	t.Run("valid", func(t *testing.T) {
		updated := testMonitorDoc()
		updated.Message = "Memory usage on {{host}} is above {{threshold}}%. Restart the edge runtime."

		res := doJSONRequest(t, http.MethodPut, baseURL+"monitor-0", updated)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		stored, err := mgr.store.GetMonitor("monitor-0")
		require.NoError(t, err)
		require.Equal(t, updated.Message, stored.Message)
	})

	t.Run("id-mismatch", func(t *testing.T) {
		updated := testMonitorDoc()
		updated.ID = "monitor-1"

		res := doJSONRequest(t, http.MethodPut, baseURL+"monitor-0", updated)
		defer res.Body.Close()
		require.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("unknown-monitor", func(t *testing.T) {
		res := doJSONRequest(t, http.MethodPut, baseURL+"monitor-404", testMonitorDoc())
		defer res.Body.Close()
		require.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestDeleteMonitor(t *testing.T) {
	mgr := createTestManager(t)
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	monitor := testMonitorDoc()
	monitor.ID = "monitor-0"
	require.NoError(t, mgr.store.AddMonitor(monitor))

	now := time.Now().UTC()
	require.NoError(t, mgr.store.SetMonitorState(&values.MonitorState{
		MonitorID:     "monitor-0",
		Group:         "host:edge-01",
		Status:        values.AlertMonitorStatus,
		Value:         87,
		FirstSeen:     now,
		LastEvaluated: now,
		LastDataAt:    now,
		TriggeredAt:   &now,
	}))

	require.NoError(t, mgr.store.AddSilence(&values.Silence{
		ID:        "silence-0",
		MonitorID: "monitor-0",
		Scope:     "*",
		Forever:   true,
	}))

	baseURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/monitors/", mgr.config.HTTPPort)

	t.Run("unknown-monitor", func(t *testing.T) {
		res := doJSONRequest(t, http.MethodDelete, baseURL+"monitor-404", nil)
		defer res.Body.Close()
		require.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("valid", func(t *testing.T) {
		res := doJSONRequest(t, http.MethodDelete, baseURL+"monitor-0", nil)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		_, err := mgr.store.GetMonitor("monitor-0")
		require.ErrorIs(t, err, values.ErrNotFound)

		states, err := mgr.store.GetMonitorStates(values.StateSearch{})
		require.NoError(t, err)
		require.Empty(t, states)

		silences, err := mgr.store.GetSilences(values.SilenceSearch{})
		require.NoError(t, err)
		require.Empty(t, silences)
	})
}

func TestGetMonitorStates(t *testing.T) {
	mgr := createTestManager(t)
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	monitor := testMonitorDoc()
	monitor.ID = "monitor-0"
	require.NoError(t, mgr.store.AddMonitor(monitor))

	now := time.Now().UTC()
	require.NoError(t, mgr.store.SetMonitorState(&values.MonitorState{
		MonitorID:     "monitor-0",
		Group:         "host:edge-01",
		Status:        values.AlertMonitorStatus,
		Value:         87,
		FirstSeen:     now,
		LastEvaluated: now,
		LastDataAt:    now,
		TriggeredAt:   &now,
	}))

	require.NoError(t, mgr.store.SetMonitorState(&values.MonitorState{
		MonitorID:     "monitor-0",
		Group:         "host:edge-02",
		Status:        values.OKMonitorStatus,
		Value:         42,
		FirstSeen:     now,
		LastEvaluated: now,
		LastDataAt:    now,
	}))

	baseURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/monitors/", mgr.config.HTTPPort)

	t.Run("all", func(t *testing.T) {
		res := doJSONRequest(t, http.MethodGet, baseURL+"monitor-0/states", nil)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		var states []*values.MonitorState
		require.NoError(t, json.NewDecoder(res.Body).Decode(&states))
		require.Len(t, states, 2)
	})

	t.Run("filter-by-status", func(t *testing.T) {
		res := doJSONRequest(t, http.MethodGet, baseURL+"monitor-0/states?status=alert", nil)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)

		var states []*values.MonitorState
		require.NoError(t, json.NewDecoder(res.Body).Decode(&states))
		require.Len(t, states, 1)
		require.Equal(t, "host:edge-01", states[0].Group)
	})

	t.Run("unknown-monitor", func(t *testing.T) {
		res := doJSONRequest(t, http.MethodGet, baseURL+"monitor-404/states", nil)
		defer res.Body.Close()
		require.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestRefreshMonitorWithoutSource(t *testing.T) {
	mgr := createTestManager(t)
	mgr.setupKeys()
	mgr.startRESTServers()
	time.Sleep(100 * time.Millisecond)
	defer mgr.stopRESTServers()

	monitor := testMonitorDoc()
	monitor.ID = "monitor-0"
	require.NoError(t, mgr.store.AddMonitor(monitor))

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/monitors/monitor-0/refresh", mgr.config.HTTPPort)

	res := doJSONRequest(t, http.MethodPost, url, nil)
	defer res.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}
