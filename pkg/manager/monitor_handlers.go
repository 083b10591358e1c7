// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package manager

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/couchbaselabs/monitormanager/pkg/statistics"
	"github.com/couchbaselabs/monitormanager/pkg/values"

	"github.com/couchbase/tools-common/restutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (m *Manager) getMonitors(w http.ResponseWriter, _ *http.Request) {
	monitors, err := m.store.GetMonitors()
	if err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not get monitors from store",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	restutil.MarshalAndSend(http.StatusOK, monitors, w, nil)
}

func (m *Manager) addMonitor(w http.ResponseWriter, r *http.Request) {
	var monitor values.Monitor
	if !restutil.DecodeJSONRequestBody(r.Body, &monitor, w) {
		return
	}

	if err := monitor.Validate(); err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusBadRequest,
			Msg:    err.Error(),
		}, w, nil)
		return
	}

	monitor.ID = uuid.New().String()
	if err := m.store.AddMonitor(&monitor); err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not add monitor",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	restutil.MarshalAndSend(http.StatusOK, &monitor, w, nil)
}

// validateMonitor checks a monitor document without storing it so clients can lint definitions before creating them.
func (m *Manager) validateMonitor(w http.ResponseWriter, r *http.Request) {
	var monitor values.Monitor
	if !restutil.DecodeJSONRequestBody(r.Body, &monitor, w) {
		return
	}

	if err := monitor.Validate(); err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusBadRequest,
			Msg:    err.Error(),
		}, w, nil)
		return
	}

	restutil.SendJSONResponse(http.StatusOK, []byte{}, w, nil)
}

func (m *Manager) getMonitor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	monitor, err := m.store.GetMonitor(vars["id"])
	if err != nil {
		if errors.Is(err, values.ErrNotFound) {
			restutil.HandleErrorWithExtras(restutil.ErrorResponse{
				Status: http.StatusNotFound,
				Msg:    fmt.Sprintf("no monitor with id '%s'", vars["id"]),
			}, w, nil)
			return
		}

		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not get monitor",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	restutil.MarshalAndSend(http.StatusOK, monitor, w, nil)
}

func (m *Manager) updateMonitor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var monitor values.Monitor
	if !restutil.DecodeJSONRequestBody(r.Body, &monitor, w) {
		return
	}

	if monitor.ID != "" && monitor.ID != vars["id"] {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusBadRequest,
			Msg:    "monitor id in the body does not match the one in the path",
		}, w, nil)
		return
	}

	if err := monitor.Validate(); err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusBadRequest,
			Msg:    err.Error(),
		}, w, nil)
		return
	}

	monitor.ID = vars["id"]
	if err := m.store.UpdateMonitor(&monitor); err != nil {
		if errors.Is(err, values.ErrNotFound) {
			restutil.HandleErrorWithExtras(restutil.ErrorResponse{
				Status: http.StatusNotFound,
				Msg:    fmt.Sprintf("no monitor with id '%s'", vars["id"]),
			}, w, nil)
			return
		}

		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not update monitor",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	restutil.MarshalAndSend(http.StatusOK, &monitor, w, nil)
}

func (m *Manager) deleteMonitor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	monitor, err := m.store.GetMonitor(vars["id"])
	if err != nil {
		if errors.Is(err, values.ErrNotFound) {
			restutil.HandleErrorWithExtras(restutil.ErrorResponse{
				Status: http.StatusNotFound,
				Msg:    fmt.Sprintf("no monitor with id '%s'", vars["id"]),
			}, w, nil)
			return
		}

		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not get monitor",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	// grab the states before they go so the exported metrics for them can be dropped as well
	states, err := m.store.GetMonitorStates(values.StateSearch{MonitorID: &monitor.ID})
	if err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not get monitor states",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	if err = m.store.DeleteMonitor(monitor.ID); err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not delete monitor",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	if err = m.store.DeleteMonitorStates(values.StateSearch{MonitorID: &monitor.ID}); err != nil {
		zap.S().Warnw("(Manager) Could not delete states for removed monitor", "monitor", monitor.ID, "err", err)
	}

	if err = m.deleteSilencesForMonitor(monitor.ID); err != nil {
		zap.S().Warnw("(Manager) Could not delete silences for removed monitor", "monitor", monitor.ID, "err", err)
	}

	statistics.CleanMonitorMetrics(monitor, states)
	restutil.SendJSONResponse(http.StatusOK, []byte{}, w, nil)
}

func (m *Manager) getMonitorStates(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if _, err := m.store.GetMonitor(vars["id"]); err != nil {
		if errors.Is(err, values.ErrNotFound) {
			restutil.HandleErrorWithExtras(restutil.ErrorResponse{
				Status: http.StatusNotFound,
				Msg:    fmt.Sprintf("no monitor with id '%s'", vars["id"]),
			}, w, nil)
			return
		}

		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not get monitor",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	states, err := m.store.GetMonitorStates(getStateSearchFromQuery(vars["id"], r.URL.Query()))
	if err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not get monitor states",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	restutil.MarshalAndSend(http.StatusOK, states, w, nil)
}

// refreshMonitor evaluates the monitor on demand and pushes any resulting alerts straight away instead of waiting
// for the next periodic run.
func (m *Manager) refreshMonitor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if m.evaluator == nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusServiceUnavailable,
			Msg:    "no metrics source configured, on demand evaluation is not available",
		}, w, nil)
		return
	}

	monitor, err := m.store.GetMonitor(vars["id"])
	if err != nil {
		if errors.Is(err, values.ErrNotFound) {
			restutil.HandleErrorWithExtras(restutil.ErrorResponse{
				Status: http.StatusNotFound,
				Msg:    fmt.Sprintf("no monitor with id '%s'", vars["id"]),
			}, w, nil)
			return
		}

		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not get monitor",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	if err = m.evaluator.EvaluateMonitor(r.Context(), monitor); err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not evaluate monitor",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	if m.alertmanager != nil {
		if err = m.alertmanager.ManualUpdate(r.Context()); err != nil {
			zap.S().Warnw("(Manager) Could not push alerts after refresh", "monitor", monitor.ID, "err", err)
		}
	}

	states, err := m.store.GetMonitorStates(values.StateSearch{MonitorID: &monitor.ID})
	if err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not get monitor states",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	restutil.MarshalAndSend(http.StatusOK, states, w, nil)
}

func getStateSearchFromQuery(monitorID string, query url.Values) values.StateSearch {
	search := values.StateSearch{MonitorID: &monitorID}

	if group := query.Get("group"); group != "" {
		search.Group = &group
	}

	if status := query.Get("status"); status != "" {
		monitorStatus := values.MonitorStatus(status)
		search.Status = &monitorStatus
	}

	return search
}
