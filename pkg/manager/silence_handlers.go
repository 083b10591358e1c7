// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package manager

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/couchbaselabs/monitormanager/pkg/values"

	"github.com/couchbase/tools-common/restutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// silenceRequest is a wrapper around silence. It will be used so that the user can provide a silence_for that will
// be translated by the system to the silence "Until" field.
type silenceRequest struct {
	values.Silence
	SilenceFor string `json:"silence_for"`
}

func (m *Manager) getMonitorSilences(w http.ResponseWriter, r *http.Request) {
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

	monitorID := vars["id"]

	silences, err := m.store.GetSilences(values.SilenceSearch{MonitorID: &monitorID})
	if err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not get silences from store",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	restutil.MarshalAndSend(http.StatusOK, silences, w, nil)
}

func (m *Manager) addSilence(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var silence silenceRequest
	if !restutil.DecodeJSONRequestBody(r.Body, &silence, w) {
		return
	}

	// 1st check that the time constraint is valid, either it has to be forever or (exclusive) a silence_for has to
	// be provided
	if (!silence.Forever && silence.SilenceFor == "") || (silence.Forever && silence.SilenceFor != "") {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusBadRequest,
			Msg:    "either 'forever' or 'silence_for' have to be provided",
		}, w, nil)
		return
	}

	silence.Until = time.Time{}

	// if silence for provided make sure is a valid duration string
	if silence.SilenceFor != "" {
		duration, err := time.ParseDuration(silence.SilenceFor)
		if err != nil {
			restutil.HandleErrorWithExtras(restutil.ErrorResponse{
				Status: http.StatusBadRequest,
				Msg:    "invalid duration string for silence_for",
				Extras: err.Error(),
			}, w, nil)
			return
		}

		silence.Until = time.Now().Add(duration)
	}

	if silence.Scope == "" {
		silence.Scope = "*"
	}

	if err := validateSilenceScope(silence.Scope); err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusBadRequest,
			Msg:    err.Error(),
		}, w, nil)
		return
	}

	// confirm that the monitor exists
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

	silence.ID = uuid.New().String()
	silence.MonitorID = vars["id"]

	if err := m.store.AddSilence(&silence.Silence); err != nil {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not add silence",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	restutil.MarshalAndSend(http.StatusOK, &silence.Silence, w, nil)
}

func (m *Manager) deleteSilence(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	if err := m.store.DeleteSilence(vars["id"]); err != nil {
		if errors.Is(err, values.ErrNotFound) {
			restutil.HandleErrorWithExtras(restutil.ErrorResponse{
				Status: http.StatusNotFound,
				Msg:    fmt.Sprintf("no silence with id '%s'", vars["id"]),
			}, w, nil)
			return
		}

		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusInternalServerError,
			Msg:    "could not delete silence",
			Extras: err.Error(),
		}, w, nil)
		return
	}

	restutil.SendJSONResponse(http.StatusOK, []byte{}, w, nil)
}

func (m *Manager) deleteSilencesForMonitor(monitorID string) error {
	silences, err := m.store.GetSilences(values.SilenceSearch{MonitorID: &monitorID})
	if err != nil {
		return err
	}

	for _, silence := range silences {
		if err = m.store.DeleteSilence(silence.ID); err != nil {
			return err
		}
	}

	return nil
}

func validateSilenceScope(scope string) error {
	if scope == "*" {
		return nil
	}

	key, value, found := strings.Cut(scope, ":")
	if !found || key == "" || value == "" {
		return fmt.Errorf("malformed silence scope '%s'", scope)
	}

	return nil
}
