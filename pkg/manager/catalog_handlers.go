// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package manager

import (
	"fmt"
	"net/http"

	"github.com/couchbaselabs/monitormanager/pkg/values"

	"github.com/couchbase/tools-common/restutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func (m *Manager) getCatalog(w http.ResponseWriter, r *http.Request) {
	if integration := r.URL.Query().Get("integration"); integration != "" {
		restutil.MarshalAndSend(http.StatusOK, values.RecommendedMonitorsForIntegration(integration), w, nil)
		return
	}

	restutil.MarshalAndSend(http.StatusOK, values.AllRecommendedMonitors, w, nil)
}

func (m *Manager) getCatalogEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	recommended, ok := values.AllRecommendedMonitors[vars["name"]]
	if !ok {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusNotFound,
			Msg:    fmt.Sprintf("no recommended monitor with name '%s'", vars["name"]),
		}, w, nil)
		return
	}

	restutil.MarshalAndSend(http.StatusOK, recommended, w, nil)
}

// installCatalogEntry creates a regular monitor out of a recommended one. The created monitor is a copy, edits to it
// do not touch the catalog.
func (m *Manager) installCatalogEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	recommended, ok := values.AllRecommendedMonitors[vars["name"]]
	if !ok {
		restutil.HandleErrorWithExtras(restutil.ErrorResponse{
			Status: http.StatusNotFound,
			Msg:    fmt.Sprintf("no recommended monitor with name '%s'", vars["name"]),
		}, w, nil)
		return
	}

	monitor := *recommended.Monitor
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
