// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package manager

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all the REST endpoints for the manager.
func NewRouter(m *Manager) *mux.Router {
	r := mux.NewRouter()
	r.Use(m.initializedMiddleware, m.authMiddleware, loggingMiddleware)

	metricsAPI(r)
	selfAPI(r, m)

	if m.config.EnableAdminAPI {
		adminAPI(r, m)
	}

	if m.config.EnableMonitorAPI {
		monitorAPI(r, m)
	}

	if m.config.EnableCatalogAPI {
		catalogAPI(r, m)
	}

	return r
}

func metricsAPI(r *mux.Router) {
	r.Handle("/api/v1/_prometheus", promhttp.Handler()).Methods(http.MethodGet)
	r.Handle("/api/v1/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func selfAPI(r *mux.Router, m *Manager) {
	r.HandleFunc("/api/v1/self", m.getInitState).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/self", m.initializeManager).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/self/token", m.tokenLogin).Methods(http.MethodPost)
}

func adminAPI(r *mux.Router, m *Manager) {
	r.HandleFunc("/api/v1/cleanup", m.triggerCleanup).Methods(http.MethodPost)
}

func monitorAPI(r *mux.Router, m *Manager) {
	r.HandleFunc("/api/v1/monitors", m.getMonitors).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/monitors", m.addMonitor).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/monitors/validate", m.validateMonitor).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/monitors/{id}", m.getMonitor).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/monitors/{id}", m.updateMonitor).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/monitors/{id}", m.deleteMonitor).Methods(http.MethodDelete)
	r.HandleFunc("/api/v1/monitors/{id}/states", m.getMonitorStates).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/monitors/{id}/refresh", m.refreshMonitor).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/monitors/{id}/silences", m.getMonitorSilences).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/monitors/{id}/silences", m.addSilence).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/silences/{id}", m.deleteSilence).Methods(http.MethodDelete)
}

func catalogAPI(r *mux.Router, m *Manager) {
	r.HandleFunc("/api/v1/catalog", m.getCatalog).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/catalog/{name}", m.getCatalogEntry).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/catalog/{name}/install", m.installCatalogEntry).Methods(http.MethodPost)
}
