// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package statistics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchbaselabs/monitormanager/pkg/values"
)

var (
	monitorStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "monitormanager_monitor_status",
		Help: "Last evaluated status for each monitor group (0 OK, 1 warn, 2 alert, 3 no data)",
	}, []string{"monitor_id", "monitor_name", "group"})
	monitorValue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "monitormanager_monitor_value",
		Help: "Last evaluated query value for each monitor group",
	}, []string{"monitor_id", "monitor_name", "group"})
	evaluationErr = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitormanager_monitor_evaluation_errors",
		Help: "Monitors which have failed to evaluate",
	}, []string{"monitor_id", "monitor_name"})
	notificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitormanager_notifications_sent",
		Help: "Notifications dispatched to Alertmanager per monitor",
	}, []string{"monitor_id"})
)

// EvaluationStatus records the outcome of one monitor group evaluation.
func EvaluationStatus(monitor *values.Monitor, state *values.MonitorState) {
	monitorStatus.WithLabelValues(monitor.ID, monitor.Name, state.Group).Set(float64(state.Status.Int()))
	monitorValue.WithLabelValues(monitor.ID, monitor.Name, state.Group).Set(state.Value)
}

// EvaluationError records a monitor whose query could not be evaluated.
func EvaluationError(monitor *values.Monitor) {
	evaluationErr.WithLabelValues(monitor.ID, monitor.Name).Inc()
}

// NotificationSent records a notification dispatch for the monitor.
func NotificationSent(monitorID string) {
	notificationsSent.WithLabelValues(monitorID).Inc()
}

// CleanMonitorMetrics drops the series for the given monitor states, used when a monitor is deleted.
func CleanMonitorMetrics(monitor *values.Monitor, states []*values.MonitorState) {
	for _, state := range states {
		monitorStatus.DeleteLabelValues(monitor.ID, monitor.Name, state.Group)
		monitorValue.DeleteLabelValues(monitor.ID, monitor.Name, state.Group)
	}

	evaluationErr.DeleteLabelValues(monitor.ID, monitor.Name)
	notificationsSent.DeleteLabelValues(monitor.ID)
}

// RegisterStatsCollection registers prometheus stats.
func RegisterStatsCollection() {
	prometheus.MustRegister(monitorStatus, monitorValue, evaluationErr, notificationsSent)
}

// UnregisterStatsCollection unregisters prometheus stats.
func UnregisterStatsCollection() {
	prometheus.Unregister(monitorStatus)
	prometheus.Unregister(monitorValue)
	prometheus.Unregister(evaluationErr)
	prometheus.Unregister(notificationsSent)
}
