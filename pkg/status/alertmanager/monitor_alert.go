// Copyright (C) 2022 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package alertmanager

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/couchbaselabs/monitormanager/pkg/status/alertmanager/types"
	"github.com/couchbaselabs/monitormanager/pkg/values"
)

// monitorAlert wraps one triggered MonitorState with the rendering context needed for Alertmanager.
type monitorAlert struct {
	monitor *values.Monitor
	state   *values.MonitorState

	activeAt   time.Time
	resolvedAt *time.Time
	// NOTE: a change in monitor status is really the same as firing a new alert for the same group, as alert
	// labels are immutable - hence hanging on to it, rather than using state.Status directly
	status values.MonitorStatus
	// escalated switches the description to the escalation message once the alert has outlived one renotify
	// interval
	escalated bool
	// fresh marks an alert seen for the first time this cycle so it always gets sent
	fresh bool

	baseLabels map[string]string
}

func newMonitorAlert(monitor *values.Monitor, state *values.MonitorState, now time.Time) (*monitorAlert, error) {
	if !state.Status.Triggered() {
		return nil, fmt.Errorf("cannot create alert for status %q", state.Status)
	}

	activeAt := now
	if state.TriggeredAt != nil {
		activeAt = *state.TriggeredAt
	}

	opts := &monitor.Options
	escalated := opts.RenotifyInterval > 0 && opts.EscalationMessage != "" &&
		now.Sub(activeAt) >= time.Duration(opts.RenotifyInterval)*time.Minute

	return &monitorAlert{
		monitor:   monitor,
		state:     state,
		activeAt:  activeAt,
		status:    state.Status,
		escalated: escalated,
	}, nil
}

func (m *monitorAlert) severity() string {
	switch m.status {
	case values.AlertMonitorStatus:
		return "critical"
	case values.WarnMonitorStatus:
		return "warning"
	case values.NoDataMonitorStatus:
		return "no_data"
	default:
		return "none"
	}
}

// threshold is the trigger value of the fired severity, used to substitute {{threshold}}.
func (m *monitorAlert) threshold() float64 {
	if m.status == values.WarnMonitorStatus && m.monitor.Options.Thresholds.Warning != nil {
		return *m.monitor.Options.Thresholds.Warning
	}

	return m.monitor.Options.Thresholds.Critical
}

func (m *monitorAlert) templateVars() map[string]string {
	vars := map[string]string{
		"threshold": strconv.FormatFloat(m.threshold(), 'f', -1, 64),
		"value":     strconv.FormatFloat(m.state.Value, 'f', -1, 64),
	}

	if host := values.HostFromGroup(m.state.Group); host != "" {
		vars["host"] = host
	}

	return vars
}

// additional labels to be sent to Alertmanager.
func (m *monitorAlert) withBaseLabels(labels map[string]string) *monitorAlert {
	if m.baseLabels == nil {
		m.baseLabels = make(map[string]string)
	}

	for k, v := range labels {
		m.baseLabels[k] = v
	}

	return m
}

// labels determines the Alertmanager labels to send for this alert.
func (m *monitorAlert) labels() map[string]string {
	result := map[string]string{
		"job":          "monitor_manager",
		"severity":     m.severity(),
		"monitor_id":   m.monitor.ID,
		"monitor_type": string(m.monitor.Type),
	}

	if m.state.Group != values.UngroupedKey {
		result["group"] = m.state.Group
	}

	if host := values.HostFromGroup(m.state.Group); host != "" {
		result["host"] = host
	}

	if m.monitor.Options.IncludeTags {
		for _, tag := range m.monitor.Tags {
			key, value, found := strings.Cut(tag, ":")
			if !found {
				value = "true"
			}

			result[strings.ReplaceAll(key, ".", "_")] = value
		}
	}

	for k, v := range m.baseLabels {
		if result[k] == "" {
			result[k] = v
		}
	}

	return result
}

func (m *monitorAlert) annotations() map[string]string {
	vars := m.templateVars()

	message := m.monitor.Message
	if m.escalated {
		message = m.monitor.Options.EscalationMessage
	}

	result := map[string]string{
		"summary":     values.RenderTemplate(m.monitor.Name, vars),
		"description": values.RenderTemplate(message, vars),
		"query":       m.monitor.Query,
	}

	if m.monitor.Metadata != nil && m.monitor.Metadata.Description != "" {
		result["monitor_description"] = m.monitor.Metadata.Description
	}

	return result
}

// shouldNotify applies the renotify throttle. A fresh or resolved alert always goes out, after that repeats only
// happen when the monitor asked for them.
func (m *monitorAlert) shouldNotify(now time.Time) bool {
	if m.fresh || m.resolvedAt != nil || m.state.LastNotified == nil {
		return true
	}

	interval := m.monitor.Options.RenotifyInterval
	if interval == 0 {
		return false
	}

	return now.Sub(*m.state.LastNotified) >= time.Duration(interval)*time.Minute
}

// alertCacheKey is the [monitor, group, severity] of the alert.
// This is an array, not a slice, because arrays are comparable and hashable.
// This should never be constructed manually, instead use monitorAlert.cacheKey()
type alertCacheKey [3]string

// cacheKey returns an array of the elements that make an alert unique (i.e. the ones that determine
// its labels' values).
func (m *monitorAlert) cacheKey() alertCacheKey {
	return [3]string{
		m.monitor.ID,
		m.state.Group,
		m.severity(),
	}
}

func (m *monitorAlert) asPostableAlert() types.PostableAlert {
	return types.PostableAlert{
		Labels:      m.labels(),
		Annotations: m.annotations(),
		StartsAt:    &m.activeAt,
		EndsAt:      m.resolvedAt,
	}
}
