// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package values

import "time"

// MonitorStatus is an alias to use for the different possible evaluation statuses of a monitor group.
type MonitorStatus string

const (
	OKMonitorStatus     MonitorStatus = "ok"
	WarnMonitorStatus   MonitorStatus = "warn"
	AlertMonitorStatus  MonitorStatus = "alert"
	NoDataMonitorStatus MonitorStatus = "no data"
)

func (s MonitorStatus) Int() int {
	switch s {
	case OKMonitorStatus:
		return 0
	case WarnMonitorStatus:
		return 1
	case AlertMonitorStatus:
		return 2
	case NoDataMonitorStatus:
		return 3
	default:
		return -1
	}
}

// Triggered returns whether the status should produce an alert.
func (s MonitorStatus) Triggered() bool {
	return s == WarnMonitorStatus || s == AlertMonitorStatus || s == NoDataMonitorStatus
}

// MonitorState is the evaluation state of one group (e.g. one host) of one monitor.
type MonitorState struct {
	MonitorID string        `json:"monitor_id" msgpack:"monitor_id"`
	Group     string        `json:"group" msgpack:"group"`
	Status    MonitorStatus `json:"status" msgpack:"status"`
	Value     float64       `json:"value" msgpack:"value"`

	// FirstSeen is when the group was first observed, used for the new host grace period.
	FirstSeen     time.Time `json:"first_seen" msgpack:"first_seen"`
	LastEvaluated time.Time `json:"last_evaluated" msgpack:"last_evaluated"`
	// LastDataAt is the timestamp of the newest sample seen for the group, used for no data detection.
	LastDataAt time.Time `json:"last_data_at" msgpack:"last_data_at"`

	TriggeredAt  *time.Time `json:"triggered_at,omitempty" msgpack:"triggered_at"`
	LastNotified *time.Time `json:"last_notified,omitempty" msgpack:"last_notified"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty" msgpack:"resolved_at"`
}

// StateSearch is used to filter which monitor states to get or delete.
type StateSearch struct {
	MonitorID *string
	Group     *string
	Status    *MonitorStatus
}

// UngroupedKey is the group key used for monitors whose query has no group by clause.
const UngroupedKey = "*"

// HostFromGroup extracts the host value out of a "host:<name>" group key. It returns an empty string when the
// group is not host scoped.
func HostFromGroup(group string) string {
	const prefix = "host:"
	if len(group) > len(prefix) && group[:len(prefix)] == prefix {
		return group[len(prefix):]
	}

	return ""
}
