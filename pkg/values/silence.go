// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package values

import "time"

// Silence temporarily suppresses the notifications of a monitor. Unlike the silenced scopes embedded in the
// monitor options these are managed through the REST API and can outlive monitor edits.
type Silence struct {
	ID string `json:"id"`
	// MonitorID scopes the silence to one monitor. Empty means every monitor.
	MonitorID string `json:"monitor_id,omitempty"`
	// Scope is "*" or a group key such as "host:edge-01".
	Scope string `json:"scope"`

	Forever bool      `json:"forever,omitempty"`
	Until   time.Time `json:"until,omitempty"`

	CreatedBy string `json:"created_by,omitempty"`
}

// IsSilenced will check if the silence applies to the given state and is still in force.
func (s *Silence) IsSilenced(state *MonitorState) bool {
	if s.MonitorID != "" && s.MonitorID != state.MonitorID {
		return false
	}

	if !s.Forever && time.Now().After(s.Until) {
		return false
	}

	return s.Scope == "*" || s.Scope == state.Group
}

// SilenceSearch is used to filter which silences to get or delete.
type SilenceSearch struct {
	ID        *string
	MonitorID *string
	Scope     *string
}
