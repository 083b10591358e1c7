// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package values

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/couchbaselabs/monitormanager/pkg/query"

	"github.com/prometheus/common/model"
)

// MonitorType is the alert category of a monitor. Only query alerts are supported.
type MonitorType string

const QueryAlertMonitorType MonitorType = "query alert"

// Monitor is a single alert definition. The JSON form is the interchange format so the field names and types are
// fixed; documents must round-trip without loss.
type Monitor struct {
	// ID is assigned by the store and not part of the interchange document.
	ID string `json:"id,omitempty"`

	Name     string                      `json:"name"`
	Type     MonitorType                 `json:"type"`
	Query    string                      `json:"query"`
	Message  string                      `json:"message"`
	Tags     []string                    `json:"tags"`
	Options  MonitorOptions              `json:"options"`
	Metadata *RecommendedMonitorMetadata `json:"recommended_monitor_metadata,omitempty"`
}

// MonitorOptions controls the lifecycle of a monitor's alerts.
type MonitorOptions struct {
	NotifyAudit bool `json:"notify_audit"`
	Locked      bool `json:"locked"`
	// TimeoutHours auto-resolves a triggered alert after the given number of hours. 0 disables the feature.
	TimeoutHours int `json:"timeout_h"`
	// Silenced maps a scope ("*" or "host:<name>") to a unix expiry timestamp. A nil expiry silences the scope
	// forever.
	Silenced    map[string]*int64 `json:"silenced"`
	IncludeTags bool              `json:"include_tags"`
	// NoDataTimeframe is the number of minutes without data after which the monitor goes to no data. nil disables
	// the feature.
	NoDataTimeframe *int `json:"no_data_timeframe"`
	// RequireFullWindow excludes groups whose samples do not span the whole evaluation window.
	RequireFullWindow bool `json:"require_full_window"`
	// NewHostDelay is the grace period in seconds before a newly seen host is evaluated.
	NewHostDelay int  `json:"new_host_delay"`
	NotifyNoData bool `json:"notify_no_data"`
	// RenotifyInterval is the number of minutes between repeat notifications for an alert that has not resolved.
	// 0 disables repeats.
	RenotifyInterval  int        `json:"renotify_interval"`
	EscalationMessage string     `json:"escalation_message"`
	Thresholds        Thresholds `json:"thresholds"`
}

// Thresholds holds the trigger and recovery values of a monitor. The recovery values sit below their trigger
// counterparts so the alert does not oscillate around the boundary.
type Thresholds struct {
	Critical         float64  `json:"critical"`
	Warning          *float64 `json:"warning,omitempty"`
	CriticalRecovery *float64 `json:"critical_recovery,omitempty"`
	WarningRecovery  *float64 `json:"warning_recovery,omitempty"`
}

// RecommendedMonitorMetadata is free-form descriptive metadata attached to catalog monitors.
type RecommendedMonitorMetadata struct {
	Description string `json:"description"`
}

// placeholderRegexp matches the templating tokens of a monitor, e.g. {{host}}. Tokens are substituted at
// notification time, stored documents keep them unresolved.
var placeholderRegexp = regexp.MustCompile(`{{\s*([a-z_]+)\s*}}`)

var allowedPlaceholders = map[string]struct{}{
	"host":      {},
	"threshold": {},
	"value":     {},
}

// Validate checks the monitor document is well-formed. It does not mutate the monitor.
func (m *Monitor) Validate() error {
	if m.Type != QueryAlertMonitorType {
		return fmt.Errorf("unsupported monitor type %q", m.Type)
	}

	if m.Name == "" {
		return fmt.Errorf("monitor name is required")
	}

	if m.Message == "" {
		return fmt.Errorf("monitor message is required")
	}

	q, err := query.Parse(m.Query)
	if err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}

	if q.Threshold != m.Options.Thresholds.Critical {
		return fmt.Errorf("query threshold %v does not match the critical threshold %v", q.Threshold,
			m.Options.Thresholds.Critical)
	}

	if err = m.Options.Thresholds.Validate(q.Comparator); err != nil {
		return err
	}

	if err = m.validatePlaceholders(q); err != nil {
		return err
	}

	if err = m.validateTags(); err != nil {
		return err
	}

	return m.Options.validate()
}

func (m *Monitor) validatePlaceholders(q *query.Query) error {
	for _, text := range []string{m.Name, m.Message, m.Options.EscalationMessage} {
		for _, match := range placeholderRegexp.FindAllStringSubmatch(text, -1) {
			if _, ok := allowedPlaceholders[match[1]]; !ok {
				return fmt.Errorf("unknown template placeholder %q", match[0])
			}
		}
	}

	// when grouped by host the notification has to say which host it is about
	if groupsByHost(q) && !strings.Contains(m.Name+m.Message, "{{host}}") {
		return fmt.Errorf("monitors grouped by host must reference {{host}} in the name or message")
	}

	return nil
}

func groupsByHost(q *query.Query) bool {
	for _, group := range q.GroupBy() {
		if group == "host" {
			return true
		}
	}

	return false
}

func (m *Monitor) validateTags() error {
	for _, tag := range m.Tags {
		key, value, found := strings.Cut(tag, ":")
		if key == "" || (found && value == "") {
			return fmt.Errorf("malformed tag %q", tag)
		}

		// tags become alert labels so the key has to be usable as a label name
		if !model.LabelName(strings.ReplaceAll(key, ".", "_")).IsValid() {
			return fmt.Errorf("tag key %q cannot be used as a label", key)
		}
	}

	return nil
}

func (o *MonitorOptions) validate() error {
	if o.TimeoutHours < 0 {
		return fmt.Errorf("timeout_h cannot be negative")
	}

	if o.RenotifyInterval < 0 {
		return fmt.Errorf("renotify_interval cannot be negative")
	}

	if o.NewHostDelay < 0 {
		return fmt.Errorf("new_host_delay cannot be negative")
	}

	if o.NoDataTimeframe != nil && *o.NoDataTimeframe <= 0 {
		return fmt.Errorf("no_data_timeframe must be positive when set")
	}

	for scope := range o.Silenced {
		if err := validateScope(scope); err != nil {
			return err
		}
	}

	return nil
}

// TimedOut reports whether a triggered state has been stuck longer than timeout_h allows.
func (o *MonitorOptions) TimedOut(state *MonitorState, now time.Time) bool {
	if o.TimeoutHours == 0 || !state.Status.Triggered() || state.TriggeredAt == nil {
		return false
	}

	return now.Sub(*state.TriggeredAt) >= time.Duration(o.TimeoutHours)*time.Hour
}

func validateScope(scope string) error {
	if scope == "*" {
		return nil
	}

	key, value, found := strings.Cut(scope, ":")
	if !found || key == "" || value == "" {
		return fmt.Errorf("malformed silence scope %q", scope)
	}

	return nil
}

// Validate checks the recovery thresholds sit between the trigger values in the direction given by the query
// comparator, forming the hysteresis band that stops an alert flapping.
func (t *Thresholds) Validate(comparator query.Comparator) error {
	ascending := comparator == query.GreaterThan || comparator == query.GreaterThanEqual

	if t.Warning != nil {
		if ascending && *t.Warning > t.Critical {
			return fmt.Errorf("warning threshold %v cannot be above the critical threshold %v", *t.Warning,
				t.Critical)
		}

		if !ascending && *t.Warning < t.Critical {
			return fmt.Errorf("warning threshold %v cannot be below the critical threshold %v", *t.Warning,
				t.Critical)
		}
	}

	if t.CriticalRecovery != nil && comparator.Exceeds(*t.CriticalRecovery, t.Critical) {
		return fmt.Errorf("critical recovery threshold %v is past the critical threshold %v", *t.CriticalRecovery,
			t.Critical)
	}

	if t.WarningRecovery != nil {
		if t.Warning == nil {
			return fmt.Errorf("warning recovery threshold requires a warning threshold")
		}

		if comparator.Exceeds(*t.WarningRecovery, *t.Warning) {
			return fmt.Errorf("warning recovery threshold %v is past the warning threshold %v", *t.WarningRecovery,
				*t.Warning)
		}
	}

	return nil
}

// SilencedScopeActive returns whether the given scope is silenced by the monitor options at the given unix time.
func (o *MonitorOptions) SilencedScopeActive(scope string, now int64) bool {
	for silencedScope, until := range o.Silenced {
		if silencedScope != "*" && silencedScope != scope {
			continue
		}

		if until == nil || *until > now {
			return true
		}
	}

	return false
}
