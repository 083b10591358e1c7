// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package sqlite

import (
	"fmt"
	"strings"

	"github.com/couchbaselabs/monitormanager/pkg/values"

	"github.com/vmihailenco/msgpack/v5"
)

func (db *DB) SetMonitorState(state *values.MonitorState) error {
	if state.MonitorID == "" || state.Group == "" {
		return fmt.Errorf("monitor id and group are required")
	}

	// msgpack keeps the snapshot compact, this is internal data so the encoding does not have to be readable
	snapshot, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("could not marshal state snapshot: %w", err)
	}

	// the query below should ensure we only keep the latest state per group
	_, err = db.sqlDB.Exec(`
		REPLACE INTO monitorStates (monitorID, groupKey, status, value, snapshot)
		VALUES (?, ?, ?, ?, ?);`,
		state.MonitorID, state.Group, state.Status, state.Value, snapshot)
	if err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}

	return nil
}

func (db *DB) GetMonitorStates(search values.StateSearch) ([]*values.MonitorState, error) {
	whereClause, whereClauseTerms := stateWhereClause(search)

	rows, err := db.sqlDB.Query(
		"SELECT snapshot FROM monitorStates"+whereClause+" ORDER BY monitorID, groupKey;", whereClauseTerms...)
	if err != nil {
		return nil, fmt.Errorf("could not perform select: %w", err)
	}

	defer rows.Close()

	states := make([]*values.MonitorState, 0)
	for rows.Next() {
		var snapshot []byte
		if err = rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("could not scan value: %w", err)
		}

		var state values.MonitorState
		if err = msgpack.Unmarshal(snapshot, &state); err != nil {
			return nil, fmt.Errorf("could not unmarshal state snapshot: %w", err)
		}

		states = append(states, &state)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate over states: %w", err)
	}

	return states, nil
}

func (db *DB) DeleteMonitorStates(search values.StateSearch) error {
	whereClause, whereClauseTerms := stateWhereClause(search)
	if whereClause == "" {
		return fmt.Errorf("a search term is required to delete")
	}

	_, err := db.sqlDB.Exec("DELETE FROM monitorStates"+whereClause, whereClauseTerms...)
	if err != nil {
		return fmt.Errorf("could not delete states: %w", err)
	}

	return nil
}

// DeleteStatesForUnknownMonitors removes states whose monitor is not in the given list anymore.
func (db *DB) DeleteStatesForUnknownMonitors(knownMonitors []string) (int64, error) {
	if len(knownMonitors) == 0 {
		result, err := db.sqlDB.Exec("DELETE FROM monitorStates;")
		if err != nil {
			return 0, fmt.Errorf("could not delete states: %w", err)
		}

		return result.RowsAffected()
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(knownMonitors)), ",")
	terms := make([]interface{}, len(knownMonitors))
	for i, id := range knownMonitors {
		terms[i] = id
	}

	result, err := db.sqlDB.Exec("DELETE FROM monitorStates WHERE monitorID NOT IN ("+placeholders+");", terms...)
	if err != nil {
		return 0, fmt.Errorf("could not delete states: %w", err)
	}

	return result.RowsAffected()
}

func stateWhereClause(search values.StateSearch) (string, []interface{}) {
	whereClauseParts := make([]string, 0)
	whereClauseTerms := make([]interface{}, 0)

	if search.MonitorID != nil {
		whereClauseParts = append(whereClauseParts, "monitorID = ?")
		whereClauseTerms = append(whereClauseTerms, *search.MonitorID)
	}

	if search.Group != nil {
		whereClauseParts = append(whereClauseParts, "groupKey = ?")
		whereClauseTerms = append(whereClauseTerms, *search.Group)
	}

	if search.Status != nil {
		whereClauseParts = append(whereClauseParts, "status = ?")
		whereClauseTerms = append(whereClauseTerms, *search.Status)
	}

	if len(whereClauseParts) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(whereClauseParts, " AND "), whereClauseTerms
}
