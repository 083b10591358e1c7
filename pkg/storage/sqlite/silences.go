// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/couchbaselabs/monitormanager/pkg/values"
)

func (db *DB) AddSilence(silence *values.Silence) error {
	if silence.ID == "" {
		return fmt.Errorf("silence id is required")
	}

	_, err := db.sqlDB.Exec(`
		INSERT INTO silences (id, monitorID, scope, forever, until, createdBy)
		VALUES (?, ?, ?, ?, ?, ?);`,
		silence.ID, silence.MonitorID, silence.Scope, silence.Forever, silence.Until, silence.CreatedBy)
	if err != nil {
		return fmt.Errorf("could not add silence: %w", err)
	}

	return nil
}

func (db *DB) GetSilences(search values.SilenceSearch) ([]*values.Silence, error) {
	whereClauseParts := make([]string, 0)
	whereClauseTerms := make([]interface{}, 0)

	if search.ID != nil {
		whereClauseParts = append(whereClauseParts, "id = ?")
		whereClauseTerms = append(whereClauseTerms, *search.ID)
	}

	if search.MonitorID != nil {
		whereClauseParts = append(whereClauseParts, "monitorID = ?")
		whereClauseTerms = append(whereClauseTerms, *search.MonitorID)
	}

	if search.Scope != nil {
		whereClauseParts = append(whereClauseParts, "scope = ?")
		whereClauseTerms = append(whereClauseTerms, *search.Scope)
	}

	var whereClause string
	if len(whereClauseParts) > 0 {
		whereClause = " WHERE " + strings.Join(whereClauseParts, " AND ")
	}

	rows, err := db.sqlDB.Query(`
		SELECT id, monitorID, scope, forever, until, createdBy
		FROM silences`+whereClause+" ORDER BY id;", whereClauseTerms...)
	if err != nil {
		return nil, fmt.Errorf("could not perform select: %w", err)
	}

	defer rows.Close()

	silences := make([]*values.Silence, 0)
	for rows.Next() {
		silence := &values.Silence{}
		if err = rows.Scan(&silence.ID, &silence.MonitorID, &silence.Scope, &silence.Forever, &silence.Until,
			&silence.CreatedBy); err != nil {
			return nil, fmt.Errorf("could not scan value: %w", err)
		}

		silences = append(silences, silence)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate over silences: %w", err)
	}

	return silences, nil
}

func (db *DB) DeleteSilence(id string) error {
	result, err := db.sqlDB.Exec("DELETE FROM silences WHERE id = ?;", id)
	if err != nil {
		return fmt.Errorf("could not delete silence: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not confirm delete: %w", err)
	}

	if affected == 0 {
		return values.ErrNotFound
	}

	return nil
}

func (db *DB) DeleteExpiredSilences() (int64, error) {
	result, err := db.sqlDB.Exec("DELETE FROM silences WHERE forever = 0 AND until < ?;", time.Now())
	if err != nil {
		return 0, fmt.Errorf("could not delete silences: %w", err)
	}

	return result.RowsAffected()
}

// DeleteSilencesForUnknownMonitors removes monitor scoped silences whose monitor no longer exists. Global
// silences are left alone.
func (db *DB) DeleteSilencesForUnknownMonitors(knownMonitors []string) (int64, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(knownMonitors)), ",")
	terms := make([]interface{}, len(knownMonitors))
	for i, id := range knownMonitors {
		terms[i] = id
	}

	query := "DELETE FROM silences WHERE monitorID != ''"
	if len(knownMonitors) != 0 {
		query += " AND monitorID NOT IN (" + placeholders + ")"
	}

	result, err := db.sqlDB.Exec(query+";", terms...)
	if err != nil {
		return 0, fmt.Errorf("could not delete silences: %w", err)
	}

	return result.RowsAffected()
}
