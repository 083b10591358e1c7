// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/couchbaselabs/monitormanager/pkg/values"
)

func (db *DB) AddMonitor(monitor *values.Monitor) error {
	if monitor.ID == "" {
		return fmt.Errorf("monitor id is required")
	}

	document, err := json.Marshal(monitor)
	if err != nil {
		return fmt.Errorf("could not marshal monitor: %w", err)
	}

	_, err = db.sqlDB.Exec("INSERT INTO monitors (id, name, document) VALUES (?, ?, ?);", monitor.ID, monitor.Name,
		document)
	if err != nil {
		return fmt.Errorf("could not add monitor: %w", err)
	}

	return nil
}

func (db *DB) GetMonitor(id string) (*values.Monitor, error) {
	row := db.sqlDB.QueryRow("SELECT document FROM monitors WHERE id = ?;", id)
	return scanMonitor(row)
}

func (db *DB) GetMonitors() ([]*values.Monitor, error) {
	rows, err := db.sqlDB.Query("SELECT document FROM monitors ORDER BY name, id;")
	if err != nil {
		return nil, fmt.Errorf("could not perform select: %w", err)
	}

	defer rows.Close()

	monitors := make([]*values.Monitor, 0)
	for rows.Next() {
		monitor, err := scanMonitor(rows)
		if err != nil {
			return nil, err
		}

		monitors = append(monitors, monitor)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate over monitors: %w", err)
	}

	return monitors, nil
}

func (db *DB) UpdateMonitor(monitor *values.Monitor) error {
	document, err := json.Marshal(monitor)
	if err != nil {
		return fmt.Errorf("could not marshal monitor: %w", err)
	}

	result, err := db.sqlDB.Exec("UPDATE monitors SET name = ?, document = ? WHERE id = ?;", monitor.Name, document,
		monitor.ID)
	if err != nil {
		return fmt.Errorf("could not update monitor: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not confirm update: %w", err)
	}

	if affected == 0 {
		return values.ErrNotFound
	}

	return nil
}

func (db *DB) DeleteMonitor(id string) error {
	result, err := db.sqlDB.Exec("DELETE FROM monitors WHERE id = ?;", id)
	if err != nil {
		return fmt.Errorf("could not delete monitor: %w", err)
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

func scanMonitor(row scannable) (*values.Monitor, error) {
	var document []byte
	if err := row.Scan(&document); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, values.ErrNotFound
		}

		return nil, fmt.Errorf("could not scan monitor: %w", err)
	}

	var monitor values.Monitor
	if err := json.Unmarshal(document, &monitor); err != nil {
		return nil, fmt.Errorf("could not unmarshal monitor: %w", err)
	}

	return &monitor, nil
}
