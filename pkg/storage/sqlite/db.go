// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package sqlite

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/couchbaselabs/monitormanager/pkg/storage"

	// sqlcipher driver import
	_ "github.com/xeodou/go-sqlcipher"
)

type Version uint8

const VersionOne Version = 1

type scannable interface {
	Scan(dest ...interface{}) error
}

type DB struct {
	fileName string
	sqlDB    *sql.DB
}

func NewSQLiteDB(fileName, key string) (storage.Store, error) {
	_, err := os.Stat(fileName)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("could not confirm SQLite DB exists")
	}

	exists := !os.IsNotExist(err)

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_key=%s", fileName, key))
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite database: %w", err)
	}

	sqlDB := &DB{
		fileName: fileName,
		sqlDB:    db,
	}

	if exists {
		err = verifyStore(sqlDB)
	} else {
		err = setupNewSQLDB(sqlDB, key)
	}

	if err != nil {
		return nil, fmt.Errorf("error initializing store: %w", err)
	}

	return sqlDB, nil
}

func verifyStore(db *DB) error {
	row := db.sqlDB.QueryRow("PRAGMA user_version")
	var userVersion Version
	if err := row.Scan(&userVersion); err != nil {
		return fmt.Errorf("could not get user version")
	}

	if userVersion != VersionOne {
		return fmt.Errorf("unknown sqlite DB version %d", userVersion)
	}

	// confirm that the tables we need exist
	results := db.sqlDB.QueryRow(`
		SELECT count(*) FROM sqlite_master
		WHERE type='table' AND name in ("users", "monitors", "monitorStates", "silences");`)

	var count int
	if err := results.Scan(&count); err != nil {
		return fmt.Errorf("could not confirm if tables exist: %w", err)
	}

	if count != 4 {
		return fmt.Errorf("the required tables do not exist")
	}

	return nil
}

func setupNewSQLDB(db *DB, key string) error {
	// setup the key
	_, err := db.sqlDB.Exec(fmt.Sprintf("PRAGMA key = '%s';", key))
	if err != nil {
		return fmt.Errorf("could not setup key: %w", err)
	}

	_, err = db.sqlDB.Exec(fmt.Sprintf("PRAGMA user_version= %d", VersionOne))
	if err != nil {
		return fmt.Errorf("could not set user_version: %w", err)
	}

	// create user table for monitor manager users
	_, err = db.sqlDB.Exec(`
		CREATE TABLE users (
			id INTEGER NOT NULL PRIMARY KEY,
			user VARCHAR(256) NOT NULL UNIQUE,
			password BLOB NOT NULL,
			admin BOOLEAN
		);`)
	if err != nil {
		return fmt.Errorf("could not create users table: %w", err)
	}

	// the monitor document is stored as-is, it is interchange data
	_, err = db.sqlDB.Exec(`
		CREATE TABLE monitors (
			id VARCHAR(50) NOT NULL PRIMARY KEY,
			name VARCHAR(300) NOT NULL,
			document BLOB NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("could not create monitors table: %w", err)
	}

	// one row per (monitor, group); the full state snapshot lives in the blob, the other columns exist so
	// searches do not have to decode every row
	_, err = db.sqlDB.Exec(`
		CREATE TABLE monitorStates (
			monitorID VARCHAR(50) NOT NULL,
			groupKey VARCHAR(300) NOT NULL,
			status VARCHAR(50) NOT NULL,
			value REAL NOT NULL,
			snapshot BLOB NOT NULL,
			PRIMARY KEY (monitorID, groupKey)
		);`)
	if err != nil {
		return fmt.Errorf("could not create monitor state table: %w", err)
	}

	_, err = db.sqlDB.Exec(`
		CREATE TABLE silences (
			id VARCHAR(300) NOT NULL PRIMARY KEY,
			monitorID VARCHAR(50),
			scope VARCHAR(300) NOT NULL,
			forever BOOLEAN NOT NULL,
			until TIMESTAMP,
			createdBy VARCHAR(256)
		);`)
	if err != nil {
		return fmt.Errorf("could not create silences table: %w", err)
	}

	return nil
}

// IsInitialized returns true if there is at least one admin user false otherwise.
func (db *DB) IsInitialized() (bool, error) {
	result := db.sqlDB.QueryRow(`SELECT count(id) FROM users WHERE admin=1;`)
	var count int
	if err := result.Scan(&count); err != nil {
		return false, fmt.Errorf("could not check if store initialized: %w", err)
	}

	return count > 0, nil
}

func (db *DB) Close() error {
	return db.sqlDB.Close()
}
