// Copyright (C) 2021 Couchbase, Inc.
//
// Use of this software is subject to the Couchbase Inc. License Agreement
// which may be found at https://www.couchbase.com/LA03012021.

package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/couchbaselabs/monitormanager/pkg/storage"

	_ "github.com/xeodou/go-sqlcipher"
)

func createEmptyDB(t *testing.T) (storage.Store, string) {
	testDir := t.TempDir()

	filePath := filepath.Join(testDir, "db.sqlite")

	sqlDb, err := sql.Open("sqlite3", fmt.Sprintf("%s?_key=%s", filePath, "key"))
	require.NoError(t, err)

	db := &DB{
		fileName: filePath,
		sqlDB:    sqlDb,
	}
	require.NoError(t, setupNewSQLDB(db, "key"))
	return db, filePath
}

func TestNewSQLiteDBFileDoesNotExist(t *testing.T) {
	db, filePath := createEmptyDB(t)
	require.NoError(t, db.Close())

	// re-opening an already set up store must verify instead of re-creating
	db, err := NewSQLiteDB(filePath, "key")
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestIsInitialized(t *testing.T) {
	db, _ := createEmptyDB(t)
	defer db.Close()

	initialized, err := db.IsInitialized()
	require.NoError(t, err)
	require.False(t, initialized)
}
