// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"log"
	"os"
	"testing"

	"github.com/go-gorp/gorp"
	_ "github.com/mattn/go-sqlite3"
	"github.com/nodeconductor/nodeconductor/internal/db"
)

type DBEnv struct {
	*db.DB
	Close func()
}

// SetupDBEnv returns a throwaway sqlite database for tests. Tests that
// need postgres semantics can point NODECONDUCTOR_TEST_DB_URL at a real
// server instead.
func SetupDBEnv(t *testing.T) DBEnv {
	var env DBEnv
	if url := os.Getenv("NODECONDUCTOR_TEST_DB_URL"); url != "" {
		sqlDB, err := sql.Open("postgres", url)
		if err != nil {
			t.Fatal(err)
		}
		dbmap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.PostgresDialect{}}
		env.DB = &db.DB{DbMap: dbmap}
		env.Close = func() { env.DB.Close() }
		return env
	}
	tmpDir := t.TempDir()
	sqlDB, err := sql.Open("sqlite3", tmpDir+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	dbmap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}
	if os.Getenv("NODECONDUCTOR_TEST_DB_TRACE") == "1" {
		dbmap.TraceOn("[gorp]", log.New(os.Stdout, "nodeconductor:", log.Lmicroseconds))
	}
	env.DB = &db.DB{DbMap: dbmap}
	env.Close = func() { env.DB.Close() }
	return env
}
