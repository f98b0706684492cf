// Copyright 2026 NodeConductor Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/go-gorp/gorp"
	_ "github.com/lib/pq"
	"github.com/nodeconductor/nodeconductor/internal/conf"
	"github.com/sapcc/go-bits/easypg"
)

// Wrapper around gorp.DbMap that adds some convenience functions.
type DB struct {
	*gorp.DbMap
	DBConfig conf.DBConfig
}

// Model that maps to a database table.
type Table interface {
	TableName() string
}

// Create a new postgres database and wait until it is connected.
func NewPostgresDB(c conf.DBConfig) DB {
	stripYaml := func(s string) string { return strings.ReplaceAll(s, "\n", "") }
	dbURL, err := easypg.URLFrom(easypg.URLParts{
		HostName:          stripYaml(c.Host),
		Port:              stripYaml(c.Port),
		UserName:          stripYaml(c.User),
		Password:          stripYaml(c.Password),
		ConnectionOptions: "sslmode=disable",
		DatabaseName:      stripYaml(c.Database),
	})
	if err != nil {
		panic(err)
	}
	slog.Info("connecting to database", "dbURL", dbURL.String())
	db, err := sql.Open("postgres", dbURL.String())
	if err != nil {
		panic(err)
	}

	// If the wait time exceeds 10 seconds, we will panic.
	maxRetries := 10
	for i := range maxRetries {
		err := db.Ping()
		if err == nil {
			break
		}
		if i == maxRetries-1 {
			panic("giving up connecting to database")
		}
		slog.Error("failed to connect to database, retrying...", "error", err)
		time.Sleep(1 * time.Second)
	}

	db.SetMaxOpenConns(16)
	dbMap := &gorp.DbMap{Db: db, Dialect: gorp.PostgresDialect{}}
	slog.Info("database is ready")
	return DB{DBConfig: c, DbMap: dbMap}
}

// Adds a model table to the database map.
func (d *DB) AddTable(t Table) *gorp.TableMap {
	return d.AddTableWithName(t, t.TableName())
}

// Create the given tables if they do not exist yet.
func (d *DB) CreateTable(table ...*gorp.TableMap) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	for _, t := range table {
		slog.Info("creating table", "table", t.TableName)
		sql := t.SqlForCreate(true) // true means to add IF NOT EXISTS
		if _, err := tx.Exec(sql); err != nil {
			return tx.Rollback()
		}
	}
	return tx.Commit()
}

// Convenience function to close the database connection.
func (d *DB) Close() {
	if err := d.DbMap.Db.Close(); err != nil {
		slog.Error("failed to close database connection", "error", err)
	}
}

// Run the given function inside a transaction, committing on nil and
// rolling back on error or panic.
func (d *DB) WithTransaction(f func(tx *gorp.Transaction) error) error {
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to roll back transaction", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Database or transaction that supports update and insert methods.
type upsertable interface {
	Update(list ...interface{}) (int64, error)
	Insert(list ...interface{}) error
}

// Upsert a model into the database (Insert if possible, otherwise Update).
func Upsert(u upsertable, model any) error {
	if err := u.Insert(model); err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
			strings.Contains(err.Error(), "UNIQUE constraint failed") {
			if _, err := u.Update(model); err != nil {
				return err
			}
			return nil
		}
		return err
	}
	return nil
}
