package main

import (
	"database/sql"
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// ensureSchema applies the idempotent schema. Intended for development and
// tests; production deployments run migrations out of band.
func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(schemaSQL)
	return err
}
