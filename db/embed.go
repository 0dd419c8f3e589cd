// Package db provides the embedded database schema and seed data.
package db

import _ "embed"

// Schema contains the PostgreSQL DDL for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SQLiteSchema contains the DDL for the embedded single-till store.
//
//go:embed migrations/001_schema.sqlite.sql
var SQLiteSchema string
