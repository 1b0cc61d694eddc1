// Package db provides the embedded goose migrations of the fulfillment schema.
package db

import "embed"

// Migrations holds the goose SQL migrations.
//
//go:embed migrations/*.sql
var Migrations embed.FS
