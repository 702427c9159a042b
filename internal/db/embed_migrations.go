package db

import "embed"

// MigrationFS embeds the schema for users, identities, email codes, revoked tokens and audit logs.
// Applied by cmd/migrate through internal/db/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
