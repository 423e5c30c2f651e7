// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate creates the membership schema. Statements are idempotent so it
// runs on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		// Group rows, one per thread
		`CREATE TABLE IF NOT EXISTS groups (
			group_id VARCHAR(255) PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			formation_timestamp_ms BIGINT NOT NULL DEFAULT 0,
			should_poll BOOLEAN NOT NULL DEFAULT FALSE,
			invited BOOLEAN NOT NULL DEFAULT FALSE,
			variant VARCHAR(20) NOT NULL
		)`,

		// Members, at most one row per (group, profile)
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id VARCHAR(255) NOT NULL,
			profile_id VARCHAR(255) NOT NULL,
			role VARCHAR(20) NOT NULL CHECK (role IN ('standard', 'admin', 'zombie')),
			role_status VARCHAR(20) NOT NULL DEFAULT 'accepted',
			is_hidden BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (group_id, profile_id),
			FOREIGN KEY (group_id) REFERENCES groups(group_id) ON DELETE CASCADE
		)`,

		// Group encryption key pairs, unique by content hash
		`CREATE TABLE IF NOT EXISTS key_pairs (
			hash CHAR(64) PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			public_key BYTEA NOT NULL,
			secret_key BYTEA NOT NULL,
			received_timestamp_ms BIGINT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_key_pairs_thread
		ON key_pairs(thread_id, received_timestamp_ms DESC)`,

		// Informational transcript entries
		`CREATE TABLE IF NOT EXISTS transcript_records (
			id VARCHAR(64) PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			author VARCHAR(255) NOT NULL,
			kind VARCHAR(64) NOT NULL,
			body TEXT NOT NULL,
			timestamp_ms BIGINT NOT NULL,
			server_hash VARCHAR(255) NOT NULL DEFAULT ''
		)`,

		`CREATE INDEX IF NOT EXISTS idx_transcript_thread
		ON transcript_records(thread_id, timestamp_ms)`,

		// Redelivered messages carry the same server hash
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_transcript_server_hash
		ON transcript_records(thread_id, server_hash)
		WHERE server_hash <> ''`,

		`CREATE TABLE IF NOT EXISTS contacts (
			profile_id VARCHAR(255) PRIMARY KEY,
			is_approved BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS disappearing_configs (
			thread_id VARCHAR(255) PRIMARY KEY,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			duration_seconds BIGINT NOT NULL DEFAULT 0
		)`,

		// Gate timestamps, kept across purges
		`CREATE TABLE IF NOT EXISTS config_timestamps (
			thread_id VARCHAR(255) NOT NULL,
			domain VARCHAR(64) NOT NULL,
			timestamp_ms BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (thread_id, domain)
		)`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}

	return nil
}
