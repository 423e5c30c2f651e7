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

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

func (t *Tx) AppendTranscript(ctx context.Context, rec models.TranscriptRecord) (bool, error) {
	result, err := t.exec(ctx, `
		INSERT INTO transcript_records (id, thread_id, author, kind, body, timestamp_ms, server_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		rec.ID, rec.ThreadID, rec.Author, string(rec.Kind), rec.Body, rec.TimestampMs, rec.ServerHash)
	if err != nil {
		return false, fmt.Errorf("append transcript for %s: %w", rec.ThreadID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append transcript for %s: %w", rec.ThreadID, err)
	}
	return n > 0, nil
}

func (t *Tx) ListTranscript(ctx context.Context, threadID string, limit int) ([]models.TranscriptRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.query(ctx, `
		SELECT id, thread_id, author, kind, body, timestamp_ms, server_hash
		FROM transcript_records
		WHERE thread_id = ?
		ORDER BY timestamp_ms, id
		LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transcript for %s: %w", threadID, err)
	}
	defer rows.Close()

	var records []models.TranscriptRecord
	for rows.Next() {
		var rec models.TranscriptRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.ThreadID, &rec.Author, &kind, &rec.Body, &rec.TimestampMs, &rec.ServerHash); err != nil {
			return nil, err
		}
		rec.Kind = models.Kind(kind)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (t *Tx) IsApprovedContact(ctx context.Context, profileID string) (bool, error) {
	var approved bool
	err := t.queryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM contacts
			WHERE profile_id = ? AND is_approved = TRUE
		)`, profileID).Scan(&approved)
	if err != nil {
		return false, fmt.Errorf("check contact %s: %w", profileID, err)
	}
	return approved, nil
}

func (t *Tx) ApproveContact(ctx context.Context, profileID string) error {
	_, err := t.exec(ctx, `
		INSERT INTO contacts (profile_id, is_approved)
		VALUES (?, TRUE)
		ON CONFLICT (profile_id) DO UPDATE SET is_approved = TRUE`, profileID)
	if err != nil {
		return fmt.Errorf("approve contact %s: %w", profileID, err)
	}
	return nil
}

func (t *Tx) SaveDisappearingConfig(ctx context.Context, cfg models.DisappearingConfig) error {
	_, err := t.exec(ctx, `
		INSERT INTO disappearing_configs (thread_id, enabled, duration_seconds)
		VALUES (?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE
		SET enabled = excluded.enabled, duration_seconds = excluded.duration_seconds`,
		cfg.ThreadID, cfg.Enabled, cfg.DurationSeconds)
	if err != nil {
		return fmt.Errorf("save disappearing config for %s: %w", cfg.ThreadID, err)
	}
	return nil
}

func (t *Tx) GetDisappearingConfig(ctx context.Context, threadID string) (*models.DisappearingConfig, error) {
	var cfg models.DisappearingConfig
	err := t.queryRow(ctx, `
		SELECT thread_id, enabled, duration_seconds
		FROM disappearing_configs
		WHERE thread_id = ?`, threadID).Scan(&cfg.ThreadID, &cfg.Enabled, &cfg.DurationSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get disappearing config for %s: %w", threadID, err)
	}
	return &cfg, nil
}
