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

// InsertKeyPair stores kp, reporting storage.ErrDuplicateKeyPair when its hash
// already exists. The insert runs under a savepoint so a duplicate leaves the
// surrounding transaction usable.
func (t *Tx) InsertKeyPair(ctx context.Context, kp models.KeyPair) error {
	if _, err := t.exec(ctx, `SAVEPOINT key_pair_insert`); err != nil {
		return fmt.Errorf("key pair savepoint: %w", err)
	}

	_, err := t.exec(ctx, `
		INSERT INTO key_pairs (hash, thread_id, public_key, secret_key, received_timestamp_ms)
		VALUES (?, ?, ?, ?, ?)`,
		kp.Hash, kp.ThreadID, kp.PublicKey, kp.SecretKey, kp.ReceivedTimestampMs)
	if err != nil {
		if _, rbErr := t.exec(ctx, `ROLLBACK TO SAVEPOINT key_pair_insert`); rbErr != nil {
			return fmt.Errorf("rollback key pair savepoint: %w", rbErr)
		}
		if _, relErr := t.exec(ctx, `RELEASE SAVEPOINT key_pair_insert`); relErr != nil {
			return fmt.Errorf("release key pair savepoint: %w", relErr)
		}
		if t.dialect.IsUniqueViolation != nil && t.dialect.IsUniqueViolation(err) {
			return storage.ErrDuplicateKeyPair
		}
		return fmt.Errorf("insert key pair for %s: %w", kp.ThreadID, err)
	}

	if _, err := t.exec(ctx, `RELEASE SAVEPOINT key_pair_insert`); err != nil {
		return fmt.Errorf("release key pair savepoint: %w", err)
	}
	return nil
}

func (t *Tx) LatestKeyPair(ctx context.Context, threadID string) (*models.KeyPair, error) {
	var kp models.KeyPair
	err := t.queryRow(ctx, `
		SELECT hash, thread_id, public_key, secret_key, received_timestamp_ms
		FROM key_pairs
		WHERE thread_id = ?
		ORDER BY received_timestamp_ms DESC, hash
		LIMIT 1`, threadID).Scan(
		&kp.Hash, &kp.ThreadID, &kp.PublicKey, &kp.SecretKey, &kp.ReceivedTimestampMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest key pair for %s: %w", threadID, err)
	}
	return &kp, nil
}

func (t *Tx) CountKeyPairs(ctx context.Context, threadID string) (int, error) {
	var count int
	err := t.queryRow(ctx, `SELECT COUNT(*) FROM key_pairs WHERE thread_id = ?`, threadID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count key pairs for %s: %w", threadID, err)
	}
	return count, nil
}
