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
	"fmt"
)

func (t *Tx) LockConfigTimestamp(ctx context.Context, threadID, domain string) (int64, error) {
	// materialize the row first so a missing one can be locked too
	_, err := t.exec(ctx, `
		INSERT INTO config_timestamps (thread_id, domain, timestamp_ms)
		VALUES (?, ?, 0)
		ON CONFLICT (thread_id, domain) DO NOTHING`, threadID, domain)
	if err != nil {
		return 0, fmt.Errorf("init config timestamp for %s: %w", threadID, err)
	}

	query := `
		SELECT timestamp_ms FROM config_timestamps
		WHERE thread_id = ? AND domain = ?`
	if t.dialect.RowLocks {
		query += ` FOR UPDATE`
	}
	var ts int64
	if err := t.queryRow(ctx, query, threadID, domain).Scan(&ts); err != nil {
		return 0, fmt.Errorf("read config timestamp for %s: %w", threadID, err)
	}
	return ts, nil
}

func (t *Tx) AdvanceConfigTimestamp(ctx context.Context, threadID, domain string, tsMs int64) error {
	_, err := t.exec(ctx, `
		INSERT INTO config_timestamps (thread_id, domain, timestamp_ms)
		VALUES (?, ?, ?)
		ON CONFLICT (thread_id, domain) DO UPDATE
		SET timestamp_ms = excluded.timestamp_ms
		WHERE excluded.timestamp_ms > config_timestamps.timestamp_ms`,
		threadID, domain, tsMs)
	if err != nil {
		return fmt.Errorf("advance config timestamp for %s: %w", threadID, err)
	}
	return nil
}
