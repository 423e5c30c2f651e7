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

func (t *Tx) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var g models.Group
	var variant string
	err := t.queryRow(ctx, `
		SELECT group_id, name, formation_timestamp_ms, should_poll, invited, variant
		FROM groups
		WHERE group_id = ?`, groupID).Scan(
		&g.ID, &g.Name, &g.FormationTimestampMs, &g.ShouldPoll, &g.Invited, &variant)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group %s: %w", groupID, err)
	}
	g.Variant = models.ThreadVariant(variant)
	return &g, nil
}

func (t *Tx) SaveGroup(ctx context.Context, g models.Group) error {
	_, err := t.exec(ctx, `
		INSERT INTO groups (group_id, name, formation_timestamp_ms, should_poll, invited, variant)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (group_id) DO UPDATE
		SET name = excluded.name,
			formation_timestamp_ms = excluded.formation_timestamp_ms,
			should_poll = excluded.should_poll,
			invited = excluded.invited,
			variant = excluded.variant`,
		g.ID, g.Name, g.FormationTimestampMs, g.ShouldPoll, g.Invited, string(g.Variant))
	if err != nil {
		return fmt.Errorf("save group %s: %w", g.ID, err)
	}
	return nil
}

func (t *Tx) UpdateGroupName(ctx context.Context, groupID, name string) error {
	res, err := t.exec(ctx, `UPDATE groups SET name = ? WHERE group_id = ?`, name, groupID)
	if err != nil {
		return fmt.Errorf("rename group %s: %w", groupID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *Tx) ListGroups(ctx context.Context) ([]models.Group, error) {
	rows, err := t.query(ctx, `
		SELECT group_id, name, formation_timestamp_ms, should_poll, invited, variant
		FROM groups
		ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		var variant string
		if err := rows.Scan(&g.ID, &g.Name, &g.FormationTimestampMs, &g.ShouldPoll, &g.Invited, &variant); err != nil {
			return nil, err
		}
		g.Variant = models.ThreadVariant(variant)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (t *Tx) ListGroupIDs(ctx context.Context, variant models.ThreadVariant) ([]string, error) {
	rows, err := t.query(ctx, `
		SELECT group_id FROM groups
		WHERE variant = ?
		ORDER BY group_id`, string(variant))
	if err != nil {
		return nil, fmt.Errorf("list %s group ids: %w", variant, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *Tx) PurgeGroup(ctx context.Context, groupID string, scope storage.PurgeScope) error {
	stmts := []string{
		`DELETE FROM key_pairs WHERE thread_id = ?`,
		`DELETE FROM group_members WHERE group_id = ?`,
	}
	switch scope {
	case storage.PurgeAllData:
		stmts = append(stmts,
			`DELETE FROM transcript_records WHERE thread_id = ?`,
			`DELETE FROM disappearing_configs WHERE thread_id = ?`,
			`DELETE FROM groups WHERE group_id = ?`,
		)
	case storage.PurgeMembershipOnly:
		stmts = append(stmts, `UPDATE groups SET should_poll = FALSE, invited = FALSE WHERE group_id = ?`)
	}
	for _, stmt := range stmts {
		if _, err := t.exec(ctx, stmt, groupID); err != nil {
			return fmt.Errorf("purge group %s: %w", groupID, err)
		}
	}
	return nil
}
