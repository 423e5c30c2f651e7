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

	"github.com/efchatnet/efgroups/backend/models"
)

func (t *Tx) ListMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	rows, err := t.query(ctx, `
		SELECT group_id, profile_id, role, role_status, is_hidden
		FROM group_members
		WHERE group_id = ?
		ORDER BY profile_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", groupID, err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		var role string
		if err := rows.Scan(&m.GroupID, &m.ProfileID, &role, &m.RoleStatus, &m.IsHidden); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (t *Tx) UpsertMember(ctx context.Context, m models.Member) error {
	if m.RoleStatus == "" {
		m.RoleStatus = models.RoleStatusAccepted
	}
	_, err := t.exec(ctx, `
		INSERT INTO group_members (group_id, profile_id, role, role_status, is_hidden)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (group_id, profile_id) DO UPDATE
		SET role = excluded.role, role_status = excluded.role_status, is_hidden = excluded.is_hidden`,
		m.GroupID, m.ProfileID, string(m.Role), m.RoleStatus, m.IsHidden)
	if err != nil {
		return fmt.Errorf("upsert member %s/%s: %w", m.GroupID, m.ProfileID, err)
	}
	return nil
}

func (t *Tx) ReplaceMembers(ctx context.Context, groupID string, members []models.Member) error {
	if _, err := t.exec(ctx, `DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear members of %s: %w", groupID, err)
	}
	for _, m := range members {
		m.GroupID = groupID
		if err := t.UpsertMember(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) DeleteMembers(ctx context.Context, groupID string, profileIDs []string, roles ...models.Role) error {
	if len(profileIDs) == 0 {
		return nil
	}
	query := `DELETE FROM group_members WHERE group_id = ? AND profile_id IN (` + placeholders(len(profileIDs)) + `)`
	args := make([]any, 0, 1+len(profileIDs)+len(roles))
	args = append(args, groupID)
	for _, id := range profileIDs {
		args = append(args, id)
	}
	if len(roles) > 0 {
		query += ` AND role IN (` + placeholders(len(roles)) + `)`
		for _, r := range roles {
			args = append(args, string(r))
		}
	}
	if _, err := t.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("delete members of %s: %w", groupID, err)
	}
	return nil
}
