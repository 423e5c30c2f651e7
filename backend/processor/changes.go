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

package processor

import (
	"context"
	"errors"
	"sort"

	"github.com/efchatnet/efgroups/backend/configsync"
	"github.com/efchatnet/efgroups/backend/lifecycle"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

func (p *Processor) nameChange(n models.NameChange) changeFunc {
	return func(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, c change) (Outcome, error) {
		if err := tx.UpdateGroupName(ctx, c.group.ID, n.Name); err != nil {
			return "", err
		}
		name := n.Name
		return OutcomeApplied, p.pushSnapshot(ctx, tx, q, c.group.ID, configsync.Snapshot{Name: &name}, c.tsMs)
	}
}

func (p *Processor) membersAdded(m models.MembersAdded) changeFunc {
	return func(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, c change) (Outcome, error) {
		var added []string
		for _, id := range dedupe(m.Members) {
			existing, ok := models.Find(c.members, id)
			if ok && existing.Role == models.RoleAdmin {
				continue
			}
			if !ok || existing.Role == models.RoleZombie {
				// returning zombies become standard members again
				err := tx.UpsertMember(ctx, models.Member{
					GroupID:    c.group.ID,
					ProfileID:  id,
					Role:       models.RoleStandard,
					RoleStatus: models.RoleStatusAccepted,
				})
				if err != nil {
					return "", err
				}
			}
			added = append(added, id)
		}

		standard := union(models.Standard(c.members), added)
		if err := p.pushSnapshot(ctx, tx, q, c.group.ID, configsync.Snapshot{Members: standard}, c.tsMs); err != nil {
			return "", err
		}

		if !isAdmin(c.members, p.localID) {
			return OutcomeApplied, nil
		}
		recipients := without(added, p.localID)
		if len(recipients) == 0 {
			return OutcomeApplied, nil
		}
		latest, err := tx.LatestKeyPair(ctx, c.group.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return OutcomeApplied, nil
		} else if err != nil {
			return "", err
		}
		kp, groupID := *latest, c.group.ID
		q.Add(func(ctx context.Context) {
			if err := p.distributor.DistributeKeyPair(ctx, groupID, kp, recipients); err != nil {
				p.log.Warn().Err(err).Str("group_id", groupID).Msg("failed to send key pair to added members")
			}
		})
		return OutcomeApplied, nil
	}
}

func (p *Processor) membersRemoved(m models.MembersRemoved) changeFunc {
	return func(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, c change) (Outcome, error) {
		removed := dedupe(m.Members)
		if !isAdmin(c.members, c.sender) {
			p.log.Info().Str("group_id", c.group.ID).Str("sender", c.sender).Msg("member removal from non-admin ignored")
			return OutcomeUnauthorized, nil
		}
		if founder, ok := models.FoundingAdmin(c.members); ok && contains(removed, founder) {
			p.log.Info().Str("group_id", c.group.ID).Str("founder", founder).Msg("member removal would drop the founding admin")
			return OutcomeUnauthorized, nil
		}

		if err := tx.DeleteMembers(ctx, c.group.ID, removed, models.RoleStandard, models.RoleZombie); err != nil {
			return "", err
		}

		local, ok := models.Find(c.members, p.localID)
		if ok && local.Role != models.RoleAdmin && contains(removed, p.localID) {
			return OutcomeApplied, p.purgeAll(ctx, tx, q, c)
		}

		standard := orEmpty(without(models.Standard(c.members), removed...))
		return OutcomeApplied, p.pushSnapshot(ctx, tx, q, c.group.ID, configsync.Snapshot{Members: standard}, c.tsMs)
	}
}

// memberLeft disbands the group when an admin leaves. A departing
// non-admin stays behind as a zombie until an admin removes them.
func (p *Processor) memberLeft() changeFunc {
	return func(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, c change) (Outcome, error) {
		if isAdmin(c.members, c.sender) {
			if err := tx.DeleteMembers(ctx, c.group.ID, models.Standard(c.members), models.RoleStandard); err != nil {
				return "", err
			}
			if isMember(c.members, p.localID) {
				return OutcomeApplied, p.purgeAll(ctx, tx, q, c)
			}
			return OutcomeApplied, p.pushSnapshot(ctx, tx, q, c.group.ID, configsync.Snapshot{Members: []string{}}, c.tsMs)
		}

		if c.sender == p.localID {
			if err := tx.PurgeGroup(ctx, c.group.ID, storage.PurgeMembershipOnly); err != nil {
				return "", err
			}
			if err := p.removeConfig(ctx, tx, q, c.group.ID, c.tsMs); err != nil {
				return "", err
			}
			groupID := c.group.ID
			q.Add(func(ctx context.Context) { p.effects.PurgeMembershipOnly(ctx, groupID) })
			return OutcomeApplied, nil
		}

		if err := tx.DeleteMembers(ctx, c.group.ID, []string{c.sender}); err != nil {
			return "", err
		}
		err := tx.UpsertMember(ctx, models.Member{
			GroupID:    c.group.ID,
			ProfileID:  c.sender,
			Role:       models.RoleZombie,
			RoleStatus: models.RoleStatusAccepted,
		})
		if err != nil {
			return "", err
		}
		standard := orEmpty(without(models.Standard(c.members), c.sender))
		return OutcomeApplied, p.pushSnapshot(ctx, tx, q, c.group.ID, configsync.Snapshot{Members: standard}, c.tsMs)
	}
}

// purgeAll drops every local trace of the group and tombstones its config.
func (p *Processor) purgeAll(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, c change) error {
	if err := tx.PurgeGroup(ctx, c.group.ID, storage.PurgeAllData); err != nil {
		return err
	}
	if err := p.removeConfig(ctx, tx, q, c.group.ID, c.tsMs); err != nil {
		return err
	}
	groupID := c.group.ID
	q.Add(func(ctx context.Context) { p.effects.PurgeAllData(ctx, groupID) })
	p.log.Info().Str("group_id", groupID).Msg("local party removed, group data purged")
	return nil
}

func isAdmin(members []models.Member, profileID string) bool {
	m, ok := models.Find(members, profileID)
	return ok && m.Role == models.RoleAdmin
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func union(a, b []string) []string {
	out := dedupe(append(append([]string{}, a...), b...))
	sort.Strings(out)
	return out
}

func without(ids []string, drop ...string) []string {
	var out []string
	for _, id := range ids {
		if !contains(drop, id) {
			out = append(out, id)
		}
	}
	return out
}

func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
