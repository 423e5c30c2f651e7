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

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/efchatnet/efgroups/backend/configsync"
	"github.com/efchatnet/efgroups/backend/keypairs"
	"github.com/efchatnet/efgroups/backend/lifecycle"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

// handleNew materializes a group from a creation message. forceApprove skips
// the approved-contact check and fromConfig skips the gate; both are set when
// the creation comes from config sync.
func (p *Processor) handleNew(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, msg models.ControlMessage, n models.New, forceApprove, fromConfig bool) (Result, error) {
	log := p.log.With().Str("group_id", n.GroupID).Str("sender", msg.Sender).Logger()
	if n.GroupID == "" {
		log.Warn().Msg("new group message without group id")
		return Result{Outcome: OutcomeDropped}, nil
	}

	nowMs := p.now().UnixMilli()
	kp, err := keypairs.New(n.GroupID, n.KeyPair.PublicKey, n.KeyPair.SecretKey, nowMs)
	if err != nil {
		log.Warn().Err(err).Msg("new group carries an invalid key pair")
		return Result{Outcome: OutcomeCryptoFailure}, nil
	}

	if !forceApprove {
		approved, err := anyApproved(ctx, tx, n.Admins)
		if err != nil {
			return Result{}, err
		}
		if !approved {
			log.Info().Msg("new group from unapproved admins ignored")
			return Result{Outcome: OutcomeUnauthorized}, nil
		}
	}

	formationMs := p.timestamp(msg)
	if !fromConfig {
		ok, err := p.permits(ctx, tx, n.GroupID, formationMs)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return p.depositKeyPair(ctx, tx, log, kp)
		}
	}

	err = tx.SaveGroup(ctx, models.Group{
		ID:                   n.GroupID,
		Name:                 n.Name,
		FormationTimestampMs: formationMs,
		ShouldPoll:           true,
		Invited:              false,
		Variant:              models.ThreadLegacyGroup,
	})
	if err != nil {
		return Result{}, err
	}

	disappearing := models.DisappearingConfig{
		ThreadID:        n.GroupID,
		Enabled:         n.ExpirationTimerSeconds > 0,
		DurationSeconds: n.ExpirationTimerSeconds,
	}
	if err := tx.SaveDisappearingConfig(ctx, disappearing); err != nil {
		return Result{}, err
	}

	members := memberRows(n.Members, n.Admins)
	if err := tx.ReplaceMembers(ctx, n.GroupID, members); err != nil {
		return Result{}, err
	}

	res := Result{Outcome: OutcomeApplied}
	switch err := tx.InsertKeyPair(ctx, kp); {
	case err == nil:
		res.KeyStored = true
	case errors.Is(err, storage.ErrDuplicateKeyPair):
	default:
		return Result{}, err
	}

	if !fromConfig {
		recorded, err := tx.AppendTranscript(ctx, models.TranscriptRecord{
			ID:          uuid.New().String(),
			ThreadID:    n.GroupID,
			Author:      msg.Sender,
			Kind:        models.KindNew,
			Body:        models.InfoBody(n, msg.Sender),
			TimestampMs: formationMs,
			ServerHash:  msg.ServerHash,
		})
		if err != nil {
			return Result{}, err
		}
		res.Recorded = recorded
	}

	legacyIDs, err := tx.ListGroupIDs(ctx, models.ThreadLegacyGroup)
	if err != nil {
		return Result{}, err
	}

	name := n.Name
	joined := formationMs
	err = p.pushSnapshot(ctx, tx, q, n.GroupID, configsync.Snapshot{
		Name:          &name,
		Members:       orEmpty(models.Standard(members)),
		Admins:        orEmpty(models.Admins(members)),
		LatestKeyPair: &kp,
		Disappearing:  &disappearing,
		JoinedAtMs:    &joined,
	}, formationMs)
	if err != nil {
		return Result{}, err
	}

	groupID := n.GroupID
	q.Add(func(ctx context.Context) {
		p.effects.StartPollingIfNeeded(ctx, groupID)
		p.effects.ResubscribePush(ctx, p.localID, legacyIDs)
	})

	log.Info().Int("members", len(members)).Msg("legacy group created")
	return res, nil
}

// depositKeyPair stores the key pair of a creation message the gate refused,
// provided the group already exists. Membership and metadata stay untouched.
func (p *Processor) depositKeyPair(ctx context.Context, tx storage.Tx, log zerolog.Logger, kp models.KeyPair) (Result, error) {
	if _, err := tx.GetGroup(ctx, kp.ThreadID); errors.Is(err, storage.ErrNotFound) {
		log.Debug().Msg("stale new group message for unknown group dropped")
		return Result{Outcome: OutcomeNoGroup}, nil
	} else if err != nil {
		return Result{}, err
	}

	switch err := tx.InsertKeyPair(ctx, kp); {
	case err == nil:
		log.Debug().Msg("key pair from stale new group message stored")
		return Result{Outcome: OutcomeStale, KeyStored: true}, nil
	case errors.Is(err, storage.ErrDuplicateKeyPair):
		return Result{Outcome: OutcomeStale}, nil
	default:
		return Result{}, err
	}
}

func anyApproved(ctx context.Context, tx storage.Tx, admins []string) (bool, error) {
	for _, admin := range admins {
		ok, err := tx.IsApprovedContact(ctx, admin)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// memberRows builds one row per profile. An id listed as both member and
// admin becomes an admin.
func memberRows(memberIDs, adminIDs []string) []models.Member {
	roles := make(map[string]models.Role, len(memberIDs)+len(adminIDs))
	for _, id := range memberIDs {
		if id != "" {
			roles[id] = models.RoleStandard
		}
	}
	for _, id := range adminIDs {
		if id != "" {
			roles[id] = models.RoleAdmin
		}
	}

	rows := make([]models.Member, 0, len(roles))
	for id, role := range roles {
		rows = append(rows, models.Member{ProfileID: id, Role: role, RoleStatus: models.RoleStatusAccepted})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProfileID < rows[j].ProfileID })
	return rows
}
