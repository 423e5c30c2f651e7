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

	"github.com/efchatnet/efgroups/backend/configsync"
	"github.com/efchatnet/efgroups/backend/keypairs"
	"github.com/efchatnet/efgroups/backend/lifecycle"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

// SyncFromConfig brings the store in line with an authoritative entry that
// was merged from another device. A group missing locally is created through
// the creation path without the contact check or the gate.
func (p *Processor) SyncFromConfig(ctx context.Context, e configsync.Entry) (Result, error) {
	if !p.enabled {
		return Result{}, ErrProtocolDisabled
	}

	unlock := p.locks.lock(e.ThreadID)
	defer unlock()

	var q lifecycle.Queue
	var res Result
	err := p.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		res, err = p.syncEntry(ctx, tx, &q, e)
		return err
	})
	if err != nil {
		q.Discard()
		return Result{}, err
	}
	q.Flush(context.WithoutCancel(ctx))
	return res, nil
}

func (p *Processor) syncEntry(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, e configsync.Entry) (Result, error) {
	group, err := tx.GetGroup(ctx, e.ThreadID)
	missing := errors.Is(err, storage.ErrNotFound)
	if err != nil && !missing {
		return Result{}, err
	}
	// merged change times gate local replays, tombstones included
	for domain, ts := range e.Timestamps {
		if ts <= 0 {
			continue
		}
		if err := tx.AdvanceConfigTimestamp(ctx, e.ThreadID, string(domain), ts); err != nil {
			return Result{}, err
		}
	}

	if e.Removed {
		if missing || group.Variant != models.ThreadLegacyGroup {
			return Result{Outcome: OutcomeIgnored}, nil
		}
		if err := tx.PurgeGroup(ctx, e.ThreadID, storage.PurgeAllData); err != nil {
			return Result{}, err
		}
		groupID := e.ThreadID
		q.Add(func(ctx context.Context) { p.effects.PurgeAllData(ctx, groupID) })
		return Result{Outcome: OutcomeApplied}, nil
	}

	if missing {
		if e.LatestKeyPair == nil {
			p.log.Warn().Str("group_id", e.ThreadID).Msg("config entry without key pair cannot create group")
			return Result{Outcome: OutcomeDropped}, nil
		}
		n := models.New{
			GroupID: e.ThreadID,
			Name:    e.Name,
			KeyPair: models.WireKeyPair{
				PublicKey: e.LatestKeyPair.PublicKey,
				SecretKey: e.LatestKeyPair.SecretKey,
			},
			Members: e.Members,
			Admins:  e.Admins,
		}
		if e.Disappearing != nil && e.Disappearing.Enabled {
			n.ExpirationTimerSeconds = e.Disappearing.DurationSeconds
		}
		msg := models.ControlMessage{ThreadID: e.ThreadID, SentTimestampMs: e.JoinedAtMs, Payload: n}
		return p.handleNew(ctx, tx, q, msg, n, true, true)
	}

	if group.Variant != models.ThreadLegacyGroup {
		return Result{Outcome: OutcomeIgnored}, nil
	}

	if err := tx.UpdateGroupName(ctx, e.ThreadID, e.Name); err != nil {
		return Result{}, err
	}
	current, err := tx.ListMembers(ctx, e.ThreadID)
	if err != nil {
		return Result{}, err
	}
	rows := memberRows(e.Members, e.Admins)
	// zombies are local bookkeeping the config does not carry
	for _, z := range models.Zombies(current) {
		if _, ok := models.Find(rows, z); !ok {
			rows = append(rows, models.Member{ProfileID: z, Role: models.RoleZombie, RoleStatus: models.RoleStatusAccepted})
		}
	}
	if err := tx.ReplaceMembers(ctx, e.ThreadID, rows); err != nil {
		return Result{}, err
	}
	if e.Disappearing != nil {
		dc := *e.Disappearing
		dc.ThreadID = e.ThreadID
		if err := tx.SaveDisappearingConfig(ctx, dc); err != nil {
			return Result{}, err
		}
	}

	res := Result{Outcome: OutcomeApplied}
	if e.LatestKeyPair != nil {
		kp, err := keypairs.New(e.ThreadID, e.LatestKeyPair.PublicKey, e.LatestKeyPair.SecretKey, e.LatestKeyPair.ReceivedTimestampMs)
		if err != nil {
			p.log.Warn().Err(err).Str("group_id", e.ThreadID).Msg("config entry carries an invalid key pair")
			return res, nil
		}
		switch err := tx.InsertKeyPair(ctx, kp); {
		case err == nil:
			res.KeyStored = true
		case !errors.Is(err, storage.ErrDuplicateKeyPair):
			return Result{}, err
		}
	}
	return res, nil
}
