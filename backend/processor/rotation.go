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

// handleKeyPairRotation stores a rotated key pair sealed to the local
// identity. It does not consult the gate: key material is accepted from any
// current admin regardless of message age.
func (p *Processor) handleKeyPairRotation(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, msg models.ControlMessage, r models.KeyPairRotation) (Result, error) {
	groupID := r.GroupID
	if groupID == "" {
		groupID = msg.ThreadID
	}
	log := p.log.With().Str("group_id", groupID).Str("sender", msg.Sender).Logger()

	if msg.Sender == "" {
		return Result{Outcome: OutcomeDropped}, nil
	}
	if _, err := tx.GetGroup(ctx, groupID); errors.Is(err, storage.ErrNotFound) {
		log.Warn().Msg("key pair for unknown group dropped")
		return Result{Outcome: OutcomeNoGroup}, nil
	} else if err != nil {
		return Result{}, err
	}

	members, err := tx.ListMembers(ctx, groupID)
	if err != nil {
		return Result{}, err
	}
	if m, ok := models.Find(members, msg.Sender); !ok || m.Role != models.RoleAdmin {
		log.Info().Msg("key pair from non-admin ignored")
		return Result{Outcome: OutcomeUnauthorized}, nil
	}

	wrapper, ok := keypairs.FindWrapper(r.Wrappers, p.localID)
	if !ok {
		return Result{Outcome: OutcomeIgnored}, nil
	}
	public, secret, err := p.identity.OpenWrapper(wrapper)
	if err != nil {
		log.Warn().Err(err).Msg("could not open key pair wrapper")
		return Result{Outcome: OutcomeCryptoFailure}, nil
	}
	kp, err := keypairs.New(groupID, public, secret, p.now().UnixMilli())
	if err != nil {
		log.Warn().Err(err).Msg("wrapper holds an invalid key pair")
		return Result{Outcome: OutcomeCryptoFailure}, nil
	}

	switch err := tx.InsertKeyPair(ctx, kp); {
	case errors.Is(err, storage.ErrDuplicateKeyPair):
		return Result{Outcome: OutcomeDuplicate}, nil
	case err != nil:
		return Result{}, err
	}

	// key material carries no change time
	if err := p.pushSnapshot(ctx, tx, q, groupID, configsync.Snapshot{LatestKeyPair: &kp}, 0); err != nil {
		return Result{}, err
	}
	log.Info().Str("key_hash", kp.Hash).Msg("group key pair rotated")
	return Result{Outcome: OutcomeApplied, KeyStored: true}, nil
}
