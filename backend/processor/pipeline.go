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

	"github.com/google/uuid"

	"github.com/efchatnet/efgroups/backend/lifecycle"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

// change is what a mutation closure sees of the message being applied.
type change struct {
	sender  string
	group   models.Group
	members []models.Member
	tsMs    int64
}

// changeFunc mutates store and config for one message kind. The returned
// outcome lets a closure refuse the change after the shared checks passed.
type changeFunc func(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, c change) (Outcome, error)

// processIfValid runs the checks shared by every membership and metadata
// message, invokes change when they pass, and records the message in the
// group transcript whenever the group still exists afterwards.
func (p *Processor) processIfValid(ctx context.Context, tx storage.Tx, q *lifecycle.Queue, msg models.ControlMessage, fn changeFunc) (Result, error) {
	log := p.log.With().
		Str("thread_id", msg.ThreadID).
		Str("sender", msg.Sender).
		Str("kind", string(msg.Payload.Kind())).
		Logger()

	if msg.Sender == "" {
		return Result{Outcome: OutcomeDropped}, nil
	}

	group, err := tx.GetGroup(ctx, msg.ThreadID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn().Msg("control message for unknown group dropped")
		return Result{Outcome: OutcomeNoGroup}, nil
	} else if err != nil {
		return Result{}, err
	}

	tsMs := p.timestamp(msg)
	res := Result{Outcome: OutcomeStale}

	permitted, err := p.permits(ctx, tx, group.ID, tsMs)
	if err != nil {
		return Result{}, err
	}
	if permitted {
		switch group.Variant {
		case models.ThreadLegacyGroup:
			members, err := tx.ListMembers(ctx, group.ID)
			if err != nil {
				return Result{}, err
			}
			switch {
			case tsMs < group.FormationTimestampMs:
				log.Debug().Int64("formation_ms", group.FormationTimestampMs).Msg("message predates group formation")
				res.Outcome = OutcomePredatesGroup
			case !isMember(members, msg.Sender):
				log.Info().Msg("control message from non-member ignored")
				res.Outcome = OutcomeUnauthorized
			default:
				outcome, err := fn(ctx, tx, q, change{
					sender:  msg.Sender,
					group:   *group,
					members: members,
					tsMs:    tsMs,
				})
				if err != nil {
					return Result{}, err
				}
				res.Outcome = outcome
			}
		case models.ThreadGroup:
			res.Outcome = OutcomeIgnored
		default:
			log.Warn().Str("variant", string(group.Variant)).Msg("control message for non-group thread dropped")
			return Result{Outcome: OutcomeDropped}, nil
		}
	}

	if _, err := tx.GetGroup(ctx, group.ID); errors.Is(err, storage.ErrNotFound) {
		return res, nil
	} else if err != nil {
		return Result{}, err
	}
	recorded, err := tx.AppendTranscript(ctx, models.TranscriptRecord{
		ID:          uuid.New().String(),
		ThreadID:    group.ID,
		Author:      msg.Sender,
		Kind:        msg.Payload.Kind(),
		Body:        models.InfoBody(msg.Payload, msg.Sender),
		TimestampMs: tsMs,
		ServerHash:  msg.ServerHash,
	})
	if err != nil {
		return Result{}, err
	}
	res.Recorded = recorded
	return res, nil
}

func isMember(members []models.Member, profileID string) bool {
	_, ok := models.Find(members, profileID)
	return ok
}
