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

package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// EventsChannel carries lifecycle events for pollers and push workers.
	EventsChannel = "legacygroup:events"

	pollingSetKey    = "legacygroup:polling"
	pushSubsPrefix   = "legacygroup:push:" // {profileId} - set of group ids
	eventStartPoll   = "start_polling"
	eventPurgeAll    = "purge_all"
	eventPurgeMember = "purge_membership"
	eventResubscribe = "resubscribe_push"
)

// Event is published on EventsChannel.
type Event struct {
	Type     string   `json:"type"`
	GroupID  string   `json:"group_id,omitempty"`
	LocalID  string   `json:"local_id,omitempty"`
	GroupIDs []string `json:"group_ids,omitempty"`
	AtMs     int64    `json:"at_ms"`
}

// Effects keeps the polling set and push subscriptions in Redis and
// announces every change on EventsChannel. Failures are logged.
type Effects struct {
	rdb *redis.Client
	log zerolog.Logger
	now func() time.Time
}

func NewEffects(rdb *redis.Client, log zerolog.Logger) *Effects {
	return &Effects{
		rdb: rdb,
		log: log.With().Str("component", "lifecycle").Logger(),
		now: time.Now,
	}
}

func (e *Effects) StartPollingIfNeeded(ctx context.Context, groupID string) {
	added, err := e.rdb.SAdd(ctx, pollingSetKey, groupID).Result()
	if err != nil {
		e.log.Warn().Err(err).Str("group_id", groupID).Msg("failed to mark group for polling")
		return
	}
	if added == 0 {
		return
	}
	e.publish(ctx, Event{Type: eventStartPoll, GroupID: groupID})
}

func (e *Effects) PurgeAllData(ctx context.Context, groupID string) {
	e.stopPolling(ctx, groupID)
	e.publish(ctx, Event{Type: eventPurgeAll, GroupID: groupID})
}

func (e *Effects) PurgeMembershipOnly(ctx context.Context, groupID string) {
	e.stopPolling(ctx, groupID)
	e.publish(ctx, Event{Type: eventPurgeMember, GroupID: groupID})
}

// ResubscribePush replaces the push subscription set for localID.
func (e *Effects) ResubscribePush(ctx context.Context, localID string, groupIDs []string) {
	key := pushSubsPrefix + localID
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(groupIDs) > 0 {
			members := make([]any, len(groupIDs))
			for i, id := range groupIDs {
				members[i] = id
			}
			pipe.SAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		e.log.Warn().Err(err).Str("profile_id", localID).Msg("failed to resubscribe push")
		return
	}
	e.publish(ctx, Event{Type: eventResubscribe, LocalID: localID, GroupIDs: groupIDs})
}

// Polling lists groups currently marked for polling.
func (e *Effects) Polling(ctx context.Context) ([]string, error) {
	return e.rdb.SMembers(ctx, pollingSetKey).Result()
}

func (e *Effects) stopPolling(ctx context.Context, groupID string) {
	if err := e.rdb.SRem(ctx, pollingSetKey, groupID).Err(); err != nil {
		e.log.Warn().Err(err).Str("group_id", groupID).Msg("failed to stop polling")
	}
}

func (e *Effects) publish(ctx context.Context, ev Event) {
	ev.AtMs = e.now().UnixMilli()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := e.rdb.Publish(ctx, EventsChannel, data).Err(); err != nil {
		e.log.Warn().Err(err).Str("event", ev.Type).Msg("failed to publish lifecycle event")
	}
}
