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

// Package redis holds the Redis-backed delivery queues and lifecycle event
// channels.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efgroups/backend/models"
)

const (
	// KeyDistributionTTL bounds how long a sealed key pair waits for pickup.
	KeyDistributionTTL = 24 * time.Hour

	outboxQueuePrefix   = "legacygroup:outbox:queue:" // {profileId} - list of message ids
	outboxMessagePrefix = "legacygroup:outbox:msg:"   // {messageId} - encoded control message
	outboxNotifyPrefix  = "legacygroup:outbox:notify:"
)

// Pending is a queued outbound control message.
type Pending struct {
	ID      string                `json:"id"`
	Message models.ControlMessage `json:"message"`
}

// Outbox queues control messages per recipient until they are collected.
type Outbox struct {
	rdb *redis.Client
}

func NewOutbox(rdb *redis.Client) *Outbox {
	return &Outbox{rdb: rdb}
}

// Send stores msg with KeyDistributionTTL, appends it to the recipient's
// queue and publishes a notification.
func (o *Outbox) Send(ctx context.Context, recipient string, msg models.ControlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal control message: %w", err)
	}

	id := uuid.New().String()
	if err := o.rdb.Set(ctx, outboxMessagePrefix+id, data, KeyDistributionTTL).Err(); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	queueKey := outboxQueuePrefix + recipient
	if err := o.rdb.RPush(ctx, queueKey, id).Err(); err != nil {
		return fmt.Errorf("failed to add to queue: %w", err)
	}
	o.rdb.Expire(ctx, queueKey, KeyDistributionTTL)

	notification, _ := json.Marshal(map[string]string{
		"type":       "legacy_group_control",
		"message_id": id,
		"kind":       string(msg.Payload.Kind()),
	})
	o.rdb.Publish(ctx, outboxNotifyPrefix+recipient, notification)
	return nil
}

// Pending returns up to limit queued messages for recipient, oldest first.
func (o *Outbox) Pending(ctx context.Context, recipient string, limit int) ([]Pending, error) {
	if limit <= 0 {
		limit = 50
	}
	queueKey := outboxQueuePrefix + recipient
	ids, err := o.rdb.LRange(ctx, queueKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get queue: %w", err)
	}

	var out []Pending
	for _, id := range ids {
		data, err := o.rdb.Get(ctx, outboxMessagePrefix+id).Bytes()
		if errors.Is(err, redis.Nil) {
			// expired, drop it from the queue
			o.rdb.LRem(ctx, queueKey, 1, id)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to get message: %w", err)
		}

		var msg models.ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		out = append(out, Pending{ID: id, Message: msg})
	}
	return out, nil
}

// Ack removes a collected message.
func (o *Outbox) Ack(ctx context.Context, recipient, id string) error {
	if err := o.rdb.LRem(ctx, outboxQueuePrefix+recipient, 1, id).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	o.rdb.Del(ctx, outboxMessagePrefix+id)
	return nil
}

// CleanupExpired drops ids whose message has expired and deletes empty
// queues. It is run periodically.
func (o *Outbox) CleanupExpired(ctx context.Context) error {
	iter := o.rdb.Scan(ctx, 0, outboxQueuePrefix+"*", 0).Iterator()

	for iter.Next(ctx) {
		queueKey := iter.Val()

		ids, err := o.rdb.LRange(ctx, queueKey, 0, -1).Result()
		if err != nil {
			continue
		}
		for _, id := range ids {
			if o.rdb.Exists(ctx, outboxMessagePrefix+id).Val() == 0 {
				o.rdb.LRem(ctx, queueKey, 1, id)
			}
		}

		if o.rdb.LLen(ctx, queueKey).Val() == 0 {
			o.rdb.Del(ctx, queueKey)
		}
	}

	return iter.Err()
}
