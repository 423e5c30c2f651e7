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

package configsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efgroups/backend/models"
)

const (
	// legacygroup:config:{threadId} - JSON encoded replicaEntry
	configKeyPrefix = "legacygroup:config:"
	// published after every push so peers can pull early
	configNotifyChannel = "legacygroup:config:updated"
)

// RedisReplica stores entries as JSON documents in Redis.
type RedisReplica struct {
	rdb *redis.Client
}

func NewRedisReplica(rdb *redis.Client) *RedisReplica {
	return &RedisReplica{rdb: rdb}
}

// replicaEntry is the stored form. Key material is kept explicitly because
// models.KeyPair hides the secret from JSON.
type replicaEntry struct {
	ThreadID      string                     `json:"thread_id"`
	Name          string                     `json:"name"`
	Members       []string                   `json:"members"`
	Admins        []string                   `json:"admins"`
	KeyPublic     []byte                     `json:"key_public,omitempty"`
	KeySecret     []byte                     `json:"key_secret,omitempty"`
	KeyReceivedMs int64                      `json:"key_received_ms,omitempty"`
	KeyHash       string                     `json:"key_hash,omitempty"`
	Disappearing  *models.DisappearingConfig `json:"disappearing,omitempty"`
	JoinedAtMs    int64                      `json:"joined_at_ms"`
	Timestamps    map[Domain]int64           `json:"timestamps"`
	Removed       bool                       `json:"removed,omitempty"`
}

func encodeEntry(e Entry) ([]byte, error) {
	re := replicaEntry{
		ThreadID:     e.ThreadID,
		Name:         e.Name,
		Members:      e.Members,
		Admins:       e.Admins,
		Disappearing: e.Disappearing,
		JoinedAtMs:   e.JoinedAtMs,
		Timestamps:   e.Timestamps,
		Removed:      e.Removed,
	}
	if kp := e.LatestKeyPair; kp != nil {
		re.KeyPublic = kp.PublicKey
		re.KeySecret = kp.SecretKey
		re.KeyReceivedMs = kp.ReceivedTimestampMs
		re.KeyHash = kp.Hash
	}
	return json.Marshal(re)
}

func decodeEntry(data []byte) (Entry, error) {
	var re replicaEntry
	if err := json.Unmarshal(data, &re); err != nil {
		return Entry{}, err
	}
	e := Entry{
		ThreadID:     re.ThreadID,
		Name:         re.Name,
		Members:      re.Members,
		Admins:       re.Admins,
		Disappearing: re.Disappearing,
		JoinedAtMs:   re.JoinedAtMs,
		Timestamps:   re.Timestamps,
		Removed:      re.Removed,
	}
	if e.Timestamps == nil {
		e.Timestamps = make(map[Domain]int64)
	}
	if len(re.KeyPublic) > 0 {
		e.LatestKeyPair = &models.KeyPair{
			ThreadID:            re.ThreadID,
			PublicKey:           re.KeyPublic,
			SecretKey:           re.KeySecret,
			ReceivedTimestampMs: re.KeyReceivedMs,
			Hash:                re.KeyHash,
		}
	}
	return e, nil
}

// Push stores e and notifies subscribers.
func (s *RedisReplica) Push(ctx context.Context, e Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return fmt.Errorf("failed to marshal config entry: %w", err)
	}
	if err := s.rdb.Set(ctx, configKeyPrefix+e.ThreadID, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store config entry: %w", err)
	}
	s.rdb.Publish(ctx, configNotifyChannel, e.ThreadID)
	return nil
}

// Pull returns every stored entry. Malformed documents are skipped.
func (s *RedisReplica) Pull(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	iter := s.rdb.Scan(ctx, 0, configKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to get config entry: %w", err)
		}
		e, err := decodeEntry(data)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan config entries: %w", err)
	}
	return entries, nil
}

// Subscribe returns a subscription to push notifications from peers.
func (s *RedisReplica) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, configNotifyChannel)
}
