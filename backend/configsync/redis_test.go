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
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/models"
)

func TestEncodeEntry_KeepsSecretKey(t *testing.T) {
	in := Entry{
		ThreadID: "g",
		Name:     "crew",
		Members:  []string{"b"},
		Admins:   []string{"a"},
		LatestKeyPair: &models.KeyPair{
			ThreadID: "g", PublicKey: []byte{1, 2}, SecretKey: []byte{3, 4}, ReceivedTimestampMs: 9, Hash: "h",
		},
		Timestamps: map[Domain]int64{DomainGroupInfo: 7},
	}

	data, err := encodeEntry(in)
	require.NoError(t, err)
	out, err := decodeEntry(data)
	require.NoError(t, err)

	require.NotNil(t, out.LatestKeyPair)
	assert.Equal(t, []byte{3, 4}, out.LatestKeyPair.SecretKey)
	assert.Equal(t, in.Timestamps, out.Timestamps)
	assert.Equal(t, in.Admins, out.Admins)
}

func TestDecodeEntry_Tombstone(t *testing.T) {
	out, err := decodeEntry([]byte(`{"thread_id":"g","removed":true}`))
	require.NoError(t, err)
	assert.True(t, out.Removed)
	assert.NotNil(t, out.Timestamps)
	assert.Nil(t, out.LatestKeyPair)
}

func TestRedisReplica_PushPull(t *testing.T) {
	url := os.Getenv("EFGROUPS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("EFGROUPS_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	rep := NewRedisReplica(rdb)
	require.NoError(t, rep.Push(ctx, Entry{ThreadID: "test-g", Name: "crew", Timestamps: map[Domain]int64{DomainGroupInfo: 3}}))
	t.Cleanup(func() { rdb.Del(ctx, configKeyPrefix+"test-g") })

	entries, err := rep.Pull(ctx)
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.ThreadID == "test-g" {
			found = true
			assert.Equal(t, "crew", e.Name)
		}
	}
	assert.True(t, found)
}
