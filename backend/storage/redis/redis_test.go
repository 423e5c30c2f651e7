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
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/models"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("EFGROUPS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("EFGROUPS_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestOutbox_SendPendingAck(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	o := NewOutbox(rdb)
	recipient := "05test-recipient"
	t.Cleanup(func() { rdb.Del(ctx, outboxQueuePrefix+recipient) })

	msg := models.ControlMessage{
		ThreadID: recipient,
		Sender:   "05admin",
		Payload:  models.KeyPairRotation{GroupID: "05g"},
	}
	require.NoError(t, o.Send(ctx, recipient, msg))

	pending, err := o.Pending(ctx, recipient, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	rotation, ok := pending[0].Message.Payload.(models.KeyPairRotation)
	require.True(t, ok)
	assert.Equal(t, "05g", rotation.GroupID)

	require.NoError(t, o.Ack(ctx, recipient, pending[0].ID))
	pending, err = o.Pending(ctx, recipient, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.NoError(t, o.CleanupExpired(ctx))
}

func TestEffects_PollingAndPush(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	e := NewEffects(rdb, zerolog.Nop())
	t.Cleanup(func() {
		rdb.SRem(ctx, pollingSetKey, "05test-g")
		rdb.Del(ctx, pushSubsPrefix+"05test-local")
	})

	e.StartPollingIfNeeded(ctx, "05test-g")
	polling, err := e.Polling(ctx)
	require.NoError(t, err)
	assert.Contains(t, polling, "05test-g")

	e.PurgeMembershipOnly(ctx, "05test-g")
	polling, err = e.Polling(ctx)
	require.NoError(t, err)
	assert.NotContains(t, polling, "05test-g")

	e.ResubscribePush(ctx, "05test-local", []string{"a", "b"})
	subs, err := rdb.SMembers(ctx, pushSubsPrefix+"05test-local").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, subs)
}
