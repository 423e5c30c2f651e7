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

package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/keypairs"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

func seedGroup(t *testing.T, st storage.Store, id string) {
	t.Helper()
	err := st.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		return tx.SaveGroup(ctx, models.Group{
			ID:                   id,
			Name:                 "crew",
			FormationTimestampMs: 10,
			ShouldPoll:           true,
			Variant:              models.ThreadLegacyGroup,
		})
	})
	require.NoError(t, err)
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN("/tmp/test.sqlite")

	assert.True(t, strings.HasPrefix(dsn, "/tmp/test.sqlite?"))
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_foreign_keys=on")
	assert.Contains(t, dsn, "_txlock=immediate")
}

func TestInsertKeyPair_DeduplicatesByContent(t *testing.T) {
	st := OpenTestStore(t)
	kp, err := keypairs.Generate("05g", 100)
	require.NoError(t, err)

	err = st.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.InsertKeyPair(ctx, kp))

		again := kp
		again.ReceivedTimestampMs = 200
		err := tx.InsertKeyPair(ctx, again)
		assert.ErrorIs(t, err, storage.ErrDuplicateKeyPair)

		// the transaction must stay usable after a duplicate
		count, err := tx.CountKeyPairs(ctx, "05g")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		return nil
	})
	require.NoError(t, err)
}

func TestLatestKeyPair(t *testing.T) {
	st := OpenTestStore(t)
	older, err := keypairs.Generate("05g", 100)
	require.NoError(t, err)
	newer, err := keypairs.Generate("05g", 300)
	require.NoError(t, err)

	err = st.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.LatestKeyPair(ctx, "05g")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, tx.InsertKeyPair(ctx, newer))
		require.NoError(t, tx.InsertKeyPair(ctx, older))

		latest, err := tx.LatestKeyPair(ctx, "05g")
		require.NoError(t, err)
		assert.Equal(t, newer.Hash, latest.Hash)
		assert.Equal(t, newer.SecretKey, latest.SecretKey)
		return nil
	})
	require.NoError(t, err)
}

func TestMembers_UpsertKeepsOneRowPerProfile(t *testing.T) {
	st := OpenTestStore(t)
	seedGroup(t, st, "05g")

	err := st.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.UpsertMember(ctx, models.Member{GroupID: "05g", ProfileID: "a", Role: models.RoleStandard}))
		require.NoError(t, tx.UpsertMember(ctx, models.Member{GroupID: "05g", ProfileID: "a", Role: models.RoleZombie}))
		require.NoError(t, tx.UpsertMember(ctx, models.Member{GroupID: "05g", ProfileID: "b", Role: models.RoleAdmin}))

		members, err := tx.ListMembers(ctx, "05g")
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, models.RoleZombie, members[0].Role)
		assert.Equal(t, models.RoleStatusAccepted, members[0].RoleStatus)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteMembers_RespectsRoles(t *testing.T) {
	st := OpenTestStore(t)
	seedGroup(t, st, "05g")

	err := st.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.ReplaceMembers(ctx, "05g", []models.Member{
			{ProfileID: "a", Role: models.RoleAdmin},
			{ProfileID: "b", Role: models.RoleStandard},
			{ProfileID: "c", Role: models.RoleZombie},
		}))
		require.NoError(t, tx.DeleteMembers(ctx, "05g", []string{"a", "b", "c"}, models.RoleStandard, models.RoleZombie))

		members, err := tx.ListMembers(ctx, "05g")
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "a", members[0].ProfileID)
		return nil
	})
	require.NoError(t, err)
}

func TestPurgeGroup(t *testing.T) {
	tests := []struct {
		name      string
		scope     storage.PurgeScope
		keepGroup bool
	}{
		{"all data", storage.PurgeAllData, false},
		{"membership only", storage.PurgeMembershipOnly, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := OpenTestStore(t)
			seedGroup(t, st, "05g")
			kp, err := keypairs.Generate("05g", 1)
			require.NoError(t, err)

			err = st.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
				require.NoError(t, tx.UpsertMember(ctx, models.Member{GroupID: "05g", ProfileID: "a", Role: models.RoleAdmin}))
				require.NoError(t, tx.InsertKeyPair(ctx, kp))
				require.NoError(t, tx.PurgeGroup(ctx, "05g", tt.scope))

				g, err := tx.GetGroup(ctx, "05g")
				if tt.keepGroup {
					require.NoError(t, err)
					assert.False(t, g.ShouldPoll)
				} else {
					assert.ErrorIs(t, err, storage.ErrNotFound)
				}
				members, err := tx.ListMembers(ctx, "05g")
				require.NoError(t, err)
				assert.Empty(t, members)
				count, err := tx.CountKeyPairs(ctx, "05g")
				require.NoError(t, err)
				assert.Zero(t, count)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestAppendTranscript_DeduplicatesServerHash(t *testing.T) {
	st := OpenTestStore(t)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		rec := models.TranscriptRecord{ID: "1", ThreadID: "05g", Author: "a", Kind: models.KindNameChange, Body: "x", TimestampMs: 5, ServerHash: "h1"}
		inserted, err := tx.AppendTranscript(ctx, rec)
		require.NoError(t, err)
		assert.True(t, inserted)

		rec.ID = "2"
		inserted, err = tx.AppendTranscript(ctx, rec)
		require.NoError(t, err)
		assert.False(t, inserted, "same server hash must be skipped")

		rec.ID, rec.ServerHash = "3", ""
		inserted, err = tx.AppendTranscript(ctx, rec)
		require.NoError(t, err)
		assert.True(t, inserted)
		rec.ID = "4"
		inserted, err = tx.AppendTranscript(ctx, rec)
		require.NoError(t, err)
		assert.True(t, inserted, "records without a server hash are never deduplicated")

		records, err := tx.ListTranscript(ctx, "05g", 0)
		require.NoError(t, err)
		assert.Len(t, records, 3)
		return nil
	})
	require.NoError(t, err)
}

func TestConfigTimestamp_OnlyAdvances(t *testing.T) {
	st := OpenTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		ts, err := tx.LockConfigTimestamp(ctx, "05g", "group_info")
		require.NoError(t, err)
		assert.Zero(t, ts)

		require.NoError(t, tx.AdvanceConfigTimestamp(ctx, "05g", "group_info", 100))
		require.NoError(t, tx.AdvanceConfigTimestamp(ctx, "05g", "group_info", 80))
		return nil
	})
	require.NoError(t, err)

	err = st.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		ts, err := tx.LockConfigTimestamp(ctx, "05g", "group_info")
		require.NoError(t, err)
		assert.Equal(t, int64(100), ts)

		other, err := tx.LockConfigTimestamp(ctx, "05g", "other")
		require.NoError(t, err)
		assert.Zero(t, other)
		return nil
	})
	require.NoError(t, err)
}

func TestConfigTimestamp_SurvivesPurge(t *testing.T) {
	st := OpenTestStore(t)
	ctx := context.Background()

	err := st.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.SaveGroup(ctx, models.Group{ID: "05g", Name: "g", Variant: models.ThreadLegacyGroup}))
		require.NoError(t, tx.AdvanceConfigTimestamp(ctx, "05g", "group_info", 300))
		require.NoError(t, tx.PurgeGroup(ctx, "05g", storage.PurgeAllData))

		ts, err := tx.LockConfigTimestamp(ctx, "05g", "group_info")
		require.NoError(t, err)
		assert.Equal(t, int64(300), ts)
		return nil
	})
	require.NoError(t, err)
}

func TestContacts(t *testing.T) {
	st := OpenTestStore(t)

	err := st.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		ok, err := tx.IsApprovedContact(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, tx.ApproveContact(ctx, "a"))
		require.NoError(t, tx.ApproveContact(ctx, "a"))
		ok, err = tx.IsApprovedContact(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	st := OpenTestStore(t)
	boom := assert.AnError

	err := st.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, tx.SaveGroup(ctx, models.Group{ID: "05g", Variant: models.ThreadLegacyGroup}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = st.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetGroup(ctx, "05g")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTx_CancelledBeforeStart(t *testing.T) {
	st := OpenTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := st.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
