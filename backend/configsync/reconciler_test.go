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
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/models"
)

type memReplica struct {
	pushed  []Entry
	remote  []Entry
	pushErr error
}

func (m *memReplica) Push(_ context.Context, e Entry) error {
	m.pushed = append(m.pushed, e)
	return m.pushErr
}

func (m *memReplica) Pull(context.Context) ([]Entry, error) {
	return m.remote, nil
}

func strPtr(s string) *string { return &s }

func TestCanMutate_StrictlyNewer(t *testing.T) {
	r := New(zerolog.Nop(), nil)
	ctx := context.Background()

	assert.True(t, r.CanMutate("g", DomainGroupInfo, 1), "unknown thread accepts any change")

	r.ApplySnapshot(ctx, "g", Snapshot{Name: strPtr("a")}, 100)

	tests := []struct {
		ts   int64
		want bool
	}{
		{99, false},
		{100, false},
		{101, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.CanMutate("g", DomainGroupInfo, tt.ts), "ts=%d", tt.ts)
	}
}

func TestApplySnapshot_NeverMovesBackwards(t *testing.T) {
	r := New(zerolog.Nop(), nil)
	ctx := context.Background()

	r.ApplySnapshot(ctx, "g", Snapshot{Name: strPtr("first")}, 200)
	r.ApplySnapshot(ctx, "g", Snapshot{Name: strPtr("second")}, 150)
	r.ApplySnapshot(ctx, "g", Snapshot{Members: []string{"b", "a"}}, 0)

	assert.Equal(t, int64(200), r.Timestamp("g", DomainGroupInfo))
	e, ok := r.Entry("g")
	require.True(t, ok)
	assert.Equal(t, "second", e.Name)
	assert.Equal(t, []string{"a", "b"}, e.Members)
	assert.Nil(t, e.Admins)
}

func TestApplySnapshot_KeyPairIsCopied(t *testing.T) {
	r := New(zerolog.Nop(), nil)
	kp := models.KeyPair{ThreadID: "g", Hash: "h1"}

	r.ApplySnapshot(context.Background(), "g", Snapshot{LatestKeyPair: &kp}, 0)
	kp.Hash = "mutated"

	e, ok := r.Entry("g")
	require.True(t, ok)
	require.NotNil(t, e.LatestKeyPair)
	assert.Equal(t, "h1", e.LatestKeyPair.Hash)
	assert.Zero(t, e.Timestamps[DomainGroupInfo])
}

func TestRemove_LeavesGatingTombstone(t *testing.T) {
	r := New(zerolog.Nop(), nil)
	ctx := context.Background()

	r.ApplySnapshot(ctx, "g", Snapshot{Name: strPtr("a")}, 100)
	r.Remove(ctx, "g", 300)

	_, ok := r.Entry("g")
	assert.False(t, ok)
	assert.False(t, r.CanMutate("g", DomainGroupInfo, 250))
	assert.True(t, r.CanMutate("g", DomainGroupInfo, 301))

	r.ApplySnapshot(ctx, "g", Snapshot{Name: strPtr("again")}, 400)
	e, ok := r.Entry("g")
	require.True(t, ok)
	assert.Equal(t, "again", e.Name)
}

func TestMergeRemote(t *testing.T) {
	r := New(zerolog.Nop(), nil)
	ctx := context.Background()
	r.ApplySnapshot(ctx, "g", Snapshot{Name: strPtr("local")}, 100)

	older := Entry{ThreadID: "g", Name: "old", Timestamps: map[Domain]int64{DomainGroupInfo: 100}}
	assert.False(t, r.MergeRemote(older))

	newer := Entry{ThreadID: "g", Name: "remote", Admins: []string{"x"}, Timestamps: map[Domain]int64{DomainGroupInfo: 120}}
	assert.True(t, r.MergeRemote(newer))

	e, ok := r.Entry("g")
	require.True(t, ok)
	assert.Equal(t, "remote", e.Name)
	assert.Equal(t, []string{"x"}, e.Admins)
	assert.False(t, r.MergeRemote(Entry{}))
}

func TestPull_MergesAdvancedEntries(t *testing.T) {
	rep := &memReplica{remote: []Entry{
		{ThreadID: "g1", Name: "one", Timestamps: map[Domain]int64{DomainGroupInfo: 5}},
		{ThreadID: "g2", Name: "two", Timestamps: map[Domain]int64{DomainGroupInfo: 5}},
	}}
	r := New(zerolog.Nop(), rep)
	r.ApplySnapshot(context.Background(), "g2", Snapshot{Name: strPtr("local")}, 10)

	advanced, err := r.Pull(context.Background())
	require.NoError(t, err)
	require.Len(t, advanced, 1)
	assert.Equal(t, "g1", advanced[0].ThreadID)
	assert.Len(t, r.Entries(), 2)
}

func TestReplicaFailureIsNotFatal(t *testing.T) {
	rep := &memReplica{pushErr: errors.New("redis down")}
	r := New(zerolog.Nop(), rep)

	r.ApplySnapshot(context.Background(), "g", Snapshot{Name: strPtr("a")}, 1)

	require.Len(t, rep.pushed, 1)
	_, ok := r.Entry("g")
	assert.True(t, ok)
}

func TestGate(t *testing.T) {
	r := New(zerolog.Nop(), nil)
	g := NewGate(r)
	r.ApplySnapshot(context.Background(), "g", Snapshot{}, 50)

	assert.False(t, g.Permits("g", DomainGroupInfo, 50))
	assert.True(t, g.Permits("g", DomainGroupInfo, 51))
	assert.True(t, g.Permits("other", DomainGroupInfo, 1))
}

func TestGate_PermitsAfterPersisted(t *testing.T) {
	r := New(zerolog.Nop(), nil)
	g := NewGate(r)

	// an empty reconciler defers to the stored time
	assert.False(t, g.PermitsAfter("g", DomainGroupInfo, 80, 100))
	assert.False(t, g.PermitsAfter("g", DomainGroupInfo, 100, 100))
	assert.True(t, g.PermitsAfter("g", DomainGroupInfo, 101, 100))

	r.ApplySnapshot(context.Background(), "g", Snapshot{}, 200)
	assert.False(t, g.PermitsAfter("g", DomainGroupInfo, 150, 100))
}
