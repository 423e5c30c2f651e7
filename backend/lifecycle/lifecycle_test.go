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

package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/keypairs"
	"github.com/efchatnet/efgroups/backend/models"
)

type sent struct {
	recipient string
	msg       models.ControlMessage
}

type memOutbox struct {
	sent []sent
	err  error
}

func (m *memOutbox) Send(_ context.Context, recipient string, msg models.ControlMessage) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sent{recipient, msg})
	return nil
}

func TestQueue_FlushRunsInOrderOnce(t *testing.T) {
	var q Queue
	var order []int
	q.Add(func(context.Context) { order = append(order, 1) })
	q.Add(func(context.Context) { order = append(order, 2) })
	assert.Equal(t, 2, q.Len())

	q.Flush(context.Background())
	q.Flush(context.Background())

	assert.Equal(t, []int{1, 2}, order)
	assert.Zero(t, q.Len())
}

func TestQueue_Discard(t *testing.T) {
	var q Queue
	ran := false
	q.Add(func(context.Context) { ran = true })
	q.Discard()
	q.Flush(context.Background())
	assert.False(t, ran)
}

func TestSealingDistributor_RecipientCanOpen(t *testing.T) {
	admin, err := keypairs.GenerateIdentity()
	require.NoError(t, err)
	alice, err := keypairs.GenerateIdentity()
	require.NoError(t, err)
	bob, err := keypairs.GenerateIdentity()
	require.NoError(t, err)
	kp, err := keypairs.Generate("05group", 1)
	require.NoError(t, err)

	out := &memOutbox{}
	d := NewSealingDistributor(admin.ID(), out)
	require.NoError(t, d.DistributeKeyPair(context.Background(), "05group", kp, []string{alice.ID(), bob.ID()}))

	require.Len(t, out.sent, 2)
	first := out.sent[0]
	assert.Equal(t, alice.ID(), first.recipient)
	assert.Equal(t, alice.ID(), first.msg.ThreadID)
	assert.Equal(t, admin.ID(), first.msg.Sender)

	rotation, ok := first.msg.Payload.(models.KeyPairRotation)
	require.True(t, ok)
	assert.Equal(t, "05group", rotation.GroupID)
	w, ok := keypairs.FindWrapper(rotation.Wrappers, alice.ID())
	require.True(t, ok)
	pub, sec, err := alice.OpenWrapper(w)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, pub)
	assert.Equal(t, kp.SecretKey, sec)

	_, _, err = bob.OpenWrapper(w)
	assert.ErrorIs(t, err, keypairs.ErrDecrypt)
}

func TestSealingDistributor_Errors(t *testing.T) {
	kp, err := keypairs.Generate("05group", 1)
	require.NoError(t, err)

	d := NewSealingDistributor("05admin", &memOutbox{})
	err = d.DistributeKeyPair(context.Background(), "05group", kp, []string{"not-a-key"})
	assert.ErrorIs(t, err, keypairs.ErrBadProfileID)

	alice, err := keypairs.GenerateIdentity()
	require.NoError(t, err)
	boom := errors.New("queue full")
	d = NewSealingDistributor("05admin", &memOutbox{err: boom})
	err = d.DistributeKeyPair(context.Background(), "05group", kp, []string{alice.ID()})
	assert.ErrorIs(t, err, boom)
}

func TestSealingDistributor_BadRecipientDoesNotBlockOthers(t *testing.T) {
	alice, err := keypairs.GenerateIdentity()
	require.NoError(t, err)
	bob, err := keypairs.GenerateIdentity()
	require.NoError(t, err)
	kp, err := keypairs.Generate("05group", 1)
	require.NoError(t, err)

	out := &memOutbox{}
	d := NewSealingDistributor("05admin", out)
	err = d.DistributeKeyPair(context.Background(), "05group", kp, []string{alice.ID(), "not-a-key", bob.ID()})

	assert.ErrorIs(t, err, keypairs.ErrBadProfileID)
	assert.Contains(t, err.Error(), "not-a-key")
	require.Len(t, out.sent, 2)
	assert.Equal(t, alice.ID(), out.sent[0].recipient)
	assert.Equal(t, bob.ID(), out.sent[1].recipient)
}
