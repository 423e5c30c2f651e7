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

package keypairs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/efgroups/backend/models"
)

func TestGenerate_ProducesValidPair(t *testing.T) {
	kp, err := Generate("05group", 1000)
	require.NoError(t, err)

	assert.Len(t, kp.PublicKey, KeySize)
	assert.Len(t, kp.SecretKey, KeySize)
	assert.NoError(t, Validate(kp.PublicKey, kp.SecretKey))
	assert.Equal(t, Hash("05group", kp.PublicKey, kp.SecretKey), kp.Hash)
	assert.Equal(t, int64(1000), kp.ReceivedTimestampMs)
}

func TestValidate(t *testing.T) {
	kp, err := Generate("g", 0)
	require.NoError(t, err)
	other, err := Generate("g", 0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		public []byte
		secret []byte
	}{
		{"short public", kp.PublicKey[:10], kp.SecretKey},
		{"short secret", kp.PublicKey, kp.SecretKey[:10]},
		{"mismatched pair", other.PublicKey, kp.SecretKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.public, tt.secret)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidKeyPair)
		})
	}
}

func TestHash_DependsOnThread(t *testing.T) {
	kp, err := Generate("a", 0)
	require.NoError(t, err)

	assert.Equal(t, Hash("a", kp.PublicKey, kp.SecretKey), Hash("a", kp.PublicKey, kp.SecretKey))
	assert.NotEqual(t, Hash("a", kp.PublicKey, kp.SecretKey), Hash("b", kp.PublicKey, kp.SecretKey))
}

func TestParse_RejectsWrongLength(t *testing.T) {
	_, _, err := Parse(make([]byte, 2*KeySize-1))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSealAndOpenWrapper(t *testing.T) {
	recipient, err := GenerateIdentity()
	require.NoError(t, err)
	stranger, err := GenerateIdentity()
	require.NoError(t, err)
	kp, err := Generate("g", 0)
	require.NoError(t, err)

	w, err := SealWrapper(recipient.ID(), kp)
	require.NoError(t, err)
	assert.Equal(t, recipient.ID(), w.PublicKey)

	public, secret, err := recipient.OpenWrapper(w)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, public)
	assert.Equal(t, kp.SecretKey, secret)

	_, _, err = stranger.OpenWrapper(w)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestIdentityFromHex_RoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	loaded, err := IdentityFromHex(id.SecretHex())
	require.NoError(t, err)
	assert.Equal(t, id.ID(), loaded.ID())

	_, err = IdentityFromHex("abcd")
	assert.Error(t, err)
}

func TestFindWrapper(t *testing.T) {
	wrappers := []models.KeyPairWrapper{{PublicKey: "05aa"}, {PublicKey: "05BB"}}

	w, ok := FindWrapper(wrappers, "05bb")
	require.True(t, ok)
	assert.Equal(t, "05BB", w.PublicKey)

	_, ok = FindWrapper(wrappers, "05cc")
	assert.False(t, ok)
}

func TestPublicKeyOf(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	withPrefix, err := PublicKeyOf(id.ID())
	require.NoError(t, err)
	bare, err := PublicKeyOf(id.ID()[2:])
	require.NoError(t, err)
	assert.Equal(t, withPrefix, bare)

	_, err = PublicKeyOf("05zz")
	assert.ErrorIs(t, err, ErrBadProfileID)
}
