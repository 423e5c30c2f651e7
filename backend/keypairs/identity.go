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
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"github.com/efchatnet/efgroups/backend/models"
)

// profilePrefix marks an X25519-keyed account id.
const profilePrefix = "05"

var (
	ErrBadProfileID = errors.New("invalid profile id")
	ErrDecrypt      = errors.New("could not open key pair wrapper")
)

// Identity is the local party's long-term X25519 key pair.
type Identity struct {
	public  [32]byte
	private [32]byte
}

func (i Identity) String() string { return "Identity{" + i.ID() + "}" }

func GenerateIdentity() (Identity, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("generate identity: %w", err)
	}
	return Identity{public: *pub, private: *priv}, nil
}

// IdentityFromHex loads an identity from its hex-encoded private key.
func IdentityFromHex(secretHex string) (Identity, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(secretHex))
	if err != nil {
		return Identity{}, fmt.Errorf("decode identity key: %w", err)
	}
	if len(raw) != KeySize {
		return Identity{}, fmt.Errorf("identity key must be %d bytes, got %d", KeySize, len(raw))
	}
	pub, err := curve25519.X25519(raw, curve25519.Basepoint)
	if err != nil {
		return Identity{}, fmt.Errorf("derive identity public key: %w", err)
	}
	var id Identity
	copy(id.private[:], raw)
	copy(id.public[:], pub)
	return id, nil
}

// ID is the profile id other parties address this identity by.
func (i Identity) ID() string {
	return profilePrefix + hex.EncodeToString(i.public[:])
}

// IsZero reports whether no key has been loaded.
func (i Identity) IsZero() bool {
	return i.private == [32]byte{}
}

func (i Identity) SecretHex() string {
	return hex.EncodeToString(i.private[:])
}

// Open decrypts a wrapper sealed to this identity.
func (i Identity) Open(ciphertext []byte) ([]byte, error) {
	plaintext, ok := box.OpenAnonymous(nil, ciphertext, &i.public, &i.private)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// OpenWrapper decrypts and parses a key pair wrapper.
func (i Identity) OpenWrapper(w models.KeyPairWrapper) (public, secret []byte, err error) {
	plaintext, err := i.Open(w.EncryptedKeyPair)
	if err != nil {
		return nil, nil, err
	}
	return Parse(plaintext)
}

// SealWrapper encrypts kp to the long-term key behind recipientID.
func SealWrapper(recipientID string, kp models.KeyPair) (models.KeyPairWrapper, error) {
	recipient, err := PublicKeyOf(recipientID)
	if err != nil {
		return models.KeyPairWrapper{}, err
	}
	sealed, err := box.SealAnonymous(nil, Encode(kp.PublicKey, kp.SecretKey), &recipient, rand.Reader)
	if err != nil {
		return models.KeyPairWrapper{}, fmt.Errorf("seal key pair for %s: %w", recipientID, err)
	}
	return models.KeyPairWrapper{PublicKey: recipientID, EncryptedKeyPair: sealed}, nil
}

// FindWrapper returns the wrapper addressed to recipientID.
func FindWrapper(wrappers []models.KeyPairWrapper, recipientID string) (models.KeyPairWrapper, bool) {
	for _, w := range wrappers {
		if strings.EqualFold(w.PublicKey, recipientID) {
			return w, true
		}
	}
	return models.KeyPairWrapper{}, false
}

// PublicKeyOf decodes the X25519 public key embedded in a profile id.
func PublicKeyOf(profileID string) ([32]byte, error) {
	var out [32]byte
	raw := strings.ToLower(profileID)
	if len(raw) == len(profilePrefix)+2*KeySize && strings.HasPrefix(raw, profilePrefix) {
		raw = raw[len(profilePrefix):]
	}
	if len(raw) != 2*KeySize {
		return out, fmt.Errorf("%w: %q", ErrBadProfileID, profileID)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrBadProfileID, err)
	}
	copy(out[:], b)
	return out, nil
}
