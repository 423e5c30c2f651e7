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

// Package keypairs generates, validates and fingerprints legacy group
// encryption key pairs, and seals them to members' long-term keys.
package keypairs

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"

	"github.com/efchatnet/efgroups/backend/models"
)

const KeySize = curve25519.ScalarSize

var (
	ErrInvalidKeyPair = errors.New("invalid key pair")
	ErrMalformed      = errors.New("malformed key pair plaintext")
)

// Generate returns a fresh key pair for threadID.
func Generate(threadID string, receivedMs int64) (models.KeyPair, error) {
	secret := make([]byte, KeySize)
	if _, err := rand.Read(secret); err != nil {
		return models.KeyPair{}, fmt.Errorf("generate key pair: %w", err)
	}
	public, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return models.KeyPair{}, fmt.Errorf("derive public key: %w", err)
	}
	return models.KeyPair{
		ThreadID:            threadID,
		PublicKey:           public,
		SecretKey:           secret,
		ReceivedTimestampMs: receivedMs,
		Hash:                Hash(threadID, public, secret),
	}, nil
}

// Validate checks sizes and that public is derived from secret.
func Validate(public, secret []byte) error {
	if len(public) != KeySize || len(secret) != KeySize {
		return fmt.Errorf("%w: need %d byte keys, got %d/%d", ErrInvalidKeyPair, KeySize, len(public), len(secret))
	}
	derived, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKeyPair, err)
	}
	if !bytes.Equal(derived, public) {
		return fmt.Errorf("%w: public key does not match secret", ErrInvalidKeyPair)
	}
	return nil
}

// New validates the pair and builds a storable KeyPair.
func New(threadID string, public, secret []byte, receivedMs int64) (models.KeyPair, error) {
	if err := Validate(public, secret); err != nil {
		return models.KeyPair{}, err
	}
	return models.KeyPair{
		ThreadID:            threadID,
		PublicKey:           append([]byte(nil), public...),
		SecretKey:           append([]byte(nil), secret...),
		ReceivedTimestampMs: receivedMs,
		Hash:                Hash(threadID, public, secret),
	}, nil
}

// Hash is the content fingerprint that deduplicates key pairs across
// delivery paths.
func Hash(threadID string, public, secret []byte) string {
	buf := make([]byte, 0, len(threadID)+len(public)+len(secret))
	buf = append(buf, threadID...)
	buf = append(buf, public...)
	buf = append(buf, secret...)
	sum := sha3.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Encode serializes a key pair as public || secret.
func Encode(public, secret []byte) []byte {
	out := make([]byte, 0, len(public)+len(secret))
	out = append(out, public...)
	return append(out, secret...)
}

// Parse splits plaintext produced by Encode.
func Parse(plaintext []byte) (public, secret []byte, err error) {
	if len(plaintext) != 2*KeySize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(plaintext))
	}
	public = append([]byte(nil), plaintext[:KeySize]...)
	secret = append([]byte(nil), plaintext[KeySize:]...)
	return public, secret, nil
}
