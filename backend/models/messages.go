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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

const (
	KindNew             Kind = "new"
	KindKeyPairRotation Kind = "encryption_key_pair"
	KindNameChange      Kind = "name_change"
	KindMembersAdded    Kind = "members_added"
	KindMembersRemoved  Kind = "members_removed"
	KindMemberLeft      Kind = "member_left"
	KindKeyPairRequest  Kind = "encryption_key_pair_request"
)

// ErrUnknownKind is returned when decoding a control message whose kind is not
// one of the variants below.
var ErrUnknownKind = errors.New("unknown control message kind")

// Payload is the closed set of legacy group control message variants.
type Payload interface {
	Kind() Kind
	isPayload()
}

type WireKeyPair struct {
	PublicKey []byte `json:"public_key"`
	SecretKey []byte `json:"secret_key"`
}

type New struct {
	GroupID                string      `json:"group_id"`
	Name                   string      `json:"name"`
	KeyPair                WireKeyPair `json:"key_pair"`
	Members                []string    `json:"members"`
	Admins                 []string    `json:"admins"`
	ExpirationTimerSeconds int64       `json:"expiration_timer_seconds"`
}

// KeyPairWrapper is a rotated key pair sealed to one recipient's long-term key.
type KeyPairWrapper struct {
	PublicKey        string `json:"public_key"`
	EncryptedKeyPair []byte `json:"encrypted_key_pair"`
}

type KeyPairRotation struct {
	// GroupID is set when the rotation is delivered outside the group thread.
	GroupID  string           `json:"group_id,omitempty"`
	Wrappers []KeyPairWrapper `json:"wrappers"`
}

type NameChange struct {
	Name string `json:"name"`
}

type MembersAdded struct {
	Members []string `json:"members"`
}

type MembersRemoved struct {
	Members []string `json:"members"`
}

type MemberLeft struct{}

// KeyPairRequest is accepted on the wire but currently not acted upon.
type KeyPairRequest struct{}

func (New) Kind() Kind             { return KindNew }
func (KeyPairRotation) Kind() Kind { return KindKeyPairRotation }
func (NameChange) Kind() Kind      { return KindNameChange }
func (MembersAdded) Kind() Kind    { return KindMembersAdded }
func (MembersRemoved) Kind() Kind  { return KindMembersRemoved }
func (MemberLeft) Kind() Kind      { return KindMemberLeft }
func (KeyPairRequest) Kind() Kind  { return KindKeyPairRequest }

func (New) isPayload()             {}
func (KeyPairRotation) isPayload() {}
func (NameChange) isPayload()      {}
func (MembersAdded) isPayload()    {}
func (MembersRemoved) isPayload()  {}
func (MemberLeft) isPayload()      {}
func (KeyPairRequest) isPayload()  {}

// ControlMessage is a decoded legacy group control message. ThreadID is the
// thread it was received on: the group itself, or a one-to-one thread for
// messages that carry an explicit group id.
type ControlMessage struct {
	ThreadID        string
	Sender          string
	SentTimestampMs int64
	ServerHash      string
	Payload         Payload
}

type wireMessage struct {
	ThreadID        string          `json:"thread_id"`
	Sender          string          `json:"sender"`
	SentTimestampMs int64           `json:"sent_timestamp_ms,omitempty"`
	ServerHash      string          `json:"server_hash,omitempty"`
	Kind            Kind            `json:"kind"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func (m ControlMessage) MarshalJSON() ([]byte, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("marshal control message: %w", ErrUnknownKind)
	}
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", m.Payload.Kind(), err)
	}
	return json.Marshal(wireMessage{
		ThreadID:        m.ThreadID,
		Sender:          m.Sender,
		SentTimestampMs: m.SentTimestampMs,
		ServerHash:      m.ServerHash,
		Kind:            m.Payload.Kind(),
		Payload:         payload,
	})
}

func (m *ControlMessage) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var payload Payload
	switch w.Kind {
	case KindNew:
		var p New
		if err := decodePayload(w.Payload, &p); err != nil {
			return err
		}
		payload = p
	case KindKeyPairRotation:
		var p KeyPairRotation
		if err := decodePayload(w.Payload, &p); err != nil {
			return err
		}
		payload = p
	case KindNameChange:
		var p NameChange
		if err := decodePayload(w.Payload, &p); err != nil {
			return err
		}
		payload = p
	case KindMembersAdded:
		var p MembersAdded
		if err := decodePayload(w.Payload, &p); err != nil {
			return err
		}
		payload = p
	case KindMembersRemoved:
		var p MembersRemoved
		if err := decodePayload(w.Payload, &p); err != nil {
			return err
		}
		payload = p
	case KindMemberLeft:
		payload = MemberLeft{}
	case KindKeyPairRequest:
		payload = KeyPairRequest{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, w.Kind)
	}

	*m = ControlMessage{
		ThreadID:        w.ThreadID,
		Sender:          w.Sender,
		SentTimestampMs: w.SentTimestampMs,
		ServerHash:      w.ServerHash,
		Payload:         payload,
	}
	return nil
}

func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
