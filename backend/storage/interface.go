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

package storage

import (
	"context"
	"errors"

	"github.com/efchatnet/efgroups/backend/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKeyPair reports a key pair whose content hash is already stored.
	ErrDuplicateKeyPair = errors.New("duplicate key pair")
)

type PurgeScope int

const (
	// PurgeAllData removes the group row together with everything hanging off it.
	PurgeAllData PurgeScope = iota
	// PurgeMembershipOnly drops members and key material but keeps the group
	// row and its transcript.
	PurgeMembershipOnly
)

type GroupTx interface {
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	SaveGroup(ctx context.Context, g models.Group) error
	UpdateGroupName(ctx context.Context, groupID, name string) error
	ListGroups(ctx context.Context) ([]models.Group, error)
	ListGroupIDs(ctx context.Context, variant models.ThreadVariant) ([]string, error)
	PurgeGroup(ctx context.Context, groupID string, scope PurgeScope) error
}

type MemberTx interface {
	ListMembers(ctx context.Context, groupID string) ([]models.Member, error)
	UpsertMember(ctx context.Context, m models.Member) error
	ReplaceMembers(ctx context.Context, groupID string, members []models.Member) error
	// DeleteMembers removes rows for profileIDs; when roles is non-empty only
	// rows holding one of those roles are removed.
	DeleteMembers(ctx context.Context, groupID string, profileIDs []string, roles ...models.Role) error
}

type KeyPairTx interface {
	InsertKeyPair(ctx context.Context, kp models.KeyPair) error
	LatestKeyPair(ctx context.Context, threadID string) (*models.KeyPair, error)
	CountKeyPairs(ctx context.Context, threadID string) (int, error)
}

type TranscriptTx interface {
	// AppendTranscript reports whether rec was inserted. A record whose
	// (thread, server hash) already exists is skipped without error.
	AppendTranscript(ctx context.Context, rec models.TranscriptRecord) (bool, error)
	ListTranscript(ctx context.Context, threadID string, limit int) ([]models.TranscriptRecord, error)
}

type ContactTx interface {
	IsApprovedContact(ctx context.Context, profileID string) (bool, error)
	ApproveContact(ctx context.Context, profileID string) error
}

type DisappearingTx interface {
	SaveDisappearingConfig(ctx context.Context, cfg models.DisappearingConfig) error
	GetDisappearingConfig(ctx context.Context, threadID string) (*models.DisappearingConfig, error)
}

// ConfigTx persists the per-domain change timestamps that gate historical
// messages, so the gate survives restarts and is read under the same
// transaction that applies a change. Purges leave these rows in place.
type ConfigTx interface {
	// LockConfigTimestamp returns the stored change time for (threadID,
	// domain), 0 when none, and holds the row for the rest of the transaction.
	LockConfigTimestamp(ctx context.Context, threadID, domain string) (int64, error)
	// AdvanceConfigTimestamp raises the stored time to tsMs. It never lowers it.
	AdvanceConfigTimestamp(ctx context.Context, threadID, domain string, tsMs int64) error
}

// Tx is one atomic unit of work against the membership store.
type Tx interface {
	GroupTx
	MemberTx
	KeyPairTx
	TranscriptTx
	ContactTx
	DisappearingTx
	ConfigTx
}

type Store interface {
	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise. The context handed to fn is detached from the
	// caller's cancellation.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
