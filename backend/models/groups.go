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

import "sort"

// ThreadVariant identifies what kind of conversation a group row backs.
type ThreadVariant string

const (
	ThreadContact     ThreadVariant = "contact"
	ThreadLegacyGroup ThreadVariant = "legacy_group"
	ThreadGroup       ThreadVariant = "group"
	ThreadCommunity   ThreadVariant = "community"
)

type Role string

const (
	RoleStandard Role = "standard"
	RoleAdmin    Role = "admin"
	// RoleZombie marks a member who left but has not yet been removed by an admin.
	RoleZombie Role = "zombie"
)

// RoleStatusAccepted is the only status this protocol generation produces.
const RoleStatusAccepted = "accepted"

type Group struct {
	ID                   string        `json:"group_id" db:"group_id"`
	Name                 string        `json:"name" db:"name"`
	FormationTimestampMs int64         `json:"formation_timestamp_ms" db:"formation_timestamp_ms"`
	ShouldPoll           bool          `json:"should_poll" db:"should_poll"`
	Invited              bool          `json:"invited" db:"invited"`
	Variant              ThreadVariant `json:"variant" db:"variant"`
}

type Member struct {
	GroupID    string `json:"group_id" db:"group_id"`
	ProfileID  string `json:"profile_id" db:"profile_id"`
	Role       Role   `json:"role" db:"role"`
	RoleStatus string `json:"role_status" db:"role_status"`
	IsHidden   bool   `json:"is_hidden" db:"is_hidden"`
}

// KeyPair is a symmetric group encryption key pair. Hash is derived from
// (ThreadID, PublicKey, SecretKey) and is the storage uniqueness key.
type KeyPair struct {
	ThreadID            string `json:"thread_id" db:"thread_id"`
	PublicKey           []byte `json:"public_key" db:"public_key"`
	SecretKey           []byte `json:"-" db:"secret_key"`
	ReceivedTimestampMs int64  `json:"received_timestamp_ms" db:"received_timestamp_ms"`
	Hash                string `json:"hash" db:"hash"`
}

type DisappearingConfig struct {
	ThreadID        string `json:"thread_id" db:"thread_id"`
	Enabled         bool   `json:"enabled" db:"enabled"`
	DurationSeconds int64  `json:"duration_seconds" db:"duration_seconds"`
}

type Contact struct {
	ProfileID  string `json:"profile_id" db:"profile_id"`
	IsApproved bool   `json:"is_approved" db:"is_approved"`
}

// GroupState is a read model used by the inspection API.
type GroupState struct {
	Group         Group               `json:"group"`
	Members       []Member            `json:"members"`
	KeyPairCount  int                 `json:"key_pair_count"`
	LatestKeyHash string              `json:"latest_key_hash,omitempty"`
	Disappearing  *DisappearingConfig `json:"disappearing,omitempty"`
}

// Standard returns ids of standard members, sorted.
func Standard(members []Member) []string {
	return profileIDs(members, RoleStandard)
}

func Admins(members []Member) []string {
	return profileIDs(members, RoleAdmin)
}

func Zombies(members []Member) []string {
	return profileIDs(members, RoleZombie)
}

// FoundingAdmin returns the first admin in role order (profile id ascending).
func FoundingAdmin(members []Member) (string, bool) {
	admins := Admins(members)
	if len(admins) == 0 {
		return "", false
	}
	return admins[0], true
}

// Find returns the row for profileID, if any.
func Find(members []Member, profileID string) (Member, bool) {
	for _, m := range members {
		if m.ProfileID == profileID {
			return m, true
		}
	}
	return Member{}, false
}

func profileIDs(members []Member, roles ...Role) []string {
	var ids []string
	for _, m := range members {
		for _, r := range roles {
			if m.Role == r {
				ids = append(ids, m.ProfileID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}
