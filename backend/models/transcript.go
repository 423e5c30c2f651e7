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
	"fmt"
	"strings"
)

// TranscriptRecord is an informational entry describing a control message in
// the group's visible history.
type TranscriptRecord struct {
	ID          string `json:"id" db:"id"`
	ThreadID    string `json:"thread_id" db:"thread_id"`
	Author      string `json:"author" db:"author"`
	Kind        Kind   `json:"kind" db:"kind"`
	Body        string `json:"body" db:"body"`
	TimestampMs int64  `json:"timestamp_ms" db:"timestamp_ms"`
	ServerHash  string `json:"server_hash,omitempty" db:"server_hash"`
}

// InfoBody renders the transcript text for a control message payload.
func InfoBody(p Payload, sender string) string {
	switch p := p.(type) {
	case NameChange:
		return fmt.Sprintf("Group name is now '%s'.", p.Name)
	case MembersAdded:
		return fmt.Sprintf("%s joined the group.", strings.Join(p.Members, ", "))
	case MembersRemoved:
		return fmt.Sprintf("%s removed from the group.", strings.Join(p.Members, ", "))
	case MemberLeft:
		return fmt.Sprintf("%s left the group.", sender)
	case New:
		return fmt.Sprintf("Group '%s' created.", p.Name)
	default:
		return ""
	}
}
