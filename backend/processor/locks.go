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

package processor

import (
	"sync"

	"github.com/efchatnet/efgroups/backend/models"
)

// groupLocks serializes processing per group, so that commits and the config
// updates flushed after them happen in the same order.
type groupLocks struct {
	mu   sync.Mutex
	held map[string]*groupLock
}

type groupLock struct {
	mu   sync.Mutex
	refs int
}

func (l *groupLocks) lock(groupID string) (unlock func()) {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]*groupLock)
	}
	gl, ok := l.held[groupID]
	if !ok {
		gl = &groupLock{}
		l.held[groupID] = gl
	}
	gl.refs++
	l.mu.Unlock()

	gl.mu.Lock()
	return func() {
		gl.mu.Unlock()
		l.mu.Lock()
		gl.refs--
		if gl.refs == 0 {
			delete(l.held, groupID)
		}
		l.mu.Unlock()
	}
}

// lockKey names the group msg acts on. Creation and rotation messages may
// arrive on a thread other than the group's own.
func lockKey(msg models.ControlMessage) string {
	switch payload := msg.Payload.(type) {
	case models.New:
		return payload.GroupID
	case models.KeyPairRotation:
		if payload.GroupID != "" {
			return payload.GroupID
		}
	}
	return msg.ThreadID
}
