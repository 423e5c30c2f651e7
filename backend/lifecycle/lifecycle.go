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

// Package lifecycle carries the side effects that follow a committed
// membership change: polling, purges, push subscriptions and key
// redistribution. Effects are fire-and-forget; implementations log their own
// failures.
package lifecycle

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type Effects interface {
	StartPollingIfNeeded(ctx context.Context, groupID string)
	// PurgeAllData tears down every trace of the group outside the store.
	PurgeAllData(ctx context.Context, groupID string)
	// PurgeMembershipOnly stops activity for a group the local party left
	// while keeping its history.
	PurgeMembershipOnly(ctx context.Context, groupID string)
	ResubscribePush(ctx context.Context, localID string, groupIDs []string)
}

// Nop discards every effect.
type Nop struct{}

func (Nop) StartPollingIfNeeded(context.Context, string)      {}
func (Nop) PurgeAllData(context.Context, string)              {}
func (Nop) PurgeMembershipOnly(context.Context, string)       {}
func (Nop) ResubscribePush(context.Context, string, []string) {}

// Logged wraps an Effects and logs every call at debug level.
type Logged struct {
	Next Effects
	Log  zerolog.Logger
}

func (l Logged) StartPollingIfNeeded(ctx context.Context, groupID string) {
	l.Log.Debug().Str("group_id", groupID).Msg("start polling")
	l.Next.StartPollingIfNeeded(ctx, groupID)
}

func (l Logged) PurgeAllData(ctx context.Context, groupID string) {
	l.Log.Debug().Str("group_id", groupID).Msg("purge all data")
	l.Next.PurgeAllData(ctx, groupID)
}

func (l Logged) PurgeMembershipOnly(ctx context.Context, groupID string) {
	l.Log.Debug().Str("group_id", groupID).Msg("purge membership")
	l.Next.PurgeMembershipOnly(ctx, groupID)
}

func (l Logged) ResubscribePush(ctx context.Context, localID string, groupIDs []string) {
	l.Log.Debug().Str("profile_id", localID).Int("groups", len(groupIDs)).Msg("resubscribe push")
	l.Next.ResubscribePush(ctx, localID, groupIDs)
}

// Queue collects effects while a transaction is open. Flush runs them in
// order once the transaction has committed; Discard drops them otherwise.
type Queue struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

func (q *Queue) Add(fn func(context.Context)) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()

	for _, fn := range fns {
		fn(ctx)
	}
}

func (q *Queue) Discard() {
	q.mu.Lock()
	q.fns = nil
	q.mu.Unlock()
}
