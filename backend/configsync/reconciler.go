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

// Package configsync holds the authoritative per-group configuration and the
// per-domain change timestamps that gate mutations from historical messages.
package configsync

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/efchatnet/efgroups/backend/models"
)

// Domain names an independently versioned slice of a thread's config.
type Domain string

const DomainGroupInfo Domain = "group_info"

// Entry is the authoritative config for one legacy group. Members holds
// standard ids only; zombies stay local and Admins is disjoint from it.
type Entry struct {
	ThreadID      string
	Name          string
	Members       []string
	Admins        []string
	LatestKeyPair *models.KeyPair
	Disappearing  *models.DisappearingConfig
	JoinedAtMs    int64
	Timestamps    map[Domain]int64
	// Removed marks a tombstone left by a purge. Its timestamps still gate
	// replayed messages.
	Removed bool
}

// Snapshot carries the fields to overwrite. Nil fields are left untouched;
// a non-nil empty slice clears a set.
type Snapshot struct {
	Name          *string
	Members       []string
	Admins        []string
	LatestKeyPair *models.KeyPair
	Disappearing  *models.DisappearingConfig
	JoinedAtMs    *int64
}

// Replica mirrors entries to shared storage so other devices can converge.
type Replica interface {
	Push(ctx context.Context, e Entry) error
	Pull(ctx context.Context) ([]Entry, error)
}

type Reconciler struct {
	mu      sync.Mutex
	entries map[string]*Entry
	replica Replica
	log     zerolog.Logger
}

// New returns an empty reconciler. replica may be nil.
func New(log zerolog.Logger, replica Replica) *Reconciler {
	return &Reconciler{
		entries: make(map[string]*Entry),
		replica: replica,
		log:     log.With().Str("component", "configsync").Logger(),
	}
}

// CanMutate reports whether a change stamped tsMs is newer than anything
// already applied to (threadID, domain). Equal timestamps are refused.
func (r *Reconciler) CanMutate(threadID string, domain Domain, tsMs int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[threadID]
	if !ok {
		return true
	}
	return tsMs > e.Timestamps[domain]
}

// Timestamp returns the last applied change time for (threadID, domain).
func (r *Reconciler) Timestamp(threadID string, domain Domain) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[threadID]; ok {
		return e.Timestamps[domain]
	}
	return 0
}

// ApplySnapshot overwrites the fields set in snap. A non-zero changeTsMs
// advances the group-info timestamp; it never moves backwards. Replica
// failures are logged and otherwise ignored.
func (r *Reconciler) ApplySnapshot(ctx context.Context, threadID string, snap Snapshot, changeTsMs int64) {
	r.mu.Lock()
	e := r.entryLocked(threadID)
	e.Removed = false
	if snap.Name != nil {
		e.Name = *snap.Name
	}
	if snap.Members != nil {
		e.Members = sortedCopy(snap.Members)
	}
	if snap.Admins != nil {
		e.Admins = sortedCopy(snap.Admins)
	}
	if snap.LatestKeyPair != nil {
		kp := *snap.LatestKeyPair
		e.LatestKeyPair = &kp
	}
	if snap.Disappearing != nil {
		dc := *snap.Disappearing
		e.Disappearing = &dc
	}
	if snap.JoinedAtMs != nil {
		e.JoinedAtMs = *snap.JoinedAtMs
	}
	if changeTsMs > e.Timestamps[DomainGroupInfo] {
		e.Timestamps[DomainGroupInfo] = changeTsMs
	}
	out := cloneEntry(e)
	r.mu.Unlock()

	r.push(ctx, out)
}

// Remove replaces the entry with a tombstone stamped at least tsMs.
func (r *Reconciler) Remove(ctx context.Context, threadID string, tsMs int64) {
	r.mu.Lock()
	prev := r.entryLocked(threadID)
	stamps := prev.Timestamps
	if tsMs > stamps[DomainGroupInfo] {
		stamps[DomainGroupInfo] = tsMs
	}
	tomb := &Entry{ThreadID: threadID, Timestamps: stamps, Removed: true}
	r.entries[threadID] = tomb
	out := cloneEntry(tomb)
	r.mu.Unlock()

	r.push(ctx, out)
}

// Entry returns a copy of the live entry for threadID.
func (r *Reconciler) Entry(threadID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[threadID]
	if !ok || e.Removed {
		return Entry{}, false
	}
	return cloneEntry(e), true
}

// Entries returns copies of every entry, tombstones included, ordered by
// thread id.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, cloneEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThreadID < out[j].ThreadID })
	return out
}

// MergeRemote adopts remote when its group-info timestamp is newer than the
// local one. It reports whether anything changed.
func (r *Reconciler) MergeRemote(remote Entry) bool {
	if remote.ThreadID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	local, ok := r.entries[remote.ThreadID]
	if ok && remote.Timestamps[DomainGroupInfo] <= local.Timestamps[DomainGroupInfo] {
		return false
	}
	merged := cloneEntry(&remote)
	if ok {
		for d, ts := range local.Timestamps {
			if ts > merged.Timestamps[d] {
				merged.Timestamps[d] = ts
			}
		}
	}
	r.entries[remote.ThreadID] = &merged
	return true
}

// Pull fetches the replica and merges every newer entry, returning the ones
// that advanced local state.
func (r *Reconciler) Pull(ctx context.Context) ([]Entry, error) {
	if r.replica == nil {
		return nil, nil
	}
	remote, err := r.replica.Pull(ctx)
	if err != nil {
		return nil, err
	}
	var advanced []Entry
	for _, e := range remote {
		if r.MergeRemote(e) {
			advanced = append(advanced, e)
		}
	}
	return advanced, nil
}

func (r *Reconciler) entryLocked(threadID string) *Entry {
	e, ok := r.entries[threadID]
	if !ok {
		e = &Entry{ThreadID: threadID, Timestamps: make(map[Domain]int64)}
		r.entries[threadID] = e
	}
	return e
}

func (r *Reconciler) push(ctx context.Context, e Entry) {
	if r.replica == nil {
		return
	}
	if err := r.replica.Push(ctx, e); err != nil {
		r.log.Warn().Err(err).Str("thread_id", e.ThreadID).Msg("config replica push failed")
	}
}

func cloneEntry(e *Entry) Entry {
	out := *e
	out.Members = sortedCopy(e.Members)
	out.Admins = sortedCopy(e.Admins)
	if e.LatestKeyPair != nil {
		kp := *e.LatestKeyPair
		out.LatestKeyPair = &kp
	}
	if e.Disappearing != nil {
		dc := *e.Disappearing
		out.Disappearing = &dc
	}
	out.Timestamps = make(map[Domain]int64, len(e.Timestamps))
	for d, ts := range e.Timestamps {
		out.Timestamps[d] = ts
	}
	return out
}

func sortedCopy(ids []string) []string {
	if ids == nil {
		return nil
	}
	out := append([]string{}, ids...)
	sort.Strings(out)
	return out
}
