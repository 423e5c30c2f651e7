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

package configsync

// Gate decides whether a historical control message may still mutate a
// group. A change is allowed only when it is strictly newer than the last
// authoritative change for the same domain.
type Gate struct {
	r *Reconciler
}

func NewGate(r *Reconciler) Gate {
	return Gate{r: r}
}

func (g Gate) Permits(threadID string, domain Domain, tsMs int64) bool {
	return g.r.CanMutate(threadID, domain, tsMs)
}

// PermitsAfter also requires tsMs to be newer than persistedMs, the change
// time recorded in the store. The in-memory entries are empty after a
// restart until the replica is pulled, so the stored value decides there.
func (g Gate) PermitsAfter(threadID string, domain Domain, tsMs, persistedMs int64) bool {
	return tsMs > persistedMs && g.Permits(threadID, domain, tsMs)
}
