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

package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/efchatnet/efgroups/backend/middleware"
	redisstore "github.com/efchatnet/efgroups/backend/storage/redis"
)

type PendingQueue interface {
	Pending(ctx context.Context, recipient string, limit int) ([]redisstore.Pending, error)
	Ack(ctx context.Context, recipient, id string) error
}

// OutboxHandler lets a recipient collect key pair rotations queued for them.
type OutboxHandler struct {
	queue PendingQueue
}

func NewOutboxHandler(queue PendingQueue) *OutboxHandler {
	return &OutboxHandler{queue: queue}
}

func (h *OutboxHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	pending, err := h.queue.Pending(r.Context(), userID, queryLimit(r, 50))
	if err != nil {
		http.Error(w, "Failed to read outbox", http.StatusInternalServerError)
		return
	}
	if pending == nil {
		pending = []redisstore.Pending{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *OutboxHandler) Ack(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.queue.Ack(r.Context(), userID, mux.Vars(r)["messageId"]); err != nil {
		http.Error(w, "Failed to acknowledge message", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
