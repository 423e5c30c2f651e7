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
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/storage"
)

// GroupHandler serves read-only views of the membership store plus contact
// approval.
type GroupHandler struct {
	store storage.Store
}

func NewGroupHandler(store storage.Store) *GroupHandler {
	return &GroupHandler{store: store}
}

func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	var groups []models.Group
	err := h.store.WithTx(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		groups, err = tx.ListGroups(ctx)
		return err
	})
	if err != nil {
		http.Error(w, "Failed to list groups", http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = []models.Group{}
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]

	var state models.GroupState
	err := h.store.WithTx(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		return loadState(ctx, tx, groupID, &state)
	})
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Group not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load group", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func loadState(ctx context.Context, tx storage.Tx, groupID string, state *models.GroupState) error {
	g, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	state.Group = *g

	if state.Members, err = tx.ListMembers(ctx, groupID); err != nil {
		return err
	}
	if state.Members == nil {
		state.Members = []models.Member{}
	}
	if state.KeyPairCount, err = tx.CountKeyPairs(ctx, groupID); err != nil {
		return err
	}

	kp, err := tx.LatestKeyPair(ctx, groupID)
	switch {
	case err == nil:
		state.LatestKeyHash = kp.Hash
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	cfg, err := tx.GetDisappearingConfig(ctx, groupID)
	switch {
	case err == nil:
		state.Disappearing = cfg
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}
	return nil
}

func (h *GroupHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]
	limit := queryLimit(r, 100)

	var records []models.TranscriptRecord
	err := h.store.WithTx(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		records, err = tx.ListTranscript(ctx, groupID, limit)
		return err
	})
	if err != nil {
		http.Error(w, "Failed to load transcript", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.TranscriptRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ApproveContact marks a profile as approved so its group invitations pass
// the spam check.
func (h *GroupHandler) ApproveContact(w http.ResponseWriter, r *http.Request) {
	profileID := mux.Vars(r)["profileId"]
	if profileID == "" {
		http.Error(w, "Missing profile id", http.StatusBadRequest)
		return
	}

	err := h.store.WithTx(r.Context(), func(ctx context.Context, tx storage.Tx) error {
		return tx.ApproveContact(ctx, profileID)
	})
	if err != nil {
		http.Error(w, "Failed to approve contact", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, models.Contact{ProfileID: profileID, IsApproved: true})
}
