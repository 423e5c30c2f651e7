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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/efchatnet/efgroups/backend/middleware"
	"github.com/efchatnet/efgroups/backend/models"
	"github.com/efchatnet/efgroups/backend/processor"
)

// maxMessageBytes bounds a single decoded control message.
const maxMessageBytes = 1 << 20

type MessageProcessor interface {
	Process(ctx context.Context, msg models.ControlMessage) (processor.Result, error)
}

type MessageHandler struct {
	proc MessageProcessor
	log  zerolog.Logger
}

func NewMessageHandler(proc MessageProcessor, log zerolog.Logger) *MessageHandler {
	return &MessageHandler{proc: proc, log: log.With().Str("component", "http").Logger()}
}

// ProcessMessage applies one decoded control message. Non-fatal outcomes
// such as stale or unauthorized are reported with 200 and the outcome.
func (h *MessageHandler) ProcessMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.ControlMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		http.Error(w, "Invalid control message: "+err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.proc.Process(r.Context(), msg)
	switch {
	case errors.Is(err, processor.ErrProtocolDisabled):
		http.Error(w, "Legacy groups are disabled", http.StatusServiceUnavailable)
		return
	case errors.Is(err, processor.ErrUnrecognizedKind):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		userID, _ := middleware.GetUserID(r)
		h.log.Error().Err(err).Str("user_id", userID).Str("thread_id", msg.ThreadID).Msg("process control message")
		http.Error(w, "Failed to process message", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
