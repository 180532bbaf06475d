package handlers

import (
	"log/slog"
	"net/http"

	"github.com/AlinhoWhat/SHousBackend/internal/chat"
	"github.com/gorilla/mux"
)

type ChatHandler struct {
	Chats *chat.Chats
	Log   *slog.Logger
}

type CreateChatRequest struct {
	RecipientID string `json:"recipientId" validate:"required"`
}

// GetChats lists the caller's chats, newest first.
func (h *ChatHandler) GetChats(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	chats, err := h.Chats.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// GetChat returns one chat with its history and marks it seen by the caller.
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	view, err := h.Chats.GetOne(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CreateChatRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	c, created, err := h.Chats.FindOrCreate(r.Context(), userID, req.RecipientID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

// ReadChat marks the chat seen by the caller.
func (h *ChatHandler) ReadChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	c, err := h.Chats.MarkSeen(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
