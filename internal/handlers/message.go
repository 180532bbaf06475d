package handlers

import (
	"log/slog"
	"net/http"

	"github.com/AlinhoWhat/SHousBackend/internal/chat"
	"github.com/gorilla/mux"
)

type MessageHandler struct {
	Sender   *chat.Sender
	Messages *chat.Messages
	Views    *chat.Decryptor
	Log      *slog.Logger
}

type MessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// SendMessage stores a message in the chat named by the route and answers
// 201 with the plaintext view.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req MessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	msg, err := h.Sender.Send(r.Context(), mux.Vars(r)["chatId"], userID, req.Text)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Views.Message(*msg))
}

func (h *MessageHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req MessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	msg, err := h.Messages.Update(r.Context(), mux.Vars(r)["id"], req.Text, userID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Views.Message(*msg))
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	if err := h.Messages.Delete(r.Context(), mux.Vars(r)["id"], userID); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "message deleted"})
}
