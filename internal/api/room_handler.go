package api

import (
	"errors"
	"net/http"

	"example.com/playchat/auth"
	"example.com/playchat/models"
	"example.com/playchat/store"
)

type RoomHandler struct {
	store store.Store
}

func NewRoomHandler(s store.Store) *RoomHandler {
	return &RoomHandler{store: s}
}

func (h *RoomHandler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	var room models.Room
	if err := DecodeJson(r.Body, &room); err != nil {
		return NewApiError("invalid payload", http.StatusBadRequest)
	}
	defer r.Body.Close()

	if room.Name == "" {
		return NewApiError("room name is required", http.StatusBadRequest)
	}

	session := auth.SessionFromContext(r.Context())
	room.CreatedBy = session.UserID

	if err := h.store.InsertRoom(r.Context(), room); err != nil {
		return err
	}

	w.WriteHeader(http.StatusCreated)
	return nil
}

func (h *RoomHandler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	session := auth.SessionFromContext(r.Context())

	rooms, err := h.store.VisibleRooms(r.Context(), session.UserID)
	if err != nil {
		return err
	}
	if rooms == nil {
		rooms = []models.Room{}
	}

	return WriteJsonResponse(w, rooms)
}

func (h *RoomHandler) GetRoomHandler(w http.ResponseWriter, r *http.Request) error {
	id := r.PathValue("roomID")

	room, err := h.store.RoomByID(r.Context(), id)
	if err != nil {
		return err
	}
	if room == nil {
		return NewApiError("room not found", http.StatusNotFound)
	}

	return WriteJsonResponse(w, room)
}

// UpdateRoomHandler overwrites the room's mutable columns with the given
// record; last write wins, no field-level merge.
func (h *RoomHandler) UpdateRoomHandler(w http.ResponseWriter, r *http.Request) error {
	var room models.Room
	if err := DecodeJson(r.Body, &room); err != nil {
		return NewApiError("invalid payload", http.StatusBadRequest)
	}
	defer r.Body.Close()

	room.ID = r.PathValue("roomID")

	if err := h.store.UpdateRoom(r.Context(), room); err != nil {
		if errors.Is(err, store.ErrInvalidRoom) {
			return NewApiError("room not found", http.StatusNotFound)
		}
		return err
	}

	return nil
}

func (h *RoomHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	roomID := r.PathValue("roomID")

	messages, err := h.store.RoomMessages(r.Context(), roomID)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []models.Message{}
	}

	return WriteJsonResponse(w, messages)
}

func (h *RoomHandler) SendMessageHandler(w http.ResponseWriter, r *http.Request) error {
	var message models.Message
	if err := DecodeJson(r.Body, &message); err != nil {
		return NewApiError("invalid payload", http.StatusBadRequest)
	}
	defer r.Body.Close()

	if message.Content == "" {
		return NewApiError("message content is required", http.StatusBadRequest)
	}

	session := auth.SessionFromContext(r.Context())
	message.RoomID = r.PathValue("roomID")
	// System messages carry the id of the user the notice is about; user
	// messages are always authored by the session user.
	if !message.IsSystemMessage {
		message.UserID = session.UserID
	}

	created, err := h.store.InsertMessage(r.Context(), message)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRoom) {
			return NewApiError("room not found", http.StatusNotFound)
		}
		return err
	}

	return WriteJsonResponseWithStatusCode(w, created, http.StatusCreated)
}
