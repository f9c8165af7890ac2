package api

import (
	"errors"
	"net/http"

	"example.com/playchat/models"
	"example.com/playchat/store"
)

type GameHandler struct {
	store store.Store
}

func NewGameHandler(s store.Store) *GameHandler {
	return &GameHandler{store: s}
}

func (h *GameHandler) CreateGameHandler(w http.ResponseWriter, r *http.Request) error {
	var gm models.Game
	if err := DecodeJson(r.Body, &gm); err != nil {
		return NewApiError("invalid payload", http.StatusBadRequest)
	}
	defer r.Body.Close()

	if gm.Status == "" {
		gm.Status = models.GameWaiting
	}

	if err := h.store.InsertGame(r.Context(), gm); err != nil {
		return err
	}

	w.WriteHeader(http.StatusCreated)
	return nil
}

func (h *GameHandler) GetGameHandler(w http.ResponseWriter, r *http.Request) error {
	id := r.PathValue("gameID")

	gm, err := h.store.GameByID(r.Context(), id)
	if err != nil {
		return err
	}
	if gm == nil {
		return NewApiError("game not found", http.StatusNotFound)
	}

	return WriteJsonResponse(w, gm)
}

// UpdateGameHandler overwrites the game's mutable columns with the given
// record; last write wins, no field-level merge.
func (h *GameHandler) UpdateGameHandler(w http.ResponseWriter, r *http.Request) error {
	var gm models.Game
	if err := DecodeJson(r.Body, &gm); err != nil {
		return NewApiError("invalid payload", http.StatusBadRequest)
	}
	defer r.Body.Close()

	gm.ID = r.PathValue("gameID")

	if err := h.store.UpdateGame(r.Context(), gm); err != nil {
		if errors.Is(err, store.ErrInvalidGame) {
			return NewApiError("game not found", http.StatusNotFound)
		}
		return err
	}

	return nil
}
