// Package game owns game sessions: the lifecycle of a session inside a
// room and the per-variant rule engines. All of it runs client-side; the
// shared game record in the store is the only authority besides each
// client's own rule checks.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"example.com/playchat/models"
	"example.com/playchat/state"
	"example.com/playchat/store"
)

var (
	ErrNoSession      = errors.New("no authenticated user")
	ErrNotMember      = errors.New("user is not a room member")
	ErrGameInProgress = errors.New("room already has an active game")
	ErrNoActiveGame   = errors.New("room has no active game")
	ErrGameFull       = errors.New("game is full")
	ErrNotFinished    = errors.New("game is not finished")
	// ErrNotAllowed is returned when a user who is neither a participant nor
	// a room moderator tries to end a game.
	ErrNotAllowed = errors.New("not allowed to end the game")
)

// Manager drives game sessions through the store and the client state
// tree. Store writes are sequential; a failed step aborts the remaining
// ones and is surfaced to the caller, except for system messages, which are
// best-effort.
type Manager struct {
	store    store.Store
	states   *state.StateStore
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
}

func NewManager(s store.Store, states *state.StateStore, registry *Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    s,
		states:   states,
		registry: registry,
		logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type ManagerOption func(*Manager)

func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Start begins a session of the given kind in the room, with the current
// user as sole player. The session starts waiting and flips to active once
// enough players join.
func (m *Manager) Start(ctx context.Context, roomID string, kind Kind) (*models.Game, error) {
	user, st, err := m.currentUser()
	if err != nil {
		return nil, err
	}

	entry, ok := m.registry.Lookup(kind)
	if !ok {
		return nil, ErrUnknownKind
	}

	room, err := m.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsMember(user.ID) {
		return nil, ErrNotMember
	}
	if room.GameActiveID != "" {
		return nil, ErrGameInProgress
	}

	now := m.now()
	game := models.Game{
		ID:          uuid.New().String(),
		Kind:        entry.Kind,
		Name:        entry.Info.Name,
		Description: entry.Info.Description,
		MinPlayers:  entry.Info.MinPlayers,
		MaxPlayers:  entry.Info.MaxPlayers,
		Players:     []string{user.ID},
		Status:      models.GameWaiting,
		StartedAt:   &now,
	}
	if entry.Engine != nil {
		game.Board = entry.Engine.EmptyBoard()
	}

	if err := m.store.InsertGame(ctx, game); err != nil {
		return nil, fmt.Errorf("insert game: %w", err)
	}

	room.GameActiveID = game.ID
	if err := m.store.UpdateRoom(ctx, *room); err != nil {
		// The game row is already committed. The caller retries or surfaces
		// the error; Start on the same room converges because the room still
		// has no active game reference.
		return nil, fmt.Errorf("update room: %w", err)
	}

	m.systemMessage(ctx, roomID, user.ID,
		fmt.Sprintf("%s started a game of %s", username(st, user.ID), entry.Info.Name))

	m.states.Dispatch(state.AddGame(game))
	m.states.Dispatch(state.UpdateRoom(*room))

	return &game, nil
}

// Join adds the current user to the room's active game. Joining a game the
// user already participates in is a no-op. The game flips from waiting to
// active once the minimum player count is reached.
func (m *Manager) Join(ctx context.Context, roomID string) error {
	user, st, err := m.currentUser()
	if err != nil {
		return err
	}

	room, gm, err := m.activeGame(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.IsMember(user.ID) {
		return ErrNotMember
	}
	if gm.HasPlayer(user.ID) {
		return nil
	}
	if gm.Status == models.GameFinished {
		return ErrNoActiveGame
	}
	if len(gm.Players) >= gm.MaxPlayers {
		return ErrGameFull
	}

	// Join order is preserved: it determines symbol and turn assignment.
	gm.Players = append(gm.Players, user.ID)
	if gm.Status == models.GameWaiting && len(gm.Players) >= gm.MinPlayers {
		gm.Status = models.GameActive
	}

	if err := m.store.UpdateGame(ctx, *gm); err != nil {
		return fmt.Errorf("update game: %w", err)
	}

	m.systemMessage(ctx, roomID, user.ID,
		fmt.Sprintf("%s joined the game", username(st, user.ID)))

	m.states.Dispatch(state.UpdateGame(*gm))
	return nil
}

// End finishes the room's active game regardless of outcome and clears the
// room's active game reference. Only participants and room moderators may
// end a game.
func (m *Manager) End(ctx context.Context, roomID string) error {
	user, _, err := m.currentUser()
	if err != nil {
		return err
	}

	room, gm, err := m.activeGame(ctx, roomID)
	if err != nil {
		return err
	}
	if !gm.HasPlayer(user.ID) && !room.IsModerator(user.ID) {
		return ErrNotAllowed
	}

	if gm.Status != models.GameFinished {
		now := m.now()
		gm.Status = models.GameFinished
		gm.EndedAt = &now
		if err := m.store.UpdateGame(ctx, *gm); err != nil {
			return fmt.Errorf("update game: %w", err)
		}
	}

	room.GameActiveID = ""
	if err := m.store.UpdateRoom(ctx, *room); err != nil {
		return fmt.Errorf("update room: %w", err)
	}

	m.systemMessage(ctx, roomID, user.ID, "The game has ended")

	m.states.Dispatch(state.UpdateGame(*gm))
	m.states.Dispatch(state.UpdateRoom(*room))
	return nil
}

// Play applies the current user's encoded move to the room's active game.
// A move that completes the game writes the finished record back and
// announces the result.
func (m *Manager) Play(ctx context.Context, roomID string, move string) (*models.Game, error) {
	user, st, err := m.currentUser()
	if err != nil {
		return nil, err
	}

	_, gm, err := m.activeGame(ctx, roomID)
	if err != nil {
		return nil, err
	}

	entry, ok := m.registry.EntryFor(gm)
	if !ok {
		return nil, ErrUnknownKind
	}
	if entry.Engine == nil {
		return nil, ErrNoEngine
	}

	updated, outcome, err := entry.Engine.Apply(*gm, user.ID, move)
	if err != nil {
		return nil, err
	}

	if updated.Status == models.GameFinished {
		now := m.now()
		updated.EndedAt = &now
	}

	if err := m.store.UpdateGame(ctx, updated); err != nil {
		return nil, fmt.Errorf("update game: %w", err)
	}

	switch {
	case outcome.Winner != "":
		m.systemMessage(ctx, roomID, outcome.Winner,
			fmt.Sprintf("%s won the %s game!", username(st, outcome.Winner), updated.Name))
	case outcome.Draw:
		m.systemMessage(ctx, roomID, user.ID,
			fmt.Sprintf("The %s game ended in a draw!", updated.Name))
	}

	m.states.Dispatch(state.UpdateGame(updated))
	return &updated, nil
}

// PlayAgain resets a finished game back to active with a fresh board and
// start time. Only a participant may restart.
func (m *Manager) PlayAgain(ctx context.Context, roomID string) error {
	user, _, err := m.currentUser()
	if err != nil {
		return err
	}

	_, gm, err := m.activeGame(ctx, roomID)
	if err != nil {
		return err
	}
	if !gm.HasPlayer(user.ID) {
		return ErrNotAllowed
	}
	if gm.Status != models.GameFinished {
		return ErrNotFinished
	}

	entry, ok := m.registry.EntryFor(gm)
	if !ok {
		return ErrUnknownKind
	}

	now := m.now()
	gm.Status = models.GameActive
	gm.StartedAt = &now
	gm.EndedAt = nil
	gm.Winner = ""
	if entry.Engine != nil {
		gm.Board = entry.Engine.EmptyBoard()
	}

	if err := m.store.UpdateGame(ctx, *gm); err != nil {
		return fmt.Errorf("update game: %w", err)
	}

	m.states.Dispatch(state.UpdateGame(*gm))
	return nil
}

func (m *Manager) currentUser() (*models.Profile, state.AppState, error) {
	st := m.states.State()
	if st.CurrentUser == nil {
		return nil, st, ErrNoSession
	}
	return st.CurrentUser, st, nil
}

func (m *Manager) room(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := m.store.RoomByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("RoomByID: %w", err)
	}
	if room == nil {
		return nil, store.ErrInvalidRoom
	}
	return room, nil
}

func (m *Manager) activeGame(ctx context.Context, roomID string) (*models.Room, *models.Game, error) {
	room, err := m.room(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	if room.GameActiveID == "" {
		return nil, nil, ErrNoActiveGame
	}

	gm, err := m.store.GameByID(ctx, room.GameActiveID)
	if err != nil {
		return nil, nil, fmt.Errorf("GameByID: %w", err)
	}
	if gm == nil {
		return nil, nil, ErrNoActiveGame
	}
	return room, gm, nil
}

// systemMessage emits an automated notice into the room's chat. Failures
// are logged, not surfaced: a lost notice never blocks a game transition
// that is already committed.
func (m *Manager) systemMessage(ctx context.Context, roomID, userID, content string) {
	_, err := m.store.InsertMessage(ctx, models.Message{
		RoomID:          roomID,
		UserID:          userID,
		Content:         content,
		IsSystemMessage: true,
	})
	if err != nil {
		m.logger.Error("insert system message",
			slog.String("room_id", roomID), slog.String("err", err.Error()))
	}
}

// username resolves a user id to a display name, degrading to "Unknown" for
// users the client has not loaded yet.
func username(st state.AppState, userID string) string {
	if st.CurrentUser != nil && st.CurrentUser.ID == userID {
		return st.CurrentUser.Username
	}
	if user, ok := st.Users[userID]; ok {
		return user.Username
	}
	return "Unknown"
}
