// Package state holds the client-local state tree. The tree is mutated
// exclusively through Reduce, a pure function from state and action to the
// next state, so every transition is testable in isolation from network
// code.
package state

import (
	"sync"

	"example.com/playchat/models"
)

// AppState is the full client-local state tree: the current identity, the
// current room selection and id-indexed maps of every entity the client has
// seen, plus per-room message lists. Dangling references between entities
// are tolerated; rendering resolves them to placeholders.
type AppState struct {
	CurrentUser *models.Profile
	CurrentRoom *models.Room
	Users       map[string]models.Profile
	Rooms       map[string]models.Room
	Games       map[string]models.Game
	// Messages is keyed by room id, each list ordered by arrival.
	Messages map[string][]models.Message
}

// Initial returns the empty initial state.
func Initial() AppState {
	return AppState{
		Users:    map[string]models.Profile{},
		Rooms:    map[string]models.Room{},
		Games:    map[string]models.Game{},
		Messages: map[string][]models.Message{},
	}
}

// Reduce applies the action to the state and returns the next state. It is
// pure and total: the input state is never mutated, and unknown ids in
// payloads produce the input state unchanged instead of an error.
func Reduce(s AppState, action Action) AppState {
	switch action.Type {

	case ActionSetCurrentUser:
		user := action.User
		s.CurrentUser = &user
		s.Users = withUser(s.Users, user)

	case ActionSetCurrentRoom:
		room := action.Room
		s.CurrentRoom = &room

	case ActionAddMessage:
		roomID := action.Message.RoomID
		messages := make([]models.Message, 0, len(s.Messages[roomID])+1)
		messages = append(messages, s.Messages[roomID]...)
		messages = append(messages, action.Message)
		s.Messages = withMessages(s.Messages, roomID, messages)

	case ActionSetMessages:
		s.Messages = withMessages(s.Messages, action.RoomID, action.Messages)

	case ActionAddRoom:
		s.Rooms = withRoom(s.Rooms, action.Room)

	case ActionUpdateRoom:
		room := action.Room
		s.Rooms = withRoom(s.Rooms, room)
		if s.CurrentRoom != nil && s.CurrentRoom.ID == room.ID {
			s.CurrentRoom = &room
		}

	case ActionJoinRoom:
		room, ok := s.Rooms[action.RoomID]
		if !ok || room.IsMember(action.UserID) {
			return s
		}
		room.Members = append(append([]string{}, room.Members...), action.UserID)
		s.Rooms = withRoom(s.Rooms, room)

	case ActionLeaveRoom:
		room, ok := s.Rooms[action.RoomID]
		if !ok || !room.IsMember(action.UserID) {
			return s
		}
		members := make([]string, 0, len(room.Members)-1)
		for _, m := range room.Members {
			if m != action.UserID {
				members = append(members, m)
			}
		}
		room.Members = members
		s.Rooms = withRoom(s.Rooms, room)

	case ActionAddGame, ActionUpdateGame:
		games := make(map[string]models.Game, len(s.Games)+1)
		for id, g := range s.Games {
			games[id] = g
		}
		games[action.Game.ID] = action.Game
		s.Games = games

	case ActionAddUser:
		s.Users = withUser(s.Users, action.User)

	case ActionSetUserOnlineStatus:
		user, ok := s.Users[action.UserID]
		if !ok {
			return s
		}
		user.IsOnline = action.IsOnline
		s.Users = withUser(s.Users, user)

	case ActionLogout:
		return Initial()
	}

	return s
}

func withUser(users map[string]models.Profile, user models.Profile) map[string]models.Profile {
	next := make(map[string]models.Profile, len(users)+1)
	for id, u := range users {
		next[id] = u
	}
	next[user.ID] = user
	return next
}

func withRoom(rooms map[string]models.Room, room models.Room) map[string]models.Room {
	next := make(map[string]models.Room, len(rooms)+1)
	for id, r := range rooms {
		next[id] = r
	}
	next[room.ID] = room
	return next
}

func withMessages(messages map[string][]models.Message, roomID string, list []models.Message) map[string][]models.Message {
	next := make(map[string][]models.Message, len(messages)+1)
	for id, m := range messages {
		next[id] = m
	}
	next[roomID] = list
	return next
}

// StateStore wraps the reducer with serialized dispatch and change
// observers. Dispatches never run concurrently, matching the single
// event-processing loop the tree is designed for.
type StateStore struct {
	mu        sync.Mutex
	state     AppState
	observers map[int]func(AppState)
	nextID    int
}

func NewStateStore() *StateStore {
	return &StateStore{
		state:     Initial(),
		observers: make(map[int]func(AppState)),
	}
}

// Dispatch applies the action and notifies observers with the new state.
// It returns the new state. Observers run outside the lock, so they may
// read the store or dispatch further actions.
func (s *StateStore) Dispatch(action Action) AppState {
	s.mu.Lock()
	s.state = Reduce(s.state, action)
	next := s.state
	observers := make([]func(AppState), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
	return next
}

// State returns the current state.
func (s *StateStore) State() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnChange registers an observer invoked after every dispatch. It returns a
// function that removes the observer.
func (s *StateStore) OnChange(fn func(AppState)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.observers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}
