package models

import (
	"time"
)

const (
	// GameWaiting indicates that the game has been created but does not yet
	// have enough players to start.
	GameWaiting GameStatus = "waiting"
	// GameActive indicates that the game is in progress.
	GameActive GameStatus = "active"
	// GameFinished is the terminal state of a game. A finished game is kept
	// for history but is no longer reachable from its room once the room's
	// active game reference is cleared.
	GameFinished GameStatus = "finished"
)

// GameStatus represents the lifecycle state of a game session.
type GameStatus = string

// Profile represents a user identity. Profiles are owned by the identity
// store and are read-mostly by clients.
type Profile struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
	IsOnline bool      `json:"is_online"`
	JoinedAt time.Time `json:"joined_at"`
}

// Room represents a chat room. A room holds at most one active game at a
// time, referenced by GameActiveID.
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"created_by"`
	// Members holds the user ids of the room's members. Order is irrelevant
	// and ids are unique.
	Members []string `json:"members"`
	// Moderators is a subset of Members with elevated rights.
	Moderators   []string  `json:"moderators"`
	IsPrivate    bool      `json:"is_private"`
	GameActiveID string    `json:"game_active_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsMember reports whether the user is a member of the room.
func (r *Room) IsMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// IsModerator reports whether the user is a moderator of the room.
func (r *Room) IsModerator(userID string) bool {
	for _, m := range r.Moderators {
		if m == userID {
			return true
		}
	}
	return false
}

// Message represents a chat message in a room. Messages are append-only:
// once created they are never mutated or deleted.
type Message struct {
	ID      string `json:"id"`
	RoomID  string `json:"room_id"`
	UserID  string `json:"user_id"`
	Content string `json:"content"`
	// IsSystemMessage distinguishes automated notices, such as
	// "alice joined the game", from user-authored text.
	IsSystemMessage bool      `json:"is_system_message"`
	CreatedAt       time.Time `json:"created_at"`
}

// Game represents one session of a game type. Kind identifies the rule set
// in the game registry; Name, Description and the player bounds are copied
// from the catalog at creation time.
type Game struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MinPlayers  int    `json:"min_players"`
	MaxPlayers  int    `json:"max_players"`
	// Players holds participant user ids in join order. Order is
	// semantically meaningful: it determines turn order and symbol
	// assignment.
	Players []string   `json:"players"`
	Status  GameStatus `json:"status"`
	// Board is the serialized board state of the game, authoritative for
	// all clients. Its encoding is owned by the game's rule engine.
	Board     string     `json:"board,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Winner    string     `json:"winner,omitempty"`
}

// HasPlayer reports whether the user participates in the game.
func (g *Game) HasPlayer(userID string) bool {
	for _, p := range g.Players {
		if p == userID {
			return true
		}
	}
	return false
}
