package store

import (
	"context"
	"errors"

	"example.com/playchat/models"
)

// Collection names of the backing store.
const (
	Profiles = "profiles"
	Rooms    = "rooms"
	Messages = "messages"
	Games    = "games"
)

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// EventType tags a row-level change delivered to subscribers.
type EventType = string

var (
	// ErrInvalidRoom is returned when a write references a room that does not exist.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrInvalidGame is returned when a write references a game that does not exist.
	ErrInvalidGame = errors.New("invalid game")
	// ErrInvalidProfile is returned when a write references a profile that does not exist.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrDuplicateUsername is returned when a profile is created with a username
	// that is already taken.
	ErrDuplicateUsername = errors.New("username already taken")
)

// ChangeEvent describes a row-level change in a collection. New holds the
// record after the change and Old the record before it; Old is nil for
// inserts and New is nil for deletes. Records are pointers to the model
// type of the collection.
type ChangeEvent struct {
	Type       EventType `json:"type"`
	Collection string    `json:"collection"`
	New        any       `json:"new,omitempty"`
	Old        any       `json:"old,omitempty"`
	// Keys holds the indexable columns of the changed row, such as id and
	// room_id. Subscription filters match against these.
	Keys map[string]string `json:"keys"`
}

// Filter selects which rows of a collection a subscription receives events
// for. A zero Field matches every row of the collection.
type Filter struct {
	Collection string `json:"collection"`
	// Field and Value form an exact-equality predicate on one of the row's
	// key columns, e.g. room_id = <id>.
	Field string `json:"field,omitempty"`
	Value string `json:"value,omitempty"`
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e *ChangeEvent) bool {
	if f.Collection != e.Collection {
		return false
	}
	if f.Field == "" {
		return true
	}
	return e.Keys[f.Field] == f.Value
}

// Store is the gateway to the shared persistent store. Every write is
// visible to all subscribed clients once the corresponding change event has
// been delivered. Writes from independent clients carry no ordering
// guarantee across rows; the last write wins at the row level.
type Store interface {

	// CreateProfile creates a profile with the given password hash.
	// It returns ErrDuplicateUsername if the username is taken.
	CreateProfile(ctx context.Context, profile models.Profile, passwordHash string) error

	// ProfileByID returns the profile with the given id, or nil if it does
	// not exist.
	ProfileByID(ctx context.Context, id string) (*models.Profile, error)

	// ProfileByUsername returns the profile with the given username, or nil
	// if it does not exist.
	ProfileByUsername(ctx context.Context, username string) (*models.Profile, error)

	// ProfilePassword returns the password hash of the profile, or
	// ErrInvalidProfile if the username is unknown.
	ProfilePassword(ctx context.Context, username string) (string, error)

	// SetProfileOnline flips the online flag of the profile.
	SetProfileOnline(ctx context.Context, id string, online bool) error

	// InsertRoom inserts a room row as given.
	InsertRoom(ctx context.Context, room models.Room) error

	// RoomByID returns the room with the given id, or nil if it does not exist.
	RoomByID(ctx context.Context, id string) (*models.Room, error)

	// VisibleRooms returns the rooms visible to the user: every public room
	// and the private rooms the user is a member of.
	VisibleRooms(ctx context.Context, userID string) ([]models.Room, error)

	// UpdateRoom overwrites the mutable columns of the room row with the
	// given record. It returns ErrInvalidRoom if the room does not exist.
	UpdateRoom(ctx context.Context, room models.Room) error

	// InsertMessage inserts a message row. The id and creation time are
	// assigned by the store; the stored record is returned.
	InsertMessage(ctx context.Context, message models.Message) (*models.Message, error)

	// RoomMessages returns the messages of the room ordered ascending by
	// creation time.
	RoomMessages(ctx context.Context, roomID string) ([]models.Message, error)

	// InsertGame inserts a game row as given.
	InsertGame(ctx context.Context, game models.Game) error

	// GameByID returns the game with the given id, or nil if it does not exist.
	GameByID(ctx context.Context, id string) (*models.Game, error)

	// UpdateGame overwrites the mutable columns of the game row with the
	// given record. It returns ErrInvalidGame if the game does not exist.
	UpdateGame(ctx context.Context, game models.Game) error

	// Subscribe registers a callback that is invoked with every change event
	// matching the filter until the returned subscription is cancelled.
	// Callbacks for one subscription run serially in delivery order.
	Subscribe(filter Filter, fn func(ChangeEvent)) *Subscription
}
