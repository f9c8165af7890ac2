package state

import (
	"example.com/playchat/models"
)

const (
	ActionSetCurrentUser      ActionType = "SET_CURRENT_USER"
	ActionSetCurrentRoom      ActionType = "SET_CURRENT_ROOM"
	ActionAddMessage          ActionType = "ADD_MESSAGE"
	ActionSetMessages         ActionType = "SET_MESSAGES"
	ActionAddRoom             ActionType = "ADD_ROOM"
	ActionUpdateRoom          ActionType = "UPDATE_ROOM"
	ActionJoinRoom            ActionType = "JOIN_ROOM"
	ActionLeaveRoom           ActionType = "LEAVE_ROOM"
	ActionAddGame             ActionType = "ADD_GAME"
	ActionUpdateGame          ActionType = "UPDATE_GAME"
	ActionAddUser             ActionType = "ADD_USER"
	ActionSetUserOnlineStatus ActionType = "SET_USER_ONLINE_STATUS"
	ActionLogout              ActionType = "LOGOUT"
)

// ActionType names a state transition.
type ActionType = string

// Action is a tagged transition payload. Only the fields relevant to the
// action's type are set; the constructors below are the supported variants.
type Action struct {
	Type     ActionType
	User     models.Profile
	Room     models.Room
	Game     models.Game
	Message  models.Message
	Messages []models.Message
	RoomID   string
	UserID   string
	IsOnline bool
}

// SetCurrentUser replaces the client's current identity.
func SetCurrentUser(user models.Profile) Action {
	return Action{Type: ActionSetCurrentUser, User: user}
}

// SetCurrentRoom switches the active room. Fetching the room's history and
// subscribing to its live updates happens outside the reducer.
func SetCurrentRoom(room models.Room) Action {
	return Action{Type: ActionSetCurrentRoom, Room: room}
}

// AddMessage appends a message to its room's list, preserving arrival
// order. The caller must ensure chronological delivery.
func AddMessage(message models.Message) Action {
	return Action{Type: ActionAddMessage, Message: message}
}

// SetMessages replaces a room's full message list. The messages are
// expected pre-sorted ascending by creation time.
func SetMessages(roomID string, messages []models.Message) Action {
	return Action{Type: ActionSetMessages, RoomID: roomID, Messages: messages}
}

// AddRoom upserts a room by id.
func AddRoom(room models.Room) Action {
	return Action{Type: ActionAddRoom, Room: room}
}

// UpdateRoom upserts a room by id and refreshes the current room, by value,
// if it is the one being updated.
func UpdateRoom(room models.Room) Action {
	return Action{Type: ActionUpdateRoom, Room: room}
}

// JoinRoom adds the user to the room's member set. A no-op if the user is
// already a member or the room is unknown.
func JoinRoom(roomID, userID string) Action {
	return Action{Type: ActionJoinRoom, RoomID: roomID, UserID: userID}
}

// LeaveRoom removes the user from the room's member set. A no-op if the
// user is not a member or the room is unknown.
func LeaveRoom(roomID, userID string) Action {
	return Action{Type: ActionLeaveRoom, RoomID: roomID, UserID: userID}
}

// AddGame upserts a game by id. The room's active game reference is managed
// separately by callers.
func AddGame(game models.Game) Action {
	return Action{Type: ActionAddGame, Game: game}
}

// UpdateGame upserts a game by id.
func UpdateGame(game models.Game) Action {
	return Action{Type: ActionUpdateGame, Game: game}
}

// AddUser upserts a user profile by id.
func AddUser(user models.Profile) Action {
	return Action{Type: ActionAddUser, User: user}
}

// SetUserOnlineStatus flips a user's online flag. A no-op if the user is
// unknown.
func SetUserOnlineStatus(userID string, isOnline bool) Action {
	return Action{Type: ActionSetUserOnlineStatus, UserID: userID, IsOnline: isOnline}
}

// Logout resets the whole tree to its empty initial shape.
func Logout() Action {
	return Action{Type: ActionLogout}
}
