// Package client wires the state tree, the store gateway and the identity
// provider into one connected chat client. Every client runs the full loop
// independently: local actions dispatch into the state tree and write
// through the gateway; the store broadcasts the change; every subscribed
// client folds the event back into its own tree.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"example.com/playchat/auth"
	"example.com/playchat/game"
	"example.com/playchat/models"
	"example.com/playchat/state"
	"example.com/playchat/store"
)

var (
	ErrNoSession = errors.New("no authenticated user")
	ErrNoRoom    = errors.New("no room selected")
)

var validate = validator.New()

// CreateRoomInput is the validated input for creating a room.
type CreateRoomInput struct {
	Name        string `validate:"required"`
	Description string
	IsPrivate   bool
}

// SendMessageInput is the validated input for sending a message.
type SendMessageInput struct {
	Content string `validate:"required"`
}

// Client is one connected chat client.
type Client struct {
	store    store.Store
	identity auth.Identity
	states   *state.StateStore
	games    *game.Manager
	logger   *slog.Logger

	token string

	mu sync.Mutex
	// lifetime subscriptions, released on sign-out
	globalSubs []*store.Subscription
	// room-scoped subscriptions, released whenever the selection changes
	messageSub *store.Subscription
	gameSub    *store.Subscription
	gameSubID  string

	removeAuthWatch func()
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(s store.Store, identity auth.Identity, registry *game.Registry, opts ...Option) *Client {
	c := &Client{
		store:    s,
		identity: identity,
		states:   state.NewStateStore(),
		logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.games = game.NewManager(s, c.states, registry, game.WithManagerLogger(c.logger))
	return c
}

// State returns the current state tree.
func (c *Client) State() state.AppState {
	return c.states.State()
}

// OnChange registers an observer for state changes, for UI refresh.
func (c *Client) OnChange(fn func(state.AppState)) (remove func()) {
	return c.states.OnChange(fn)
}

// Games exposes the game session manager bound to this client.
func (c *Client) Games() *game.Manager {
	return c.games
}

// Bootstrap resolves the session token, loads the current user's profile
// and visible rooms into the state tree, marks the user online and opens
// the client-lifetime subscriptions.
func (c *Client) Bootstrap(ctx context.Context, token string) error {
	session, err := c.identity.Session(ctx, token)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}

	profile, err := c.store.ProfileByID(ctx, session.UserID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if profile == nil {
		return auth.ErrUnauthenticated
	}

	c.token = token
	c.states.Dispatch(state.SetCurrentUser(*profile))

	if err := c.store.SetProfileOnline(ctx, profile.ID, true); err != nil {
		c.logger.Error("mark online", slog.String("err", err.Error()))
	}

	rooms, err := c.store.VisibleRooms(ctx, profile.ID)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	for _, room := range rooms {
		c.states.Dispatch(state.AddRoom(room))
	}

	c.mu.Lock()
	c.globalSubs = append(c.globalSubs,
		c.store.Subscribe(store.Filter{Collection: store.Rooms}, c.handleRoomEvent),
		c.store.Subscribe(store.Filter{Collection: store.Profiles}, c.handleProfileEvent),
	)
	c.mu.Unlock()

	c.removeAuthWatch = c.identity.OnAuthStateChange(func(event auth.AuthEvent) {
		if event.Type == auth.SignedOut {
			c.states.Dispatch(state.Logout())
		}
	})

	return nil
}

// CreateRoom creates a room with the current user as sole member and
// moderator, announces it with a system message and selects it.
func (c *Client) CreateRoom(ctx context.Context, input CreateRoomInput) (*models.Room, error) {
	user := c.currentUser()
	if user == nil {
		return nil, ErrNoSession
	}
	if err := validate.Struct(&input); err != nil {
		return nil, fmt.Errorf("validate input: %w", err)
	}

	room := models.Room{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
		CreatedBy:   user.ID,
		Members:     []string{user.ID},
		Moderators:  []string{user.ID},
		IsPrivate:   input.IsPrivate,
	}
	if err := c.store.InsertRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	created, err := c.store.RoomByID(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("load created room: %w", err)
	}
	if created == nil {
		return nil, store.ErrInvalidRoom
	}

	c.systemMessage(ctx, created.ID, user.ID, fmt.Sprintf("%s created this room", user.Username))

	c.states.Dispatch(state.AddRoom(*created))
	if err := c.SelectRoom(ctx, created.ID); err != nil {
		return created, err
	}

	return created, nil
}

// SelectRoom switches the active room: it cancels the previous room's
// subscriptions, replaces the room's message cache with the full history
// ordered ascending by creation time, and opens live subscriptions for the
// room's messages, its row and its active game.
func (c *Client) SelectRoom(ctx context.Context, roomID string) error {
	room, err := c.store.RoomByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("RoomByID: %w", err)
	}
	if room == nil {
		return store.ErrInvalidRoom
	}

	c.releaseRoomSubs()

	c.states.Dispatch(state.AddRoom(*room))
	c.states.Dispatch(state.SetCurrentRoom(*room))

	for _, memberID := range room.Members {
		c.loadUser(ctx, memberID)
	}

	history, err := c.store.RoomMessages(ctx, roomID)
	if err != nil {
		return fmt.Errorf("RoomMessages: %w", err)
	}
	c.states.Dispatch(state.SetMessages(roomID, history))

	c.mu.Lock()
	c.messageSub = c.store.Subscribe(
		store.Filter{Collection: store.Messages, Field: "room_id", Value: roomID},
		c.handleMessageEvent)
	c.mu.Unlock()

	if room.GameActiveID != "" {
		c.trackGame(ctx, room.GameActiveID)
	}

	return nil
}

// JoinRoom adds the current user to the room's member list, both in the
// shared store and in the local tree. Joining a room the user is already a
// member of is a no-op.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	user := c.currentUser()
	if user == nil {
		return ErrNoSession
	}

	room, err := c.store.RoomByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("RoomByID: %w", err)
	}
	if room == nil {
		return store.ErrInvalidRoom
	}
	if room.IsMember(user.ID) {
		return nil
	}

	room.Members = append(room.Members, user.ID)
	if err := c.store.UpdateRoom(ctx, *room); err != nil {
		return fmt.Errorf("update room: %w", err)
	}

	c.states.Dispatch(state.AddRoom(*room))
	c.states.Dispatch(state.JoinRoom(roomID, user.ID))
	return nil
}

// LeaveRoom removes the current user from the room's member list in the
// shared store and the local tree. Leaving a room the user is not a member
// of is a no-op.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	user := c.currentUser()
	if user == nil {
		return ErrNoSession
	}

	room, err := c.store.RoomByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("RoomByID: %w", err)
	}
	if room == nil || !room.IsMember(user.ID) {
		return nil
	}

	members := make([]string, 0, len(room.Members)-1)
	for _, m := range room.Members {
		if m != user.ID {
			members = append(members, m)
		}
	}
	room.Members = members
	if err := c.store.UpdateRoom(ctx, *room); err != nil {
		return fmt.Errorf("update room: %w", err)
	}

	c.states.Dispatch(state.LeaveRoom(roomID, user.ID))
	return nil
}

// SendMessage writes a message to the current room through the gateway.
// The local append happens when the insert's change event echoes back, so
// there is exactly one append path and no duplicate entries.
func (c *Client) SendMessage(ctx context.Context, content string) error {
	user := c.currentUser()
	if user == nil {
		return ErrNoSession
	}
	st := c.states.State()
	if st.CurrentRoom == nil {
		return ErrNoRoom
	}
	if err := validate.Struct(&SendMessageInput{Content: content}); err != nil {
		return fmt.Errorf("validate input: %w", err)
	}

	_, err := c.store.InsertMessage(ctx, models.Message{
		RoomID:  st.CurrentRoom.ID,
		UserID:  user.ID,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// SignOut releases every subscription, marks the user offline and resets
// the state tree.
func (c *Client) SignOut(ctx context.Context) error {
	user := c.currentUser()

	c.releaseRoomSubs()

	c.mu.Lock()
	for _, sub := range c.globalSubs {
		sub.Cancel()
	}
	c.globalSubs = nil
	c.mu.Unlock()

	if c.removeAuthWatch != nil {
		c.removeAuthWatch()
		c.removeAuthWatch = nil
	}

	if user != nil {
		if err := c.store.SetProfileOnline(ctx, user.ID, false); err != nil {
			c.logger.Error("mark offline", slog.String("err", err.Error()))
		}
	}

	if err := c.identity.SignOut(ctx, c.token); err != nil {
		c.logger.Error("sign out", slog.String("err", err.Error()))
	}
	c.token = ""

	c.states.Dispatch(state.Logout())
	return nil
}

func (c *Client) currentUser() *models.Profile {
	return c.states.State().CurrentUser
}

// trackGame loads the game into the tree and subscribes to its row.
func (c *Client) trackGame(ctx context.Context, gameID string) {
	gm, err := c.store.GameByID(ctx, gameID)
	if err != nil {
		c.logger.Error("load game", slog.String("game_id", gameID), slog.String("err", err.Error()))
		return
	}
	if gm != nil {
		c.states.Dispatch(state.AddGame(*gm))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gameSub != nil {
		c.gameSub.Cancel()
	}
	c.gameSubID = gameID
	c.gameSub = c.store.Subscribe(
		store.Filter{Collection: store.Games, Field: "id", Value: gameID},
		c.handleGameEvent)
}

func (c *Client) releaseRoomSubs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messageSub != nil {
		c.messageSub.Cancel()
		c.messageSub = nil
	}
	if c.gameSub != nil {
		c.gameSub.Cancel()
		c.gameSub = nil
		c.gameSubID = ""
	}
}

// handleMessageEvent folds message inserts for the current room into the
// tree. Appends are deduplicated by message id so a subscription echo of a
// message the client already holds never produces a duplicate entry.
func (c *Client) handleMessageEvent(event store.ChangeEvent) {
	if event.Type != store.EventInsert {
		return
	}
	message, ok := event.New.(*models.Message)
	if !ok {
		return
	}

	for _, existing := range c.states.State().Messages[message.RoomID] {
		if existing.ID == message.ID {
			return
		}
	}
	c.states.Dispatch(state.AddMessage(*message))
}

// handleRoomEvent folds room inserts and updates into the tree. An update
// is authoritative for the whole record: the local copy is overwritten,
// never merged field by field. A change of the current room's active game
// reference retargets the game subscription.
func (c *Client) handleRoomEvent(event store.ChangeEvent) {
	room, ok := event.New.(*models.Room)
	if !ok {
		return
	}

	user := c.currentUser()
	if room.IsPrivate && (user == nil || !room.IsMember(user.ID)) {
		return
	}

	switch event.Type {
	case store.EventInsert:
		c.states.Dispatch(state.AddRoom(*room))

	case store.EventUpdate:
		c.states.Dispatch(state.UpdateRoom(*room))

		st := c.states.State()
		if st.CurrentRoom == nil || st.CurrentRoom.ID != room.ID {
			return
		}

		c.mu.Lock()
		tracked := c.gameSubID
		c.mu.Unlock()

		switch {
		case room.GameActiveID == "" && tracked != "":
			c.mu.Lock()
			if c.gameSub != nil {
				c.gameSub.Cancel()
				c.gameSub = nil
			}
			c.gameSubID = ""
			c.mu.Unlock()
		case room.GameActiveID != "" && room.GameActiveID != tracked:
			c.trackGame(context.Background(), room.GameActiveID)
		}
	}
}

// handleGameEvent overwrites the local copy of the tracked game.
func (c *Client) handleGameEvent(event store.ChangeEvent) {
	if event.Type != store.EventUpdate && event.Type != store.EventInsert {
		return
	}
	gm, ok := event.New.(*models.Game)
	if !ok {
		return
	}
	c.states.Dispatch(state.UpdateGame(*gm))
}

// handleProfileEvent tracks other users appearing and their online status.
func (c *Client) handleProfileEvent(event store.ChangeEvent) {
	profile, ok := event.New.(*models.Profile)
	if !ok {
		return
	}

	switch event.Type {
	case store.EventInsert:
		c.states.Dispatch(state.AddUser(*profile))
	case store.EventUpdate:
		c.states.Dispatch(state.SetUserOnlineStatus(profile.ID, profile.IsOnline))
	}
}

func (c *Client) loadUser(ctx context.Context, userID string) {
	if _, ok := c.states.State().Users[userID]; ok {
		return
	}
	profile, err := c.store.ProfileByID(ctx, userID)
	if err != nil || profile == nil {
		return
	}
	c.states.Dispatch(state.AddUser(*profile))
}

// systemMessage emits an automated notice; failures are logged only.
func (c *Client) systemMessage(ctx context.Context, roomID, userID, content string) {
	_, err := c.store.InsertMessage(ctx, models.Message{
		RoomID:          roomID,
		UserID:          userID,
		Content:         content,
		IsSystemMessage: true,
	})
	if err != nil {
		c.logger.Error("insert system message",
			slog.String("room_id", roomID), slog.String("err", err.Error()))
	}
}
