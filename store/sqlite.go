package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/playchat/models"
)

// SQLiteStore implements Store against a SQLite database. Every successful
// write publishes a ChangeEvent on the feed, which is how all clients of the
// same store, local or connected through the relay, observe each other's
// writes.
type SQLiteStore struct {
	db   *sql.DB
	feed *Feed
	now  func() time.Time
}

func NewSQLiteStore(db *sql.DB, feed *Feed) *SQLiteStore {
	return &SQLiteStore{
		db:   db,
		feed: feed,
		now:  time.Now,
	}
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, profile models.Profile, passwordHash string) error {
	existing, err := s.ProfileByUsername(ctx, profile.Username)
	if err != nil {
		return fmt.Errorf("ProfileByUsername: %w", err)
	}
	if existing != nil {
		return ErrDuplicateUsername
	}

	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	if profile.JoinedAt.IsZero() {
		profile.JoinedAt = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, username, password_hash, avatar, is_online, joined_at)
		VALUES (@id, @username, @password_hash, @avatar, @is_online, @joined_at)`,
		sql.Named("id", profile.ID), sql.Named("username", profile.Username),
		sql.Named("password_hash", passwordHash), sql.Named("avatar", profile.Avatar),
		sql.Named("is_online", profile.IsOnline), sql.Named("joined_at", profile.JoinedAt))
	if err != nil {
		return fmt.Errorf("ExecContext(insert profiles): %w", err)
	}

	s.feed.Publish(ChangeEvent{
		Type:       EventInsert,
		Collection: Profiles,
		New:        &profile,
		Keys:       map[string]string{"id": profile.ID},
	})

	return nil
}

func (s *SQLiteStore) ProfileByID(ctx context.Context, id string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, avatar, is_online, joined_at FROM profiles WHERE id = @id`,
		sql.Named("id", id))
	return scanProfile(row)
}

func (s *SQLiteStore) ProfileByUsername(ctx context.Context, username string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, avatar, is_online, joined_at FROM profiles WHERE username = @username`,
		sql.Named("username", username))
	return scanProfile(row)
}

func (s *SQLiteStore) ProfilePassword(ctx context.Context, username string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM profiles WHERE username = @username`,
		sql.Named("username", username))

	var hash string
	if err := row.Scan(&hash); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrInvalidProfile
		}
		return "", fmt.Errorf("row.Scan: %w", err)
	}
	return hash, nil
}

func (s *SQLiteStore) SetProfileOnline(ctx context.Context, id string, online bool) error {
	old, err := s.ProfileByID(ctx, id)
	if err != nil {
		return fmt.Errorf("ProfileByID: %w", err)
	}
	if old == nil {
		return ErrInvalidProfile
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE profiles SET is_online = @is_online WHERE id = @id`,
		sql.Named("is_online", online), sql.Named("id", id))
	if err != nil {
		return fmt.Errorf("ExecContext(update profiles): %w", err)
	}

	updated := *old
	updated.IsOnline = online

	s.feed.Publish(ChangeEvent{
		Type:       EventUpdate,
		Collection: Profiles,
		New:        &updated,
		Old:        old,
		Keys:       map[string]string{"id": id},
	})

	return nil
}

func (s *SQLiteStore) InsertRoom(ctx context.Context, room models.Room) error {
	members, err := encodeIDs(room.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	moderators, err := encodeIDs(room.Moderators)
	if err != nil {
		return fmt.Errorf("encode moderators: %w", err)
	}

	if room.ID == "" {
		room.ID = uuid.New().String()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, name, description, created_by, members, moderators, is_private, game_active_id, created_at)
		VALUES (@id, @name, @description, @created_by, @members, @moderators, @is_private, @game_active_id, @created_at)`,
		sql.Named("id", room.ID), sql.Named("name", room.Name),
		sql.Named("description", room.Description), sql.Named("created_by", room.CreatedBy),
		sql.Named("members", members), sql.Named("moderators", moderators),
		sql.Named("is_private", room.IsPrivate), sql.Named("game_active_id", nullString(room.GameActiveID)),
		sql.Named("created_at", room.CreatedAt))
	if err != nil {
		return fmt.Errorf("ExecContext(insert rooms): %w", err)
	}

	s.feed.Publish(ChangeEvent{
		Type:       EventInsert,
		Collection: Rooms,
		New:        &room,
		Keys:       map[string]string{"id": room.ID},
	})

	return nil
}

func (s *SQLiteStore) RoomByID(ctx context.Context, id string) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_by, members, moderators, is_private, game_active_id, created_at
		FROM rooms WHERE id = @id`,
		sql.Named("id", id))
	return scanRoom(row)
}

func (s *SQLiteStore) VisibleRooms(ctx context.Context, userID string) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, created_by, members, moderators, is_private, game_active_id, created_at
		FROM rooms ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("QueryContext(rooms): %w", err)
	}
	defer rows.Close()

	var visible []models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		// Private rooms are listed only for their members.
		if room.IsPrivate && !room.IsMember(userID) {
			continue
		}
		visible = append(visible, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	return visible, nil
}

func (s *SQLiteStore) UpdateRoom(ctx context.Context, room models.Room) error {
	old, err := s.RoomByID(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("RoomByID: %w", err)
	}
	if old == nil {
		return ErrInvalidRoom
	}

	members, err := encodeIDs(room.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	moderators, err := encodeIDs(room.Moderators)
	if err != nil {
		return fmt.Errorf("encode moderators: %w", err)
	}

	// created_by and created_at are immutable.
	room.CreatedBy = old.CreatedBy
	room.CreatedAt = old.CreatedAt

	_, err = s.db.ExecContext(ctx,
		`UPDATE rooms SET name = @name, description = @description, members = @members,
		moderators = @moderators, is_private = @is_private, game_active_id = @game_active_id
		WHERE id = @id`,
		sql.Named("name", room.Name), sql.Named("description", room.Description),
		sql.Named("members", members), sql.Named("moderators", moderators),
		sql.Named("is_private", room.IsPrivate), sql.Named("game_active_id", nullString(room.GameActiveID)),
		sql.Named("id", room.ID))
	if err != nil {
		return fmt.Errorf("ExecContext(update rooms): %w", err)
	}

	s.feed.Publish(ChangeEvent{
		Type:       EventUpdate,
		Collection: Rooms,
		New:        &room,
		Old:        old,
		Keys:       map[string]string{"id": room.ID},
	})

	return nil
}

func (s *SQLiteStore) InsertMessage(ctx context.Context, message models.Message) (*models.Message, error) {
	room, err := s.RoomByID(ctx, message.RoomID)
	if err != nil {
		return nil, fmt.Errorf("RoomByID: %w", err)
	}
	if room == nil {
		return nil, ErrInvalidRoom
	}

	message.ID = uuid.New().String()
	message.CreatedAt = s.now()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, user_id, content, is_system_message, created_at)
		VALUES (@id, @room_id, @user_id, @content, @is_system_message, @created_at)`,
		sql.Named("id", message.ID), sql.Named("room_id", message.RoomID),
		sql.Named("user_id", message.UserID), sql.Named("content", message.Content),
		sql.Named("is_system_message", message.IsSystemMessage),
		sql.Named("created_at", message.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert messages): %w", err)
	}

	s.feed.Publish(ChangeEvent{
		Type:       EventInsert,
		Collection: Messages,
		New:        &message,
		Keys:       map[string]string{"id": message.ID, "room_id": message.RoomID},
	})

	return &message, nil
}

func (s *SQLiteStore) RoomMessages(ctx context.Context, roomID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, user_id, content, is_system_message, created_at
		FROM messages WHERE room_id = @room_id ORDER BY created_at, id`,
		sql.Named("room_id", roomID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext(messages): %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Content, &m.IsSystemMessage, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	return messages, nil
}

func (s *SQLiteStore) InsertGame(ctx context.Context, game models.Game) error {
	players, err := encodeIDs(game.Players)
	if err != nil {
		return fmt.Errorf("encode players: %w", err)
	}

	if game.ID == "" {
		game.ID = uuid.New().String()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO games (id, kind, name, description, min_players, max_players, players, status, board, started_at, ended_at, winner)
		VALUES (@id, @kind, @name, @description, @min_players, @max_players, @players, @status, @board, @started_at, @ended_at, @winner)`,
		sql.Named("id", game.ID), sql.Named("kind", game.Kind), sql.Named("name", game.Name),
		sql.Named("description", game.Description), sql.Named("min_players", game.MinPlayers),
		sql.Named("max_players", game.MaxPlayers), sql.Named("players", players),
		sql.Named("status", game.Status), sql.Named("board", game.Board),
		sql.Named("started_at", nullTime(game.StartedAt)), sql.Named("ended_at", nullTime(game.EndedAt)),
		sql.Named("winner", game.Winner))
	if err != nil {
		return fmt.Errorf("ExecContext(insert games): %w", err)
	}

	s.feed.Publish(ChangeEvent{
		Type:       EventInsert,
		Collection: Games,
		New:        &game,
		Keys:       map[string]string{"id": game.ID},
	})

	return nil
}

func (s *SQLiteStore) GameByID(ctx context.Context, id string) (*models.Game, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, name, description, min_players, max_players, players, status, board, started_at, ended_at, winner
		FROM games WHERE id = @id`,
		sql.Named("id", id))
	return scanGame(row)
}

func (s *SQLiteStore) UpdateGame(ctx context.Context, game models.Game) error {
	old, err := s.GameByID(ctx, game.ID)
	if err != nil {
		return fmt.Errorf("GameByID: %w", err)
	}
	if old == nil {
		return ErrInvalidGame
	}

	players, err := encodeIDs(game.Players)
	if err != nil {
		return fmt.Errorf("encode players: %w", err)
	}

	// kind is immutable.
	game.Kind = old.Kind

	_, err = s.db.ExecContext(ctx,
		`UPDATE games SET players = @players, status = @status, board = @board,
		started_at = @started_at, ended_at = @ended_at, winner = @winner
		WHERE id = @id`,
		sql.Named("players", players), sql.Named("status", game.Status),
		sql.Named("board", game.Board), sql.Named("started_at", nullTime(game.StartedAt)),
		sql.Named("ended_at", nullTime(game.EndedAt)), sql.Named("winner", game.Winner),
		sql.Named("id", game.ID))
	if err != nil {
		return fmt.Errorf("ExecContext(update games): %w", err)
	}

	s.feed.Publish(ChangeEvent{
		Type:       EventUpdate,
		Collection: Games,
		New:        &game,
		Old:        old,
		Keys:       map[string]string{"id": game.ID},
	})

	return nil
}

func (s *SQLiteStore) Subscribe(filter Filter, fn func(ChangeEvent)) *Subscription {
	return s.feed.Subscribe(filter, fn)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*models.Profile, error) {
	var p models.Profile
	if err := row.Scan(&p.ID, &p.Username, &p.Avatar, &p.IsOnline, &p.JoinedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}
	return &p, nil
}

func scanRoom(row scanner) (*models.Room, error) {
	var (
		r            models.Room
		members      string
		moderators   string
		gameActiveID sql.NullString
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedBy,
		&members, &moderators, &r.IsPrivate, &gameActiveID, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}

	if r.Members, err = decodeIDs(members); err != nil {
		return nil, fmt.Errorf("decode members: %w", err)
	}
	if r.Moderators, err = decodeIDs(moderators); err != nil {
		return nil, fmt.Errorf("decode moderators: %w", err)
	}
	r.GameActiveID = gameActiveID.String

	return &r, nil
}

func scanGame(row scanner) (*models.Game, error) {
	var (
		g         models.Game
		players   string
		startedAt sql.NullTime
		endedAt   sql.NullTime
	)
	err := row.Scan(&g.ID, &g.Kind, &g.Name, &g.Description, &g.MinPlayers, &g.MaxPlayers,
		&players, &g.Status, &g.Board, &startedAt, &endedAt, &g.Winner)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}

	if g.Players, err = decodeIDs(players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	if startedAt.Valid {
		g.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		g.EndedAt = &endedAt.Time
	}

	return &g, nil
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeIDs(s string) ([]string, error) {
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
