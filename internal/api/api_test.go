package api_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/playchat/auth"
	"example.com/playchat/internal/api"
	"example.com/playchat/models"
	"example.com/playchat/store"
)

func setUpTestApiServer(t *testing.T) (*httptest.Server, func()) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}

	goose.SetBaseFS(os.DirFS("../../migrations"))

	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatal(err)
	}

	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := store.NewFeed(store.WithLogger(logger))
	st := store.NewSQLiteStore(db, feed)
	identity := auth.NewStoreIdentity(st, auth.TokenOptions{Secret: []byte("test-secret"), Exp: time.Hour})

	_api := api.NewApi(st, identity, logger, api.ApiConfig{})

	server := httptest.NewServer(_api.Mux())

	return server, func() {
		server.Close()
		feed.Close()
		db.Close()
	}
}

func encodeJsonBody(t *testing.T, body any) io.Reader {
	buf := bytes.NewBuffer(nil)
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		t.Fatal(err)
	}
	return buf
}

func decodeJsonBody(t *testing.T, res *http.Response, v any) {
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func sendRequest(t *testing.T, server *httptest.Server, method, path, token string, body any) *http.Response {
	endpoint, err := url.JoinPath(server.URL, path)
	if err != nil {
		t.Fatal(err)
	}

	var reader io.Reader
	if body != nil {
		reader = encodeJsonBody(t, body)
	}

	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

// signupAndSignin registers the user and returns their session token.
func signupAndSignin(t *testing.T, server *httptest.Server, username string) string {
	res := sendRequest(t, server, http.MethodPost, "/auth/signup", "",
		api.SignupPayload{Username: username, Password: "password"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: status %d", username, res.StatusCode)
	}
	res.Body.Close()

	res = sendRequest(t, server, http.MethodPost, "/auth/signin", "",
		api.SigninPayload{Username: username, Password: "password"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("signin %s: status %d", username, res.StatusCode)
	}

	var signin api.SigninResponse
	decodeJsonBody(t, res, &signin)
	return signin.Token
}

func createRoom(t *testing.T, server *httptest.Server, token, name string) models.Room {
	res := sendRequest(t, server, http.MethodPost, "/rooms", token, models.Room{Name: name})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create room: status %d", res.StatusCode)
	}
	res.Body.Close()

	res = sendRequest(t, server, http.MethodGet, "/rooms", token, nil)
	var rooms []models.Room
	decodeJsonBody(t, res, &rooms)
	for _, room := range rooms {
		if room.Name == name {
			return room
		}
	}
	t.Fatalf("created room %q not listed", name)
	return models.Room{}
}

func TestSignupHandler(t *testing.T) {
	server, tearDown := setUpTestApiServer(t)
	defer tearDown()

	t.Run("signup successfully", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodPost, "/auth/signup", "",
			api.SignupPayload{Username: "alice", Password: "password"})

		require.Equal(t, http.StatusCreated, res.StatusCode)
		var profile models.Profile
		decodeJsonBody(t, res, &profile)
		assert.NotEmpty(t, profile.ID)
		assert.Equal(t, "alice", profile.Username)
	})

	t.Run("duplicate username", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodPost, "/auth/signup", "",
			api.SignupPayload{Username: "alice", Password: "other"})
		defer res.Body.Close()

		assert.Equal(t, http.StatusConflict, res.StatusCode)
	})

	t.Run("missing fields", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodPost, "/auth/signup", "",
			api.SignupPayload{Username: "bob"})
		defer res.Body.Close()

		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})
}

func TestSigninHandler(t *testing.T) {
	server, tearDown := setUpTestApiServer(t)
	defer tearDown()

	res := sendRequest(t, server, http.MethodPost, "/auth/signup", "",
		api.SignupPayload{Username: "alice", Password: "password"})
	require.Equal(t, http.StatusCreated, res.StatusCode)
	res.Body.Close()

	t.Run("signin successfully", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodPost, "/auth/signin", "",
			api.SigninPayload{Username: "alice", Password: "password"})

		require.Equal(t, http.StatusOK, res.StatusCode)
		var signin api.SigninResponse
		decodeJsonBody(t, res, &signin)
		assert.NotEmpty(t, signin.Token)
		assert.True(t, signin.ExpireAt.After(time.Now()))
	})

	t.Run("wrong password", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodPost, "/auth/signin", "",
			api.SigninPayload{Username: "alice", Password: "wrong"})
		defer res.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})
}

func TestMeHandler(t *testing.T) {
	server, tearDown := setUpTestApiServer(t)
	defer tearDown()

	token := signupAndSignin(t, server, "alice")

	t.Run("authenticated", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodGet, "/auth/me", token, nil)

		require.Equal(t, http.StatusOK, res.StatusCode)
		var profile models.Profile
		decodeJsonBody(t, res, &profile)
		assert.Equal(t, "alice", profile.Username)
	})

	t.Run("missing token", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodGet, "/auth/me", "", nil)
		defer res.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	t.Run("garbage token", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodGet, "/auth/me", "not-a-token", nil)
		defer res.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})
}

func TestRoomHandlers(t *testing.T) {
	server, tearDown := setUpTestApiServer(t)
	defer tearDown()

	token := signupAndSignin(t, server, "alice")

	t.Run("requires authentication", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodGet, "/rooms", "", nil)
		defer res.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})

	t.Run("create and get", func(t *testing.T) {
		room := createRoom(t, server, token, "General")

		res := sendRequest(t, server, http.MethodGet, "/rooms/"+room.ID, token, nil)
		require.Equal(t, http.StatusOK, res.StatusCode)

		var got models.Room
		decodeJsonBody(t, res, &got)
		assert.Equal(t, "General", got.Name)
		// created_by comes from the session, never the payload
		assert.NotEmpty(t, got.CreatedBy)
	})

	t.Run("create without a name", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodPost, "/rooms", token, models.Room{})
		defer res.Body.Close()

		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	})

	t.Run("room does not exist", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodGet, "/rooms/random", token, nil)
		defer res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)

		res = sendRequest(t, server, http.MethodPut, "/rooms/random", token, models.Room{Name: "x"})
		defer res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("messages round trip", func(t *testing.T) {
		room := createRoom(t, server, token, "Chatty")

		res := sendRequest(t, server, http.MethodPost, "/rooms/"+room.ID+"/messages", token,
			models.Message{Content: "hello"})
		require.Equal(t, http.StatusCreated, res.StatusCode)
		var created models.Message
		decodeJsonBody(t, res, &created)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, room.ID, created.RoomID)

		res = sendRequest(t, server, http.MethodGet, "/rooms/"+room.ID+"/messages", token, nil)
		require.Equal(t, http.StatusOK, res.StatusCode)
		var messages []models.Message
		decodeJsonBody(t, res, &messages)
		require.Len(t, messages, 1)
		assert.Equal(t, "hello", messages[0].Content)
	})

	t.Run("message to unknown room", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodPost, "/rooms/random/messages", token,
			models.Message{Content: "hello"})
		defer res.Body.Close()

		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})
}

func TestGameHandlers(t *testing.T) {
	server, tearDown := setUpTestApiServer(t)
	defer tearDown()

	token := signupAndSignin(t, server, "alice")

	t.Run("create, get and update", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodPost, "/games", token, models.Game{
			ID: "g1", Kind: "tic-tac-toe", Name: "Tic-Tac-Toe",
			MinPlayers: 2, MaxPlayers: 2, Board: "---------",
		})
		require.Equal(t, http.StatusCreated, res.StatusCode)
		res.Body.Close()

		res = sendRequest(t, server, http.MethodGet, "/games/g1", token, nil)
		require.Equal(t, http.StatusOK, res.StatusCode)
		var game models.Game
		decodeJsonBody(t, res, &game)
		assert.Equal(t, models.GameWaiting, game.Status)
		assert.Equal(t, "tic-tac-toe", game.Kind)

		game.Status = models.GameActive
		res = sendRequest(t, server, http.MethodPut, "/games/g1", token, game)
		require.Equal(t, http.StatusOK, res.StatusCode)
		res.Body.Close()

		res = sendRequest(t, server, http.MethodGet, "/games/g1", token, nil)
		decodeJsonBody(t, res, &game)
		assert.Equal(t, models.GameActive, game.Status)
	})

	t.Run("game does not exist", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodGet, "/games/random", token, nil)
		defer res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)

		res = sendRequest(t, server, http.MethodPut, "/games/random", token, models.Game{})
		defer res.Body.Close()
		assert.Equal(t, http.StatusNotFound, res.StatusCode)
	})

	t.Run("requires authentication", func(t *testing.T) {
		res := sendRequest(t, server, http.MethodPost, "/games", "", models.Game{ID: "g2"})
		defer res.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	})
}
