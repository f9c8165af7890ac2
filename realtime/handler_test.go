package realtime

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/playchat/auth"
	"example.com/playchat/models"
	"example.com/playchat/store"
)

type handlerFixture struct {
	store    *store.SQLiteStore
	feed     *store.Feed
	server   *httptest.Server
	wsURL    string
	token    string
	userID   string
	ctx      context.Context
	tearDown func()
}

func setUpHandlerFixture(t *testing.T) *handlerFixture {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}

	goose.SetBaseFS(os.DirFS("../migrations"))

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

	ctx := context.Background()

	profile, err := identity.SignUp(ctx, "alice", "password")
	if err != nil {
		t.Fatal(err)
	}
	token, _, err := identity.SignIn(ctx, "alice", "password")
	if err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(Handler(st, identity, logger))

	return &handlerFixture{
		store:  st,
		feed:   feed,
		server: server,
		wsURL:  "ws" + strings.TrimPrefix(server.URL, "http"),
		token:  token,
		userID: profile.ID,
		ctx:    ctx,
		tearDown: func() {
			server.Close()
			feed.Close()
			db.Close()
		},
	}
}

func (f *handlerFixture) seedRoom(t *testing.T, id string) {
	err := f.store.InsertRoom(f.ctx, models.Room{
		ID: id, Name: id, CreatedBy: f.userID, Members: []string{f.userID},
	})
	require.NoError(t, err)
}

func TestHandlerStreamsFilteredEvents(t *testing.T) {
	f := setUpHandlerFixture(t)
	defer f.tearDown()

	f.seedRoom(t, "r1")
	f.seedRoom(t, "r2")

	events := make(chan store.ChangeEvent, 8)
	client, err := Dial(f.ctx, f.wsURL, f.token,
		store.Filter{Collection: store.Messages, Field: "room_id", Value: "r1"},
		func(e store.ChangeEvent) { events <- e })
	require.NoError(t, err)
	defer client.Close()

	// The dial returns before the server registers the subscription.
	require.Eventually(t, func() bool {
		_, err := f.store.InsertMessage(f.ctx, models.Message{
			RoomID: "r1", UserID: f.userID, Content: "warm up",
		})
		require.NoError(t, err)
		return len(events) > 0
	}, 2*time.Second, 50*time.Millisecond)
	// Drain warm-up events, including any still in flight over the
	// websocket, until the channel stays quiet for a grace period.
	for quiet := false; !quiet; {
		select {
		case <-events:
		case <-time.After(300 * time.Millisecond):
			quiet = true
		}
	}

	// Writes to other rooms must not pass the filter.
	_, err = f.store.InsertMessage(f.ctx, models.Message{
		RoomID: "r2", UserID: f.userID, Content: "elsewhere",
	})
	require.NoError(t, err)
	_, err = f.store.InsertMessage(f.ctx, models.Message{
		RoomID: "r1", UserID: f.userID, Content: "hello",
	})
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, store.EventInsert, event.Type)
		assert.Equal(t, store.Messages, event.Collection)
		message, ok := event.New.(*models.Message)
		require.True(t, ok, "expected a typed message record, got %T", event.New)
		assert.Equal(t, "r1", message.RoomID)
		assert.Equal(t, "hello", message.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestHandlerReleasesSubscriptionOnClose(t *testing.T) {
	f := setUpHandlerFixture(t)
	defer f.tearDown()

	f.seedRoom(t, "r1")

	events := make(chan store.ChangeEvent, 8)
	client, err := Dial(f.ctx, f.wsURL, f.token,
		store.Filter{Collection: store.Messages, Field: "room_id", Value: "r1"},
		func(e store.ChangeEvent) { events <- e })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := f.store.InsertMessage(f.ctx, models.Message{
			RoomID: "r1", UserID: f.userID, Content: "warm up",
		})
		require.NoError(t, err)
		return len(events) > 0
	}, 2*time.Second, 50*time.Millisecond)

	require.NoError(t, client.Close())
	// Give the server's read loop a moment to observe the close and cancel
	// the feed subscription.
	time.Sleep(200 * time.Millisecond)
	for len(events) > 0 {
		<-events
	}

	_, err = f.store.InsertMessage(f.ctx, models.Message{
		RoomID: "r1", UserID: f.userID, Content: "after close",
	})
	require.NoError(t, err)

	select {
	case event := <-events:
		t.Fatalf("received event after close: %+v", event)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestHandlerRejectsBadDials(t *testing.T) {
	f := setUpHandlerFixture(t)
	defer f.tearDown()

	t.Run("bad token", func(t *testing.T) {
		_, err := Dial(f.ctx, f.wsURL, "not-a-token",
			store.Filter{Collection: store.Messages}, func(store.ChangeEvent) {})
		assert.Error(t, err)
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := Dial(f.ctx, f.wsURL, f.token,
			store.Filter{}, func(store.ChangeEvent) {})
		assert.Error(t, err)
	})
}
