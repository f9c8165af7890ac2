package game

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/playchat/models"
	"example.com/playchat/state"
	"example.com/playchat/store"
)

var (
	mgrAlice = models.Profile{ID: "u-alice", Username: "alice"}
	mgrBob   = models.Profile{ID: "u-bob", Username: "bob"}
	mgrCarol = models.Profile{ID: "u-carol", Username: "carol"}
	mgrDave  = models.Profile{ID: "u-dave", Username: "dave"}
)

type managerFixture struct {
	store    store.Store
	registry *Registry
	ctx      context.Context
	tearDown func()
	t        *testing.T
}

// newManagerFixture seeds a store with alice, bob, carol and dave, and one
// room "r1" whose members are alice, bob and dave, moderated by alice.
func newManagerFixture(t *testing.T) *managerFixture {
	ctx, cancel := context.WithCancel(context.Background())

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

	feed := store.NewFeed()
	st := store.NewSQLiteStore(db, feed)

	for _, p := range []models.Profile{mgrAlice, mgrBob, mgrCarol, mgrDave} {
		if err := st.CreateProfile(ctx, p, "hash"); err != nil {
			t.Fatal(err)
		}
	}

	err = st.InsertRoom(ctx, models.Room{
		ID: "r1", Name: "General", CreatedBy: mgrAlice.ID,
		Members:    []string{mgrAlice.ID, mgrBob.ID, mgrDave.ID},
		Moderators: []string{mgrAlice.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	return &managerFixture{
		store:    st,
		registry: NewRegistry(),
		ctx:      ctx,
		tearDown: func() {
			cancel()
			feed.Close()
			db.Close()
		},
		t: t,
	}
}

// manager returns a Manager bound to its own state tree with the given user
// signed in, sharing the fixture's store with every other manager.
func (f *managerFixture) manager(user models.Profile) *Manager {
	states := state.NewStateStore()
	states.Dispatch(state.SetCurrentUser(user))
	return NewManager(f.store, states, f.registry)
}

func (f *managerFixture) lastMessage(roomID string) *models.Message {
	messages, err := f.store.RoomMessages(f.ctx, roomID)
	if err != nil {
		f.t.Fatal(err)
	}
	if len(messages) == 0 {
		return nil
	}
	return &messages[len(messages)-1]
}

func TestManagerStart(t *testing.T) {
	t.Run("creates a waiting game and references it from the room", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		m := f.manager(mgrAlice)

		game, err := m.Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)
		require.NotNil(t, game)
		assert.Equal(t, KindTicTacToe, game.Kind)
		assert.Equal(t, models.GameWaiting, game.Status)
		assert.Equal(t, []string{mgrAlice.ID}, game.Players)
		assert.Equal(t, "---------", game.Board)
		assert.NotNil(t, game.StartedAt)

		room, err := f.store.RoomByID(f.ctx, "r1")
		require.Nil(t, err)
		assert.Equal(t, game.ID, room.GameActiveID)

		message := f.lastMessage("r1")
		require.NotNil(t, message)
		assert.True(t, message.IsSystemMessage)
		assert.Equal(t, "alice started a game of Tic-Tac-Toe", message.Content)
	})

	t.Run("room already has an active game", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		m := f.manager(mgrAlice)

		_, err := m.Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)

		_, err = m.Start(f.ctx, "r1", KindTicTacToe)
		assert.ErrorIs(t, err, ErrGameInProgress)
	})

	t.Run("non-member", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()

		_, err := f.manager(mgrCarol).Start(f.ctx, "r1", KindTicTacToe)
		assert.ErrorIs(t, err, ErrNotMember)
	})

	t.Run("unknown kind", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()

		_, err := f.manager(mgrAlice).Start(f.ctx, "r1", "chess")
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("no session", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		m := NewManager(f.store, state.NewStateStore(), f.registry)

		_, err := m.Start(f.ctx, "r1", KindTicTacToe)
		assert.ErrorIs(t, err, ErrNoSession)
	})
}

func TestManagerJoin(t *testing.T) {
	t.Run("second player activates the game", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		started, err := f.manager(mgrAlice).Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)

		err = f.manager(mgrBob).Join(f.ctx, "r1")
		require.Nil(t, err)

		game, err := f.store.GameByID(f.ctx, started.ID)
		require.Nil(t, err)
		assert.Equal(t, models.GameActive, game.Status)
		// join order decides symbol assignment
		assert.Equal(t, []string{mgrAlice.ID, mgrBob.ID}, game.Players)

		message := f.lastMessage("r1")
		require.NotNil(t, message)
		assert.Equal(t, "bob joined the game", message.Content)
	})

	t.Run("joining twice is a no-op", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		started, err := f.manager(mgrAlice).Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)

		m := f.manager(mgrBob)
		require.Nil(t, m.Join(f.ctx, "r1"))
		require.Nil(t, m.Join(f.ctx, "r1"))

		game, err := f.store.GameByID(f.ctx, started.ID)
		require.Nil(t, err)
		assert.Len(t, game.Players, 2)
	})

	t.Run("full game", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		_, err := f.manager(mgrAlice).Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)
		require.Nil(t, f.manager(mgrBob).Join(f.ctx, "r1"))

		err = f.manager(mgrDave).Join(f.ctx, "r1")
		assert.ErrorIs(t, err, ErrGameFull)
	})

	t.Run("non-member", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		_, err := f.manager(mgrAlice).Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)

		err = f.manager(mgrCarol).Join(f.ctx, "r1")
		assert.ErrorIs(t, err, ErrNotMember)
	})

	t.Run("no active game", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()

		err := f.manager(mgrBob).Join(f.ctx, "r1")
		assert.ErrorIs(t, err, ErrNoActiveGame)
	})
}

func TestManagerPlay(t *testing.T) {
	t.Run("plays through to a win", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		aliceMgr := f.manager(mgrAlice)
		bobMgr := f.manager(mgrBob)

		started, err := aliceMgr.Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)
		require.Nil(t, bobMgr.Join(f.ctx, "r1"))

		// X X X across the top, O in the middle row
		moves := []struct {
			m    *Manager
			move string
		}{
			{aliceMgr, "0,0"}, {bobMgr, "1,0"},
			{aliceMgr, "0,1"}, {bobMgr, "1,1"},
			{aliceMgr, "0,2"},
		}
		for _, step := range moves {
			_, err := step.m.Play(f.ctx, "r1", step.move)
			require.Nil(t, err)
		}

		game, err := f.store.GameByID(f.ctx, started.ID)
		require.Nil(t, err)
		assert.Equal(t, models.GameFinished, game.Status)
		assert.Equal(t, mgrAlice.ID, game.Winner)
		assert.Equal(t, "XXXOO----", game.Board)
		assert.NotNil(t, game.EndedAt)

		message := f.lastMessage("r1")
		require.NotNil(t, message)
		assert.Equal(t, "alice won the Tic-Tac-Toe game!", message.Content)
	})

	t.Run("out of turn", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		_, err := f.manager(mgrAlice).Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)
		bobMgr := f.manager(mgrBob)
		require.Nil(t, bobMgr.Join(f.ctx, "r1"))

		_, err = bobMgr.Play(f.ctx, "r1", "0,0")
		assert.ErrorIs(t, err, ErrNotYourTurn)
	})

	t.Run("waiting game rejects moves", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		aliceMgr := f.manager(mgrAlice)
		_, err := aliceMgr.Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)

		_, err = aliceMgr.Play(f.ctx, "r1", "0,0")
		assert.ErrorIs(t, err, ErrNotPlayable)
	})
}

func TestManagerEnd(t *testing.T) {
	t.Run("participant ends, room reference is cleared", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		aliceMgr := f.manager(mgrAlice)
		started, err := aliceMgr.Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)

		err = aliceMgr.End(f.ctx, "r1")
		require.Nil(t, err)

		game, err := f.store.GameByID(f.ctx, started.ID)
		require.Nil(t, err)
		assert.Equal(t, models.GameFinished, game.Status)
		assert.NotNil(t, game.EndedAt)

		room, err := f.store.RoomByID(f.ctx, "r1")
		require.Nil(t, err)
		assert.Empty(t, room.GameActiveID)

		message := f.lastMessage("r1")
		require.NotNil(t, message)
		assert.Equal(t, "The game has ended", message.Content)
	})

	t.Run("moderator may end a game they are not playing", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		_, err := f.manager(mgrBob).Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)

		err = f.manager(mgrAlice).End(f.ctx, "r1")
		assert.Nil(t, err)
	})

	t.Run("bystander may not", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		_, err := f.manager(mgrBob).Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)

		err = f.manager(mgrDave).End(f.ctx, "r1")
		assert.ErrorIs(t, err, ErrNotAllowed)
	})
}

func TestManagerPlayAgain(t *testing.T) {
	t.Run("resets a finished game", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		aliceMgr := f.manager(mgrAlice)
		bobMgr := f.manager(mgrBob)
		started, err := aliceMgr.Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)
		require.Nil(t, bobMgr.Join(f.ctx, "r1"))

		for _, step := range []struct {
			m    *Manager
			move string
		}{
			{aliceMgr, "0,0"}, {bobMgr, "1,0"},
			{aliceMgr, "0,1"}, {bobMgr, "1,1"},
			{aliceMgr, "0,2"},
		} {
			_, err := step.m.Play(f.ctx, "r1", step.move)
			require.Nil(t, err)
		}

		err = bobMgr.PlayAgain(f.ctx, "r1")
		require.Nil(t, err)

		game, err := f.store.GameByID(f.ctx, started.ID)
		require.Nil(t, err)
		assert.Equal(t, models.GameActive, game.Status)
		assert.Equal(t, "---------", game.Board)
		assert.Empty(t, game.Winner)
		assert.Nil(t, game.EndedAt)
		assert.Equal(t, []string{mgrAlice.ID, mgrBob.ID}, game.Players)
	})

	t.Run("not finished", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		aliceMgr := f.manager(mgrAlice)
		_, err := aliceMgr.Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)

		err = aliceMgr.PlayAgain(f.ctx, "r1")
		assert.ErrorIs(t, err, ErrNotFinished)
	})

	t.Run("only participants restart", func(t *testing.T) {
		f := newManagerFixture(t)
		defer f.tearDown()
		_, err := f.manager(mgrAlice).Start(f.ctx, "r1", KindTicTacToe)
		require.Nil(t, err)

		err = f.manager(mgrDave).PlayAgain(f.ctx, "r1")
		assert.ErrorIs(t, err, ErrNotAllowed)
	})
}
