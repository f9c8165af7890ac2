package game

import (
	"errors"

	"example.com/playchat/models"
)

const (
	KindTicTacToe         Kind = "tic-tac-toe"
	KindHangman           Kind = "hangman"
	KindTrivia            Kind = "trivia"
	KindRockPaperScissors Kind = "rock-paper-scissors"
)

// Kind identifies a game variant.
type Kind = string

var (
	ErrUnknownKind = errors.New("unknown game kind")
	// ErrNoEngine is returned when a move is played in a game whose kind has
	// a catalog entry but no rule engine yet.
	ErrNoEngine = errors.New("game kind has no rule engine")
)

// Info is a game kind's static catalog entry. Its fields are copied onto
// the game record at creation time.
type Info struct {
	Name        string
	Description string
	MinPlayers  int
	MaxPlayers  int
}

// Outcome describes the result of applying a move.
type Outcome struct {
	// Winner holds the winning user id when the move completed a winning
	// line; empty otherwise.
	Winner string
	// Draw reports that the move ended the game with no winner.
	Draw bool
}

// Engine enforces one game variant's rules against the shared game record.
// Engines are stateless; the board travels on the record so every client
// applies moves against the same authoritative state.
type Engine interface {
	// EmptyBoard returns the encoding of a fresh board.
	EmptyBoard() string
	// CanPlay reports whether the user may currently make a move.
	CanPlay(game models.Game, userID string) bool
	// Apply validates the encoded move for the user and returns the updated
	// game record. The input record is unchanged when an error is returned.
	Apply(game models.Game, userID string, move string) (models.Game, Outcome, error)
}

// Entry pairs a catalog description with the kind's rule engine. Engine is
// nil for kinds that are listed but not yet playable.
type Entry struct {
	Kind   Kind
	Info   Info
	Engine Engine
}

// Registry maps game kinds to their catalog entries and rule engines.
// Adding a new variant is a Register call, not a branch rewrite.
type Registry struct {
	entries map[Kind]Entry
	order   []Kind
}

// NewRegistry returns a registry preloaded with the built-in catalog.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[Kind]Entry)}

	r.Register(Entry{
		Kind:   KindTicTacToe,
		Info:   Info{Name: "Tic-Tac-Toe", Description: "Classic 3x3 grid game", MinPlayers: 2, MaxPlayers: 2},
		Engine: TicTacToe{},
	})
	r.Register(Entry{
		Kind: KindHangman,
		Info: Info{Name: "Hangman", Description: "Guess the word before the man is hanged", MinPlayers: 2, MaxPlayers: 10},
	})
	r.Register(Entry{
		Kind: KindTrivia,
		Info: Info{Name: "Trivia Quiz", Description: "Test your knowledge with fun trivia questions", MinPlayers: 1, MaxPlayers: 20},
	})
	r.Register(Entry{
		Kind: KindRockPaperScissors,
		Info: Info{Name: "Rock Paper Scissors", Description: "Quick game of chance and strategy", MinPlayers: 2, MaxPlayers: 2},
	})

	return r
}

func (r *Registry) Register(entry Entry) {
	if _, ok := r.entries[entry.Kind]; !ok {
		r.order = append(r.order, entry.Kind)
	}
	r.entries[entry.Kind] = entry
}

func (r *Registry) Lookup(kind Kind) (Entry, bool) {
	entry, ok := r.entries[kind]
	return entry, ok
}

// EntryFor resolves the registry entry for an existing game record by the
// kind persisted on it.
func (r *Registry) EntryFor(game *models.Game) (Entry, bool) {
	return r.Lookup(game.Kind)
}

// Entries returns the catalog in registration order.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, 0, len(r.order))
	for _, kind := range r.order {
		entries = append(entries, r.entries[kind])
	}
	return entries
}
