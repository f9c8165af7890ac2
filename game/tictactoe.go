package game

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"example.com/playchat/models"
)

const (
	MarkX     = 'X'
	MarkO     = 'O'
	markEmpty = '-'

	boardSize = 3
)

var (
	ErrNotPlayable  = errors.New("game is not playable")
	ErrNotYourTurn  = errors.New("not your turn")
	ErrCellOccupied = errors.New("cell is already occupied")
	ErrInvalidMove  = errors.New("invalid move")
)

// Board is the 3x3 tic-tac-toe grid. The zero value is an empty board.
type Board [boardSize][boardSize]byte

// ParseBoard decodes a board from its row-major string encoding, e.g.
// "XO--X----". An empty string decodes to an empty board.
func ParseBoard(s string) (Board, error) {
	var b Board
	if s == "" {
		return b, nil
	}
	if len(s) != boardSize*boardSize {
		return b, fmt.Errorf("%w: board %q", ErrInvalidMove, s)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != MarkX && c != MarkO && c != markEmpty {
			return b, fmt.Errorf("%w: board %q", ErrInvalidMove, s)
		}
		if c != markEmpty {
			b[i/boardSize][i%boardSize] = c
		}
	}
	return b, nil
}

// Encode returns the row-major string encoding of the board.
func (b Board) Encode() string {
	var sb strings.Builder
	for row := 0; row < boardSize; row++ {
		for col := 0; col < boardSize; col++ {
			if b[row][col] == 0 {
				sb.WriteByte(markEmpty)
			} else {
				sb.WriteByte(b[row][col])
			}
		}
	}
	return sb.String()
}

// Full reports whether every cell is claimed.
func (b Board) Full() bool {
	for row := 0; row < boardSize; row++ {
		for col := 0; col < boardSize; col++ {
			if b[row][col] == 0 {
				return false
			}
		}
	}
	return true
}

// Winner returns the mark holding a completed line, or zero if none. Rows
// are checked before columns before diagonals; at most one line can
// complete per move, so the order never changes the result.
func (b Board) Winner() byte {
	for i := 0; i < boardSize; i++ {
		if b[i][0] != 0 && b[i][0] == b[i][1] && b[i][1] == b[i][2] {
			return b[i][0]
		}
	}
	for i := 0; i < boardSize; i++ {
		if b[0][i] != 0 && b[0][i] == b[1][i] && b[1][i] == b[2][i] {
			return b[0][i]
		}
	}
	if b[0][0] != 0 && b[0][0] == b[1][1] && b[1][1] == b[2][2] {
		return b[0][0]
	}
	if b[0][2] != 0 && b[0][2] == b[1][1] && b[1][1] == b[2][0] {
		return b[0][2]
	}
	return 0
}

// Turn returns the mark that moves next. X moves first, so the board alone
// determines the turn; every client derives the same answer from the shared
// record.
func (b Board) Turn() byte {
	var x, o int
	for row := 0; row < boardSize; row++ {
		for col := 0; col < boardSize; col++ {
			switch b[row][col] {
			case MarkX:
				x++
			case MarkO:
				o++
			}
		}
	}
	if x > o {
		return MarkO
	}
	return MarkX
}

// TicTacToe is the tic-tac-toe rule engine. Players[0] plays X and
// Players[1] plays O.
type TicTacToe struct{}

func (TicTacToe) EmptyBoard() string {
	return Board{}.Encode()
}

// playerFor returns the user id assigned to the mark.
func (TicTacToe) playerFor(game models.Game, mark byte) string {
	switch mark {
	case MarkX:
		if len(game.Players) > 0 {
			return game.Players[0]
		}
	case MarkO:
		if len(game.Players) > 1 {
			return game.Players[1]
		}
	}
	return ""
}

func (t TicTacToe) CanPlay(game models.Game, userID string) bool {
	if game.Status != models.GameActive || len(game.Players) < 2 || game.Winner != "" {
		return false
	}
	board, err := ParseBoard(game.Board)
	if err != nil {
		return false
	}
	if board.Winner() != 0 || board.Full() {
		return false
	}
	return t.playerFor(game, board.Turn()) == userID
}

// Claim marks the cell for the user and returns the updated game record.
// On a completed line the record's status flips to finished with the
// winning player recorded; on a full board with no line it finishes with no
// winner. The input record is unchanged when an error is returned.
func (t TicTacToe) Claim(game models.Game, userID string, row, col int) (models.Game, Outcome, error) {
	var outcome Outcome

	if row < 0 || row >= boardSize || col < 0 || col >= boardSize {
		return game, outcome, ErrInvalidMove
	}

	board, err := ParseBoard(game.Board)
	if err != nil {
		return game, outcome, err
	}

	if game.Status != models.GameActive || len(game.Players) < 2 || game.Winner != "" ||
		board.Winner() != 0 || board.Full() {
		return game, outcome, ErrNotPlayable
	}

	turn := board.Turn()
	if t.playerFor(game, turn) != userID {
		return game, outcome, ErrNotYourTurn
	}

	if board[row][col] != 0 {
		return game, outcome, ErrCellOccupied
	}

	board[row][col] = turn
	game.Board = board.Encode()

	if mark := board.Winner(); mark != 0 {
		game.Status = models.GameFinished
		game.Winner = t.playerFor(game, mark)
		outcome.Winner = game.Winner
	} else if board.Full() {
		game.Status = models.GameFinished
		outcome.Draw = true
	}

	return game, outcome, nil
}

// Apply decodes a "row,col" move and claims the cell.
func (t TicTacToe) Apply(game models.Game, userID string, move string) (models.Game, Outcome, error) {
	parts := strings.Split(move, ",")
	if len(parts) != 2 {
		return game, Outcome{}, fmt.Errorf("%w: %q", ErrInvalidMove, move)
	}
	row, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return game, Outcome{}, fmt.Errorf("%w: %q", ErrInvalidMove, move)
	}
	col, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return game, Outcome{}, fmt.Errorf("%w: %q", ErrInvalidMove, move)
	}
	return t.Claim(game, userID, row, col)
}
