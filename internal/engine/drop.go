package engine

import "github.com/trigrid/trigrid/internal/models"

// Drop board geometry: six rows of seven columns, four in a row to win.
const (
	dropRows = 6
	dropCols = 7
	dropRun  = 4
)

// dropVariant is the gravity connect game. A token is a single column letter
// a-g; the piece settles on the lowest unfilled cell of that column. Row 0 is
// the top of the board, so gravity scans upward from row 5.
type dropVariant struct{}

func (dropVariant) Key() models.VariantKey { return models.VariantDrop }

func parseColumn(tok string) int {
	if len(tok) != 1 {
		return -1
	}
	col := int(tok[0] - 'a')
	if col < 0 || col >= dropCols {
		return -1
	}
	return col
}

// landingIndex finds the flat index the piece settles on, or -1 for a full
// column.
func landingIndex(board []Cell, col int) int {
	for row := dropRows - 1; row >= 0; row-- {
		idx := row*dropCols + col
		if board[idx] == Empty {
			return idx
		}
	}
	return -1
}

func (dropVariant) Validate(history []string, candidate string) bool {
	col := parseColumn(candidate)
	if col < 0 {
		return false
	}
	board, out := replayDrop(history)
	if out.Decided() {
		return false
	}
	return landingIndex(board[:], col) >= 0
}

func (dropVariant) Outcome(history []string) Outcome {
	_, out := replayDrop(history)
	return out
}

func replayDrop(history []string) ([dropRows * dropCols]Cell, Outcome) {
	var board [dropRows * dropCols]Cell
	out := OutcomeNone
	for i, tok := range history {
		col := parseColumn(tok)
		if col < 0 {
			continue
		}
		idx := landingIndex(board[:], col)
		if idx < 0 {
			continue
		}
		board[idx] = mark(i%2 == 0)
		out = Resolve(board[:], dropRows, dropCols, dropRun, idx)
		if out.Decided() {
			break
		}
	}
	return board, out
}
