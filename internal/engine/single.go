package engine

import "github.com/trigrid/trigrid/internal/models"

// singleVariant is plain 3x3 three-in-a-row. Tokens are "<col><row>" with
// columns a-c and rows 1-3, e.g. "b2" for the center cell.
type singleVariant struct{}

func (singleVariant) Key() models.VariantKey { return models.VariantSingle }

// parseCell decodes a two character <col><row> token into a flat index, or
// -1 when the token is off-grammar or out of bounds.
func parseCell(tok string, rows, cols int) int {
	if len(tok) != 2 {
		return -1
	}
	col := int(tok[0] - 'a')
	row := int(tok[1] - '1')
	if col < 0 || col >= cols || row < 0 || row >= rows {
		return -1
	}
	return row*cols + col
}

func (singleVariant) Validate(history []string, candidate string) bool {
	idx := parseCell(candidate, 3, 3)
	if idx < 0 {
		return false
	}
	board, out := replaySingle(history)
	if out.Decided() {
		return false
	}
	return board[idx] == Empty
}

func (singleVariant) Outcome(history []string) Outcome {
	_, out := replaySingle(history)
	return out
}

func replaySingle(history []string) ([9]Cell, Outcome) {
	var board [9]Cell
	out := OutcomeNone
	for i, tok := range history {
		idx := parseCell(tok, 3, 3)
		if idx < 0 || board[idx] != Empty {
			continue // histories are validated before they are appended
		}
		board[idx] = mark(i%2 == 0)
		out = Resolve(board[:], 3, 3, 3, idx)
		if out.Decided() {
			break
		}
	}
	return board, out
}
