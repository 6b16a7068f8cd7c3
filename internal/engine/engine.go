// Package engine holds the pure rule logic for the supported board game
// variants: move grammar validation, board mutation and outcome detection.
// It knows nothing about sessions, clocks or identity.
package engine

import "github.com/trigrid/trigrid/internal/models"

// Outcome classifies a position after a move has been applied.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeFirstWin
	OutcomeSecondWin
	OutcomeDraw
)

// Decided reports whether play on this board is over.
func (o Outcome) Decided() bool { return o != OutcomeNone }

// Cell is one square of a board.
type Cell int8

const (
	Empty Cell = iota
	FirstMark
	SecondMark
)

func mark(firstToMove bool) Cell {
	if firstToMove {
		return FirstMark
	}
	return SecondMark
}

func winFor(c Cell) Outcome {
	if c == FirstMark {
		return OutcomeFirstWin
	}
	return OutcomeSecondWin
}

// Variant is the closed set of move grammars. Validate never panics: any
// grammar, occupancy or targeting violation simply yields false and the
// caller rejects the move as a client error. Outcome replays a legal history
// and classifies the resulting position.
type Variant interface {
	Key() models.VariantKey
	Validate(history []string, candidate string) bool
	Outcome(history []string) Outcome
}

var variants = map[models.VariantKey]Variant{
	models.VariantSingle: singleVariant{},
	models.VariantNested: nestedVariant{},
	models.VariantDrop:   dropVariant{},
}

// ForKey resolves a variant key to its rule set.
func ForKey(key models.VariantKey) (Variant, bool) {
	v, ok := variants[key]
	return v, ok
}
