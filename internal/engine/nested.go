package engine

import "github.com/trigrid/trigrid/internal/models"

// nestedVariant is the recursive 3x3-of-3x3 game. A token is four characters:
// outer board coordinates followed by inner cell coordinates, e.g. "b2a1"
// plays the top-left cell of the center sub-board.
//
// The inner cell of each move selects the sub-board the opponent must play
// next; when that sub-board is already decided the active pointer becomes
// "any" (-1). Decided sub-board outcomes project onto a meta board resolved
// with the same three-in-a-row check.
type nestedVariant struct{}

func (nestedVariant) Key() models.VariantKey { return models.VariantNested }

const anyBoard = -1

// nestedState is the reconstructed position: nine sub-boards, a cached
// outcome per sub-board, and the active sub-board pointer.
type nestedState struct {
	boards  [9][9]Cell
	decided [9]Outcome
	meta    [9]Cell
	active  int
	overall Outcome
}

type nestedMove struct {
	outer int
	inner int
}

func parseNested(tok string) (nestedMove, bool) {
	if len(tok) != 4 {
		return nestedMove{}, false
	}
	outer := parseCell(tok[:2], 3, 3)
	inner := parseCell(tok[2:], 3, 3)
	if outer < 0 || inner < 0 {
		return nestedMove{}, false
	}
	return nestedMove{outer: outer, inner: inner}, true
}

// legal checks the active-board and occupancy rules against the current state.
func (st *nestedState) legal(mv nestedMove) bool {
	if st.overall.Decided() {
		return false
	}
	if st.active != anyBoard && mv.outer != st.active {
		return false
	}
	if st.active == anyBoard && st.decided[mv.outer].Decided() {
		return false
	}
	return st.boards[mv.outer][mv.inner] == Empty
}

// apply mutates the state for a legal move and refreshes the cached
// sub-board outcome, the active pointer and the meta-board resolution.
func (st *nestedState) apply(mv nestedMove, m Cell) {
	st.boards[mv.outer][mv.inner] = m
	out := Resolve(st.boards[mv.outer][:], 3, 3, 3, mv.inner)
	if out.Decided() && !st.decided[mv.outer].Decided() {
		st.decided[mv.outer] = out
		switch out {
		case OutcomeFirstWin:
			st.meta[mv.outer] = FirstMark
		case OutcomeSecondWin:
			st.meta[mv.outer] = SecondMark
		}
		// Drawn sub-boards stay Empty on the meta board but count as
		// decided; the meta cell index of a freshly decided board is the
		// outer coordinate just played.
		st.overall = Resolve(st.meta[:], 3, 3, 3, mv.outer)
	}
	if !st.overall.Decided() && st.allDecided() {
		st.overall = OutcomeDraw
	}

	// Next move is sent to the sub-board matching the inner cell.
	if st.decided[mv.inner].Decided() {
		st.active = anyBoard
	} else {
		st.active = mv.inner
	}
}

func (st *nestedState) allDecided() bool {
	for i := range st.decided {
		if !st.decided[i].Decided() {
			return false
		}
	}
	return true
}

func replayNested(history []string) *nestedState {
	st := &nestedState{active: anyBoard}
	for i, tok := range history {
		mv, ok := parseNested(tok)
		if !ok || !st.legal(mv) {
			continue
		}
		st.apply(mv, mark(i%2 == 0))
		if st.overall.Decided() {
			break
		}
	}
	return st
}

func (nestedVariant) Validate(history []string, candidate string) bool {
	mv, ok := parseNested(candidate)
	if !ok {
		return false
	}
	return replayNested(history).legal(mv)
}

func (nestedVariant) Outcome(history []string) Outcome {
	return replayNested(history).overall
}
