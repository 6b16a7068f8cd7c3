package engine

// Resolve is the shared outcome check, parametrized by board geometry and
// required run length. It inspects only the four lines through the cell just
// played at lastIdx, walking outward in row, column, diagonal and
// anti-diagonal directions. Coordinates are tracked per step, so a run can
// never wrap across a row or column boundary of the flattened array.
//
// The same routine serves 3x3 boards with runLength 3 and the 6x7 drop board
// with runLength 4. When no line wins and every cell is filled the position
// is a draw.
func Resolve(board []Cell, rows, cols, runLength, lastIdx int) Outcome {
	if lastIdx < 0 || lastIdx >= len(board) || board[lastIdx] == Empty {
		return OutcomeNone
	}
	row := lastIdx / cols
	col := lastIdx % cols
	played := board[lastIdx]

	dirs := [4][2]int{
		{0, 1},  // row
		{1, 0},  // column
		{1, 1},  // main diagonal
		{1, -1}, // anti-diagonal
	}
	for _, d := range dirs {
		count := 1
		for r, c := row+d[0], col+d[1]; r >= 0 && r < rows && c >= 0 && c < cols && board[r*cols+c] == played; r, c = r+d[0], c+d[1] {
			count++
		}
		for r, c := row-d[0], col-d[1]; r >= 0 && r < rows && c >= 0 && c < cols && board[r*cols+c] == played; r, c = r-d[0], c-d[1] {
			count++
		}
		if count >= runLength {
			return winFor(played)
		}
	}

	filled := 0
	for _, c := range board {
		if c != Empty {
			filled++
		}
	}
	if filled == rows*cols {
		return OutcomeDraw
	}
	return OutcomeNone
}
