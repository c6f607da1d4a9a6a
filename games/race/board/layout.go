// Package board turns race snapshots into something a host can draw: a grid
// of numbered cells, one token per player and the transition between what a
// client showed last and what it should show now. It only reads game state.
package board

import (
	"strconv"

	"github.com/Seednode/dicerace/games/race"
)

const (
	Rows = 5
	Cols = 6
)

// Colors holds one token colour per player index.
var Colors = [race.PlayerCount]string{"#e74c3c", "#2980b9", "#27ae60", "#f39c12"}

// Cell is a numbered square on the grid. Row and Col are 0-based.
type Cell struct {
	Number int `json:"number"`
	Row    int `json:"row"`
	Col    int `json:"col"`
}

// CellAt maps cell number n (1..race.BoardSize) to its grid square, row-major
// from the top left. The start position 0 has no square.
func CellAt(n int) (Cell, bool) {
	if n < 1 || n > race.BoardSize || n > Rows*Cols {
		return Cell{}, false
	}

	i := n - 1

	return Cell{Number: n, Row: i / Cols, Col: i % Cols}, true
}

// Cells lists every square in drawing order.
func Cells() []Cell {
	cells := make([]Cell, 0, race.BoardSize)
	for n := 1; n <= race.BoardSize; n++ {
		c, _ := CellAt(n)
		cells = append(cells, c)
	}

	return cells
}

// Placement is where a token sits in one frame: on a cell, or in its slot
// of the staging area beside the board.
type Placement struct {
	Position int   `json:"position"`
	OnBoard  bool  `json:"on_board"`
	Cell     *Cell `json:"cell,omitempty"`
	Slot     int   `json:"slot"`
	Skip     bool  `json:"skip,omitempty"` // no square to move to this frame; leave the token where it is
}

func place(player, position int) Placement {
	if position <= 0 {
		return Placement{Position: 0, Slot: player}
	}

	c, ok := CellAt(position)
	if !ok {
		return Placement{Position: position, Slot: player, Skip: true}
	}

	return Placement{Position: position, OnBoard: true, Cell: &c, Slot: player}
}

func label(player int) string {
	return strconv.Itoa(player + 1)
}
