package board

import (
	"fmt"
	"strings"

	"github.com/Seednode/dicerace/games/race"
)

const (
	Title = "Dice Race"

	cellWidth = 11
)

// Panel is the text shown next to the board.
type Panel struct {
	Title      string   `json:"title"`
	TotalCells string   `json:"total_cells"`
	Banner     string   `json:"banner"`
	Finished   bool     `json:"finished"`
	LastRoll   string   `json:"last_roll,omitempty"`
	Positions  []string `json:"positions"`
	History    []string `json:"history"` // newest first
}

// MoveLine formats one history record.
func MoveLine(m race.Move) string {
	return fmt.Sprintf("Player %d → dice %d → position %d", m.Player, m.Roll, m.Position)
}

func Summarize(s race.State) Panel {
	p := Panel{
		Title:      Title,
		TotalCells: fmt.Sprintf("Total cells: %d", race.BoardSize),
		Finished:   s.Finished(),
		Positions:  make([]string, 0, race.PlayerCount),
		History:    make([]string, 0, len(s.History)),
	}

	if s.Finished() {
		p.Banner = fmt.Sprintf("🎉 Player %d wins!", s.Winner)
	} else {
		p.Banner = fmt.Sprintf("Current turn: Player %d", s.CurrentPlayer+1)
	}

	if s.Rolled() {
		p.LastRoll = fmt.Sprintf("Last roll: %d", s.LastRoll)
	}

	for i, pos := range s.Positions {
		p.Positions = append(p.Positions, fmt.Sprintf("Player %d: %d", i+1, pos))
	}

	for i := len(s.History) - 1; i >= 0; i-- {
		p.History = append(p.History, fmt.Sprintf("%d. %s", len(s.History)-i, MoveLine(s.History[i])))
	}

	return p
}

// Text draws s as a plain-text grid for terminals. Tokens still at the start
// are listed on their own line above the board.
func Text(s race.State) string {
	var b strings.Builder

	occupants := make(map[int][]string)
	var start []string
	for i, pos := range s.Positions {
		if pos < 1 {
			start = append(start, "P"+label(i))
			continue
		}
		occupants[pos] = append(occupants[pos], "P"+label(i))
	}

	b.WriteString("start: ")
	if len(start) == 0 {
		b.WriteString("-")
	} else {
		b.WriteString(strings.Join(start, " "))
	}
	b.WriteString("\n")

	border := strings.Repeat("+"+strings.Repeat("-", cellWidth), Cols) + "+\n"

	b.WriteString(border)
	for row := 0; row < Rows; row++ {
		for col := 0; col < Cols; col++ {
			n := row*Cols + col + 1

			text := fmt.Sprintf("%d", n)
			if who, ok := occupants[n]; ok {
				text = strings.Join(who, ",")
			}
			if len(text) > cellWidth {
				text = text[:cellWidth]
			}

			fmt.Fprintf(&b, "|%-*s", cellWidth, text)
		}
		b.WriteString("|\n")
		b.WriteString(border)
	}

	return b.String()
}

// TextPanel renders p for terminals.
func TextPanel(p Panel) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n%s\n", p.TotalCells, p.Banner)
	if p.LastRoll != "" {
		fmt.Fprintf(&b, "%s\n", p.LastRoll)
	}

	for _, line := range p.Positions {
		fmt.Fprintf(&b, "- %s\n", line)
	}

	if len(p.History) == 0 {
		b.WriteString("No moves yet.\n")
	}
	for _, line := range p.History {
		fmt.Fprintf(&b, "%s\n", line)
	}

	return b.String()
}
