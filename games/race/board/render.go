package board

import (
	"context"
	"time"

	"github.com/Seednode/dicerace/games/race"
	"github.com/rs/zerolog/log"
)

const (
	RevealDelay = 700 * time.Millisecond
	SettleDelay = 50 * time.Millisecond
	Transition  = 450 * time.Millisecond
)

// Cache remembers which positions a client was last shown. Entries are only
// used to pick an animation start point and may disappear at any time.
type Cache interface {
	Get(ctx context.Context, key string) ([]int, error)
	Set(ctx context.Context, key string, positions []int) error
}

// Reveal is the die result shown over the board before tokens move.
type Reveal struct {
	Value int `json:"value"`
}

type Token struct {
	Player int       `json:"player"` // 1-based
	Label  string    `json:"label"`
	Color  string    `json:"color"`
	From   Placement `json:"from"`
	To     Placement `json:"to"`
}

// View is one frame of the board, plus how to animate into it.
type View struct {
	Rows         int     `json:"rows"`
	Cols         int     `json:"cols"`
	TotalCells   int     `json:"total_cells"`
	Cells        []Cell  `json:"cells"`
	Tokens       []Token `json:"tokens"`
	Reveal       *Reveal `json:"reveal,omitempty"`
	DelayMS      int64   `json:"delay_ms"`
	TransitionMS int64   `json:"transition_ms"`
}

type Renderer struct {
	cache Cache
}

// NewRenderer returns a Renderer backed by cache. A nil cache is allowed;
// tokens then always enter from the staging area.
func NewRenderer(cache Cache) *Renderer {
	return &Renderer{cache: cache}
}

// Render builds the view of s for the client identified by key and records
// s.Positions as what that client now shows.
func (r *Renderer) Render(ctx context.Context, key string, s race.State) View {
	prev := r.previous(ctx, key)

	v := View{
		Rows:         Rows,
		Cols:         Cols,
		TotalCells:   race.BoardSize,
		Cells:        Cells(),
		Tokens:       make([]Token, 0, race.PlayerCount),
		DelayMS:      SettleDelay.Milliseconds(),
		TransitionMS: Transition.Milliseconds(),
	}

	if s.Rolled() {
		v.Reveal = &Reveal{Value: s.LastRoll}
		v.DelayMS = RevealDelay.Milliseconds()
	}

	for i, pos := range s.Positions {
		from := place(i, 0)
		if prev != nil {
			if p := place(i, prev[i]); !p.Skip {
				from = p
			}
		}

		to := place(i, pos)
		if to.Skip {
			to = from
			to.Skip = true
		}

		v.Tokens = append(v.Tokens, Token{
			Player: i + 1,
			Label:  label(i),
			Color:  Colors[i%len(Colors)],
			From:   from,
			To:     to,
		})
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, s.Positions[:]); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("could not remember board positions")
		}
	}

	return v
}

func (r *Renderer) previous(ctx context.Context, key string) []int {
	if r.cache == nil {
		return nil
	}

	prev, err := r.cache.Get(ctx, key)
	if err != nil || len(prev) != race.PlayerCount {
		return nil
	}

	return prev
}
