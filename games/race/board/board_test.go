package board

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Seednode/dicerace/games/race"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	entries map[string][]int
	getErr  error
	setErr  error
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]int)}
}

func (c *mapCache) Get(_ context.Context, key string) ([]int, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.entries[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, positions []int) error {
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = append([]int(nil), positions...)
	return nil
}

func TestCellAt(t *testing.T) {
	tests := []struct {
		n        int
		row, col int
		ok       bool
	}{
		{n: 1, row: 0, col: 0, ok: true},
		{n: 6, row: 0, col: 5, ok: true},
		{n: 7, row: 1, col: 0, ok: true},
		{n: 30, row: 4, col: 5, ok: true},
		{n: 0},
		{n: 31},
		{n: -3},
	}

	for _, tt := range tests {
		c, ok := CellAt(tt.n)
		assert.Equal(t, tt.ok, ok, "cell %d", tt.n)
		if tt.ok {
			assert.Equal(t, Cell{Number: tt.n, Row: tt.row, Col: tt.col}, c)
		}
	}
}

func TestCellsCoverTheGrid(t *testing.T) {
	cells := Cells()

	require.Len(t, cells, race.BoardSize)
	perRow := make(map[int]int)
	for i, c := range cells {
		assert.Equal(t, i+1, c.Number)
		perRow[c.Row]++
	}
	assert.Len(t, perRow, Rows)
	for _, n := range perRow {
		assert.Equal(t, Cols, n)
	}
}

func TestRenderFreshGameStartsOffBoard(t *testing.T) {
	r := NewRenderer(newMapCache())

	v := r.Render(context.Background(), "g:c", race.New())

	assert.Nil(t, v.Reveal)
	assert.Equal(t, SettleDelay.Milliseconds(), v.DelayMS)
	assert.Equal(t, race.BoardSize, v.TotalCells)
	require.Len(t, v.Tokens, race.PlayerCount)
	for i, tok := range v.Tokens {
		assert.Equal(t, i+1, tok.Player)
		assert.Equal(t, Colors[i], tok.Color)
		assert.False(t, tok.From.OnBoard)
		assert.False(t, tok.To.OnBoard)
		assert.Equal(t, i, tok.To.Slot)
	}
}

func TestRenderAnimatesFromLastShownPositions(t *testing.T) {
	cache := newMapCache()
	r := NewRenderer(cache)
	ctx := context.Background()

	g := race.New()
	g.Positions = [race.PlayerCount]int{4, 0, 0, 0}
	g.LastRoll = 4
	g.CurrentPlayer = 1
	g.History = []race.Move{{Player: 1, Roll: 4, Position: 4}}

	first := r.Render(ctx, "g:c", g)
	assert.False(t, first.Tokens[0].From.OnBoard)
	assert.Equal(t, 4, first.Tokens[0].To.Position)
	require.NotNil(t, first.Reveal)
	assert.Equal(t, 4, first.Reveal.Value)
	assert.Equal(t, RevealDelay.Milliseconds(), first.DelayMS)
	assert.Equal(t, []int{4, 0, 0, 0}, cache.entries["g:c"])

	g.Positions[1] = 6
	g.LastRoll = 6
	second := r.Render(ctx, "g:c", g)
	assert.Equal(t, 4, second.Tokens[0].From.Position)
	assert.Equal(t, 4, second.Tokens[0].To.Position)
	assert.False(t, second.Tokens[1].From.OnBoard)
	assert.Equal(t, &Cell{Number: 6, Row: 0, Col: 5}, second.Tokens[1].To.Cell)

	// another client has its own history
	other := r.Render(ctx, "g:other", g)
	assert.False(t, other.Tokens[0].From.OnBoard)
}

func TestRenderIsIdempotent(t *testing.T) {
	r := NewRenderer(newMapCache())
	ctx := context.Background()

	g := race.New()
	g.Positions = [race.PlayerCount]int{3, 5, 0, 0}

	a := r.Render(ctx, "k", g)
	b := r.Render(ctx, "k", g)

	for i := range a.Tokens {
		assert.Equal(t, a.Tokens[i].To, b.Tokens[i].To)
		assert.Equal(t, b.Tokens[i].From, b.Tokens[i].To)
	}
}

func TestRenderFallsBackWhenCacheFails(t *testing.T) {
	cache := newMapCache()
	cache.getErr = errors.New("down")
	cache.setErr = errors.New("down")

	g := race.New()
	g.Positions = [race.PlayerCount]int{10, 0, 0, 0}

	v := NewRenderer(cache).Render(context.Background(), "k", g)
	assert.False(t, v.Tokens[0].From.OnBoard)
	assert.True(t, v.Tokens[0].To.OnBoard)

	v = NewRenderer(nil).Render(context.Background(), "k", g)
	assert.False(t, v.Tokens[0].From.OnBoard)
}

func TestRenderIgnoresMalformedCacheEntries(t *testing.T) {
	cache := newMapCache()
	cache.entries["short"] = []int{5}
	cache.entries["wild"] = []int{99, 0, 0, 0}

	g := race.New()

	v := NewRenderer(cache).Render(context.Background(), "short", g)
	assert.False(t, v.Tokens[0].From.OnBoard)

	v = NewRenderer(cache).Render(context.Background(), "wild", g)
	assert.False(t, v.Tokens[0].From.OnBoard)
	assert.False(t, v.Tokens[0].From.Skip)
}

func TestRenderSkipsUnplaceableTokens(t *testing.T) {
	cache := newMapCache()
	cache.entries["k"] = []int{7, 0, 0, 0}

	g := race.New()
	g.Positions[0] = 40

	v := NewRenderer(cache).Render(context.Background(), "k", g)
	assert.True(t, v.Tokens[0].To.Skip)
	assert.Equal(t, 7, v.Tokens[0].To.Position, "token stays where it was")
}

func TestSummarize(t *testing.T) {
	g := race.New()
	p := Summarize(g)

	assert.Equal(t, "Current turn: Player 1", p.Banner)
	assert.Equal(t, "Total cells: 30", p.TotalCells)
	assert.Empty(t, p.LastRoll)
	assert.Empty(t, p.History)
	assert.Equal(t, []string{"Player 1: 0", "Player 2: 0", "Player 3: 0", "Player 4: 0"}, p.Positions)

	g.Positions = [race.PlayerCount]int{30, 2, 0, 0}
	g.Winner = 1
	g.LastRoll = 5
	g.History = []race.Move{
		{Player: 1, Roll: 6, Position: 25},
		{Player: 2, Roll: 2, Position: 2},
		{Player: 1, Roll: 5, Position: 30},
	}

	p = Summarize(g)
	assert.True(t, p.Finished)
	assert.Contains(t, p.Banner, "Player 1 wins")
	assert.Equal(t, "Last roll: 5", p.LastRoll)
	assert.Equal(t, []string{
		"1. Player 1 → dice 5 → position 30",
		"2. Player 2 → dice 2 → position 2",
		"3. Player 1 → dice 6 → position 25",
	}, p.History)
}

func TestText(t *testing.T) {
	g := race.New()
	g.Positions = [race.PlayerCount]int{30, 30, 0, 7}

	out := Text(g)

	assert.True(t, strings.HasPrefix(out, "start: P3\n"))
	assert.Contains(t, out, "|P1,P2")
	assert.Contains(t, out, "|P4")
	assert.NotContains(t, out, "|7 ")
	assert.Equal(t, 1+2*Rows+1, strings.Count(out, "\n"))

	panel := TextPanel(Summarize(race.New()))
	assert.Contains(t, panel, "No moves yet.")
}
