/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package race implements the dice race: four players take turns rolling a
// six-sided die and advance along a 30-cell track. The first player to reach
// or pass the final cell wins.
//
// State values are plain data. Roll and Reset return a new State rather than
// mutating shared state, so whoever owns the game threads it through
// explicitly.
package race

import (
	"errors"
	"fmt"
)

const (
	BoardSize   = 30
	PlayerCount = 4
	DieSides    = 6
)

var ErrInvalidState = errors.New("invalid game state")

// Roller is the random source for the game. Roll must return a value in
// [1, DieSides].
//
//go:generate mockgen -package=mocks -destination=mocks/mock_roller.go github.com/Seednode/dicerace/games/race Roller
type Roller interface {
	Roll() int
}

type Phase string

const (
	Playing  Phase = "playing"
	Finished Phase = "finished"
)

// Move is a single history record. Player is 1-based.
type Move struct {
	Player   int `json:"player"`
	Roll     int `json:"roll"`
	Position int `json:"position"`
}

// State is the whole game.
type State struct {
	Positions     [PlayerCount]int `json:"positions"`
	CurrentPlayer int              `json:"current_player"` // 0-based; meaningless once Winner is set
	LastRoll      int              `json:"last_roll"`      // 0 until the first roll of a game
	Winner        int              `json:"winner"`         // 1-based, 0 while playing
	History       []Move           `json:"history"`
}

// New returns a fresh game.
func New() State {
	return State{History: []Move{}}
}

// Reset discards everything and returns a fresh game. It never fails.
func Reset() State {
	return New()
}

func (s State) Phase() Phase {
	if s.Winner != 0 {
		return Finished
	}
	return Playing
}

func (s State) Finished() bool {
	return s.Winner != 0
}

// Rolled reports whether any roll has happened since the last reset.
func (s State) Rolled() bool {
	return s.LastRoll != 0
}

func (s State) Clone() State {
	history := make([]Move, len(s.History))
	copy(history, s.History)
	s.History = history
	return s
}

// Roll moves the current player by one die roll drawn from r.
//
// A finished game is returned unchanged and r is not consulted. Movement
// clamps at BoardSize: overshooting the last cell still wins. The turn only
// passes on a roll that does not win.
func (s State) Roll(r Roller) State {
	if s.Finished() {
		return s
	}

	next := s.Clone()

	value := r.Roll()
	p := next.CurrentPlayer

	pos := min(BoardSize, next.Positions[p]+value)

	next.Positions[p] = pos
	next.LastRoll = value
	next.History = append(next.History, Move{
		Player:   p + 1,
		Roll:     value,
		Position: pos,
	})

	if pos >= BoardSize {
		next.Winner = p + 1
	} else {
		next.CurrentPlayer = (p + 1) % PlayerCount
	}

	return next
}

// Validate checks the invariants a well-formed State must hold. It is used
// on snapshots loaded from outside the process.
func (s State) Validate() error {
	if s.CurrentPlayer < 0 || s.CurrentPlayer >= PlayerCount {
		return fmt.Errorf("%w: current player %d out of range", ErrInvalidState, s.CurrentPlayer)
	}

	if s.LastRoll < 0 || s.LastRoll > DieSides {
		return fmt.Errorf("%w: last roll %d out of range", ErrInvalidState, s.LastRoll)
	}

	if s.Winner < 0 || s.Winner > PlayerCount {
		return fmt.Errorf("%w: winner %d out of range", ErrInvalidState, s.Winner)
	}

	finished := false
	for i, pos := range s.Positions {
		if pos < 0 || pos > BoardSize {
			return fmt.Errorf("%w: player %d at %d", ErrInvalidState, i+1, pos)
		}
		if pos == BoardSize {
			finished = true
		}
	}

	if finished != (s.Winner != 0) {
		return fmt.Errorf("%w: winner %d does not match positions", ErrInvalidState, s.Winner)
	}

	if s.Winner != 0 && s.Positions[s.Winner-1] != BoardSize {
		return fmt.Errorf("%w: winner %d is not on the last cell", ErrInvalidState, s.Winner)
	}

	var last [PlayerCount]int
	for _, m := range s.History {
		if m.Player < 1 || m.Player > PlayerCount || m.Roll < 1 || m.Roll > DieSides {
			return fmt.Errorf("%w: bad move %+v", ErrInvalidState, m)
		}
		if m.Position < last[m.Player-1] {
			return fmt.Errorf("%w: player %d moved backwards", ErrInvalidState, m.Player)
		}
		last[m.Player-1] = m.Position
	}

	if last != s.Positions {
		return fmt.Errorf("%w: history does not match positions", ErrInvalidState)
	}

	want := 0
	if n := len(s.History); n > 0 {
		want = s.History[n-1].Roll
	}
	if s.LastRoll != want {
		return fmt.Errorf("%w: last roll %d does not match history", ErrInvalidState, s.LastRoll)
	}

	return nil
}
