// Package store keeps race snapshots and per-client board positions for the
// lifetime of a session.
package store

import (
	"context"
	"errors"

	"github.com/Seednode/dicerace/games/race"
)

// ErrNotFound is returned when a game has no stored snapshot.
var ErrNotFound = errors.New("game not found")

// Store holds one race.State per game ID. Implementations also satisfy
// board.Cache so a single backend serves both.
type Store interface {
	Load(ctx context.Context, gameID string) (race.State, error)
	Save(ctx context.Context, gameID string, s race.State) error
	Delete(ctx context.Context, gameID string) error

	Get(ctx context.Context, key string) ([]int, error)
	Set(ctx context.Context, key string, positions []int) error
}
