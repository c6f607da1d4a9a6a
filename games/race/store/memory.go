package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/dicerace/games/race"
)

type entry[T any] struct {
	value   T
	expires time.Time
}

// Memory is a process-local Store. Entries expire ttl after their last
// write; a zero ttl keeps them until deleted.
type Memory struct {
	mu    sync.RWMutex
	ttl   time.Duration
	now   func() time.Time
	games map[string]entry[race.State]
	shown map[string]entry[[]int]
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:   ttl,
		now:   time.Now,
		games: make(map[string]entry[race.State]),
		shown: make(map[string]entry[[]int]),
	}
}

func (m *Memory) expiry() time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(m.ttl)
}

func (m *Memory) live(expires time.Time) bool {
	return expires.IsZero() || m.now().Before(expires)
}

func (m *Memory) Load(_ context.Context, gameID string) (race.State, error) {
	m.mu.RLock()
	e, ok := m.games[gameID]
	m.mu.RUnlock()

	if !ok || !m.live(e.expires) {
		return race.State{}, ErrNotFound
	}

	return e.value.Clone(), nil
}

func (m *Memory) Save(_ context.Context, gameID string, s race.State) error {
	if gameID == "" {
		return fmt.Errorf("save game: empty game id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.games[gameID] = entry[race.State]{value: s.Clone(), expires: m.expiry()}

	return nil
}

// Delete removes the game and every board position recorded under it.
func (m *Memory) Delete(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.games, gameID)

	prefix := gameID + ":"
	for key := range m.shown {
		if strings.HasPrefix(key, prefix) {
			delete(m.shown, key)
		}
	}

	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]int, error) {
	m.mu.RLock()
	e, ok := m.shown[key]
	m.mu.RUnlock()

	if !ok || !m.live(e.expires) {
		return nil, nil
	}

	return append([]int(nil), e.value...), nil
}

func (m *Memory) Set(_ context.Context, key string, positions []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shown[key] = entry[[]int]{value: append([]int(nil), positions...), expires: m.expiry()}

	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.games {
		if !m.live(e.expires) {
			delete(m.games, id)
			removed++
		}
	}
	for key, e := range m.shown {
		if !m.live(e.expires) {
			delete(m.shown, key)
			removed++
		}
	}

	return removed
}
