package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"
)

const Sides = 6

// Roller rolls a six-sided die
type Roller struct {
	mu     sync.Mutex
	random *rand.Rand
}

// Config for dice roller
type Config struct {
	// Optional seed, mostly for reproducible games
	Seed int64
}

// New creates a new dice roller
func New(cfg *Config) *Roller {
	var seed int64
	if cfg != nil && cfg.Seed != 0 {
		seed = cfg.Seed
	} else {
		seed = newSeed()
	}

	return &Roller{
		random: rand.New(rand.NewSource(seed)),
	}
}

func newSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}

	return int64(binary.LittleEndian.Uint64(b[:]))
}

// Roll returns a value in [1, 6]. Safe for concurrent use.
func (r *Roller) Roll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.random.Intn(Sides) + 1
}

// Sequence replays a fixed list of rolls, wrapping around at the end.
// An empty Sequence always rolls 1.
type Sequence struct {
	mu    sync.Mutex
	rolls []int
	next  int
}

func NewSequence(rolls ...int) *Sequence {
	return &Sequence{rolls: rolls}
}

func (s *Sequence) Roll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rolls) == 0 {
		return 1
	}

	v := s.rolls[s.next%len(s.rolls)]
	s.next++

	return v
}

// Drawn reports how many values have been handed out.
func (s *Sequence) Drawn() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.next
}
