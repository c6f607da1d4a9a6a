package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Seednode/dicerace/games/race"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	// Key prefixes for Redis
	gameKeyPrefix  = "race:game:"
	shownKeyPrefix = "race:shown:"
)

// RedisConfig holds configuration for the Redis store
type RedisConfig struct {
	// Redis client
	RedisClient *redis.Client

	// Lifetime of every key, refreshed on write. Zero means no expiry.
	TTL time.Duration
}

// Redis implements Store on top of a Redis server
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed store and checks the connection
func NewRedis(ctx context.Context, cfg *RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.RedisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	if err := cfg.RedisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{
		client: cfg.RedisClient,
		ttl:    cfg.TTL,
	}, nil
}

// Load returns the stored snapshot. Snapshots that fail validation are
// reported as missing so the game starts over.
func (r *Redis) Load(ctx context.Context, gameID string) (race.State, error) {
	data, err := r.client.Get(ctx, gameKeyPrefix+gameID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return race.State{}, ErrNotFound
		}
		return race.State{}, fmt.Errorf("failed to get game: %w", err)
	}

	var s race.State
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn().Err(err).Str("game", gameID).Msg("discarding unreadable game snapshot")
		return race.State{}, ErrNotFound
	}

	if err := s.Validate(); err != nil {
		log.Warn().Err(err).Str("game", gameID).Msg("discarding invalid game snapshot")
		return race.State{}, ErrNotFound
	}

	if s.History == nil {
		s.History = []race.Move{}
	}

	return s, nil
}

func (r *Redis) Save(ctx context.Context, gameID string, s race.State) error {
	if gameID == "" {
		return errors.New("game ID cannot be empty")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal game: %w", err)
	}

	if err := r.client.Set(ctx, gameKeyPrefix+gameID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save game: %w", err)
	}

	return nil
}

// Delete removes the game and every board position recorded under it.
func (r *Redis) Delete(ctx context.Context, gameID string) error {
	keys := []string{gameKeyPrefix + gameID}

	iter := r.client.Scan(ctx, 0, shownKeyPrefix+gameID+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan board positions: %w", err)
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete game: %w", err)
	}

	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]int, error) {
	data, err := r.client.Get(ctx, shownKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get board positions: %w", err)
	}

	var positions []int
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal board positions: %w", err)
	}

	return positions, nil
}

func (r *Redis) Set(ctx context.Context, key string, positions []int) error {
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("failed to marshal board positions: %w", err)
	}

	if err := r.client.Set(ctx, shownKeyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save board positions: %w", err)
	}

	return nil
}
