package opsmode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Mode is the system-wide operating mode. EMERGENCY bypasses all normal
// inbound routing: admin callers reach the admin machine, everyone else
// hears the closure message.
type Mode string

const (
	ModeNormal    Mode = "NORMAL"
	ModeEmergency Mode = "EMERGENCY"
)

func Parse(s string) (Mode, error) {
	switch Mode(strings.ToUpper(strings.TrimSpace(s))) {
	case ModeNormal:
		return ModeNormal, nil
	case ModeEmergency:
		return ModeEmergency, nil
	default:
		return "", fmt.Errorf("opsmode: unknown mode %q", s)
	}
}

// Store resolves the current operating mode.
type Store interface {
	Current(ctx context.Context) (Mode, error)
	Set(ctx context.Context, m Mode) error
}

const redisKey = "callflow:operating_mode"

// RedisStore keeps the override in redis so every instance sees a mode flip
// immediately; absent key falls back to the configured default.
type RedisStore struct {
	rdb      *redis.Client
	fallback Mode
}

func NewRedisStore(rdb *redis.Client, fallback Mode) *RedisStore {
	if fallback == "" {
		fallback = ModeNormal
	}
	return &RedisStore{rdb: rdb, fallback: fallback}
}

func (s *RedisStore) Current(ctx context.Context) (Mode, error) {
	v, err := s.rdb.Get(ctx, redisKey).Result()
	if errors.Is(err, redis.Nil) {
		return s.fallback, nil
	}
	if err != nil {
		// Degrade to the configured default rather than failing a call turn.
		return s.fallback, nil
	}
	m, perr := Parse(v)
	if perr != nil {
		return s.fallback, nil
	}
	return m, nil
}

func (s *RedisStore) Set(ctx context.Context, m Mode) error {
	if _, err := Parse(string(m)); err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisKey, string(m), 0).Err()
}

// Static is a fixed-mode Store for tests and single-node setups.
type Static struct{ Mode Mode }

func (s Static) Current(ctx context.Context) (Mode, error) {
	if s.Mode == "" {
		return ModeNormal, nil
	}
	return s.Mode, nil
}

func (s Static) Set(ctx context.Context, m Mode) error {
	return errors.New("opsmode: static store is read-only")
}
