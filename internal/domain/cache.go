package domain

import (
	"context"
	"time"
)

// OddsCache keeps the current observation per (game, market, bookmaker) for
// cheap reads. The store remains the source of truth: a (game, market) set
// is complete only after FillCurrent wrote it from the store, and rows added
// by SetCurrent alone never make it complete.
type OddsCache interface {
	SetCurrent(ctx context.Context, obs Observation) error
	FillCurrent(ctx context.Context, gameID string, market Market, obs []Observation) error
	GetCurrent(ctx context.Context, gameID string, market Market) (obs []Observation, complete bool, err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between processes.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Signal bus channels.
const (
	ChannelOddsLatest    = "odds.latest"
	ChannelGameCompleted = "game.completed"
	ChannelGameConflict  = "game.conflict"
	ChannelArbitrage     = "odds.arbitrage"
)
