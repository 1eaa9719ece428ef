// Package arbitrage scans the current odds of a game across bookmakers for
// combinations of best prices that pay out on every result.
package arbitrage

import (
	"context"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// Board is the latest observation of every bookmaker for one game and
// market.
type Board struct {
	GameID string
	Market domain.Market
	Quotes []domain.Observation
	At     time.Time
}

// Strategy finds arbitrage opportunities on a board.
type Strategy interface {
	Name() string
	// Markets lists the markets the strategy reads.
	Markets() []domain.Market
	// Detect returns every opportunity on the board, before any margin
	// threshold is applied.
	Detect(ctx context.Context, board Board) ([]domain.ArbOpportunity, error)
}
