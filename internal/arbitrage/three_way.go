package arbitrage

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// ThreeWay detects moneyline arbitrage where a draw is a possible result.
// It needs a home, an away and a draw price, each from any bookmaker.
type ThreeWay struct {
	logger *slog.Logger
}

// NewThreeWay creates the three-way strategy.
func NewThreeWay(logger *slog.Logger) *ThreeWay {
	return &ThreeWay{logger: logger.With(slog.String("arb_strategy", "three_way"))}
}

// Name returns the strategy identifier.
func (s *ThreeWay) Name() string { return "three_way" }

// Markets returns the markets the strategy reads.
func (s *ThreeWay) Markets() []domain.Market {
	return []domain.Market{domain.MarketMoneyline}
}

// Detect returns at most one opportunity: the best home, away and draw
// prices on the board.
func (s *ThreeWay) Detect(_ context.Context, board Board) ([]domain.ArbOpportunity, error) {
	if board.Market != domain.MarketMoneyline {
		return nil, nil
	}
	b := book{}
	for _, obs := range board.Quotes {
		b.add(domain.SelectionHome, obs, obs.Prices.HomePrice, nil)
		b.add(domain.SelectionAway, obs, obs.Prices.AwayPrice, nil)
		b.add(domain.SelectionDraw, obs, obs.Prices.DrawPrice, nil)
	}
	opp, ok := evaluate(board, s.Name(), nil, b, domain.SelectionHome, domain.SelectionAway, domain.SelectionDraw)
	if !ok {
		return nil, nil
	}
	s.logger.Debug("three-way arbitrage",
		slog.String("game_id", opp.GameID),
		slog.Float64("margin_pct", opp.MarginPct),
	)
	return []domain.ArbOpportunity{opp}, nil
}
