package arbitrage

import (
	"context"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// TwoWay detects two-outcome arbitrage: home/away moneylines without a draw,
// home/away spreads on the same line and over/under on the same total.
type TwoWay struct {
	logger *slog.Logger
}

// NewTwoWay creates the two-way strategy.
func NewTwoWay(logger *slog.Logger) *TwoWay {
	return &TwoWay{logger: logger.With(slog.String("arb_strategy", "two_way"))}
}

// Name returns the strategy identifier.
func (s *TwoWay) Name() string { return "two_way" }

// Markets returns the markets the strategy reads.
func (s *TwoWay) Markets() []domain.Market {
	return []domain.Market{domain.MarketMoneyline, domain.MarketSpread, domain.MarketTotal}
}

// Detect returns the opportunities on the board, largest margin first.
func (s *TwoWay) Detect(_ context.Context, board Board) ([]domain.ArbOpportunity, error) {
	var opps []domain.ArbOpportunity
	switch board.Market {
	case domain.MarketMoneyline:
		b := book{}
		for _, obs := range board.Quotes {
			// A quoted draw makes this a three-way market.
			if obs.Prices.DrawPrice != nil {
				return nil, nil
			}
			b.add(domain.SelectionHome, obs, obs.Prices.HomePrice, nil)
			b.add(domain.SelectionAway, obs, obs.Prices.AwayPrice, nil)
		}
		if opp, ok := evaluate(board, s.Name(), nil, b, domain.SelectionHome, domain.SelectionAway); ok {
			opps = append(opps, opp)
		}

	case domain.MarketSpread:
		// Both sides are keyed by the home line they cover: an away +3.5
		// pairs with a home -3.5.
		books := map[float64]book{}
		at := func(line float64) book {
			if books[line] == nil {
				books[line] = book{}
			}
			return books[line]
		}
		for _, obs := range board.Quotes {
			p := obs.Prices
			if p.HomeSpread != nil {
				at(*p.HomeSpread).add(domain.SelectionHome, obs, p.HomePrice, p.HomeSpread)
			}
			switch {
			case p.AwaySpread != nil:
				at(-*p.AwaySpread).add(domain.SelectionAway, obs, p.AwayPrice, p.AwaySpread)
			case p.HomeSpread != nil:
				away := -*p.HomeSpread
				at(*p.HomeSpread).add(domain.SelectionAway, obs, p.AwayPrice, &away)
			}
		}
		for _, line := range sortedLines(books) {
			l := line
			if opp, ok := evaluate(board, s.Name(), &l, books[line], domain.SelectionHome, domain.SelectionAway); ok {
				opps = append(opps, opp)
			}
		}

	case domain.MarketTotal:
		books := map[float64]book{}
		for _, obs := range board.Quotes {
			p := obs.Prices
			if p.TotalLine == nil {
				continue
			}
			b := books[*p.TotalLine]
			if b == nil {
				b = book{}
				books[*p.TotalLine] = b
			}
			b.add(domain.SelectionOver, obs, p.OverPrice, p.TotalLine)
			b.add(domain.SelectionUnder, obs, p.UnderPrice, p.TotalLine)
		}
		for _, line := range sortedLines(books) {
			l := line
			if opp, ok := evaluate(board, s.Name(), &l, books[line], domain.SelectionOver, domain.SelectionUnder); ok {
				opps = append(opps, opp)
			}
		}
	}

	for _, opp := range opps {
		s.logger.Debug("two-way arbitrage",
			slog.String("game_id", opp.GameID),
			slog.String("market", string(opp.Market)),
			slog.Float64("margin_pct", opp.MarginPct),
		)
	}
	sortByMargin(opps)
	return opps, nil
}

func sortedLines(books map[float64]book) []float64 {
	lines := make([]float64, 0, len(books))
	for l := range books {
		lines = append(lines, l)
	}
	sort.Float64s(lines)
	return lines
}
