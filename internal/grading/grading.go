// Package grading settles odds observations against final scores.
package grading

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// Grade returns the bet outcomes of one closing observation for a game that
// ended homeScore to awayScore. Selections whose line or price was not
// reported are skipped.
func Grade(obs domain.Observation, homeScore, awayScore int, gradedAt time.Time) []domain.BetOutcome {
	var out []domain.BetOutcome
	add := func(sel string, line, price *float64, res domain.OutcomeResult) {
		out = append(out, domain.BetOutcome{
			GameID:        obs.GameID,
			BookmakerID:   obs.BookmakerID,
			Market:        obs.Market,
			Selection:     sel,
			Line:          line,
			Price:         price,
			Result:        res,
			ObservationID: obs.ID,
			GradedAt:      gradedAt,
		})
	}

	p := obs.Prices
	margin := decimal.NewFromInt(int64(homeScore - awayScore))

	switch obs.Market {
	case domain.MarketMoneyline:
		switch {
		case homeScore == awayScore && p.DrawPrice != nil:
			if p.HomePrice != nil {
				add(domain.SelectionHome, nil, p.HomePrice, domain.ResultLoss)
			}
			if p.AwayPrice != nil {
				add(domain.SelectionAway, nil, p.AwayPrice, domain.ResultLoss)
			}
			add(domain.SelectionDraw, nil, p.DrawPrice, domain.ResultWin)
		default:
			if p.HomePrice != nil {
				add(domain.SelectionHome, nil, p.HomePrice, result(margin))
			}
			if p.AwayPrice != nil {
				add(domain.SelectionAway, nil, p.AwayPrice, result(margin.Neg()))
			}
			if p.DrawPrice != nil {
				add(domain.SelectionDraw, nil, p.DrawPrice, domain.ResultLoss)
			}
		}

	case domain.MarketSpread:
		if p.HomeSpread != nil && p.HomePrice != nil {
			add(domain.SelectionHome, p.HomeSpread, p.HomePrice,
				result(margin.Add(decimal.NewFromFloat(*p.HomeSpread))))
		}
		if p.AwaySpread != nil && p.AwayPrice != nil {
			add(domain.SelectionAway, p.AwaySpread, p.AwayPrice,
				result(margin.Neg().Add(decimal.NewFromFloat(*p.AwaySpread))))
		}

	case domain.MarketTotal:
		if p.TotalLine == nil {
			return nil
		}
		diff := decimal.NewFromInt(int64(homeScore + awayScore)).Sub(decimal.NewFromFloat(*p.TotalLine))
		if p.OverPrice != nil {
			add(domain.SelectionOver, p.TotalLine, p.OverPrice, result(diff))
		}
		if p.UnderPrice != nil {
			add(domain.SelectionUnder, p.TotalLine, p.UnderPrice, result(diff.Neg()))
		}
	}
	return out
}

// result maps a signed cover margin to win, push or loss.
func result(d decimal.Decimal) domain.OutcomeResult {
	switch d.Sign() {
	case 1:
		return domain.ResultWin
	case 0:
		return domain.ResultPush
	default:
		return domain.ResultLoss
	}
}
