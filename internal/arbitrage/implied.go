package arbitrage

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// ImpliedProbability converts an American price into the probability it
// implies: 100/(p+100) for positive prices and |p|/(|p|+100) for negative
// ones. Prices under 100 in magnitude are not valid American odds.
func ImpliedProbability(price float64) (decimal.Decimal, bool) {
	p := decimal.NewFromFloat(price)
	if p.Abs().LessThan(hundred) {
		return decimal.Zero, false
	}
	if p.IsPositive() {
		return hundred.Div(p.Add(hundred)), true
	}
	a := p.Abs()
	return a.Div(a.Add(hundred)), true
}

// quote is one bookmaker's price for one selection.
type quote struct {
	bookmakerID   int64
	observationID int64
	price         float64
	line          *float64
}

// book collects quotes per selection.
type book map[string][]quote

func (b book) add(sel string, obs domain.Observation, price, line *float64) {
	if price == nil {
		return
	}
	b[sel] = append(b[sel], quote{
		bookmakerID:   obs.BookmakerID,
		observationID: obs.ID,
		price:         *price,
		line:          line,
	})
}

// best returns the highest price quoted for sel. A higher American price
// always pays more. Ties go to the lowest bookmaker id.
func (b book) best(sel string) (quote, bool) {
	qs := b[sel]
	if len(qs) == 0 {
		return quote{}, false
	}
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].price != qs[j].price {
			return qs[i].price > qs[j].price
		}
		return qs[i].bookmakerID < qs[j].bookmakerID
	})
	return qs[0], true
}

// evaluate builds an opportunity from the best quote of every selection. It
// reports false when a selection has no valid quote or the implied
// probabilities reach one.
func evaluate(board Board, strategy string, line *float64, b book, selections ...string) (domain.ArbOpportunity, bool) {
	opp := domain.ArbOpportunity{
		GameID:     board.GameID,
		Market:     board.Market,
		Strategy:   strategy,
		Line:       line,
		DetectedAt: board.At,
	}
	total := decimal.Zero
	for _, sel := range selections {
		q, ok := b.best(sel)
		if !ok {
			return opp, false
		}
		implied, ok := ImpliedProbability(q.price)
		if !ok {
			return opp, false
		}
		total = total.Add(implied)
		opp.Legs = append(opp.Legs, domain.ArbLeg{
			Selection:     sel,
			BookmakerID:   q.bookmakerID,
			ObservationID: q.observationID,
			Price:         q.price,
			Line:          q.line,
			Implied:       implied.Round(6).InexactFloat64(),
		})
	}
	if !total.LessThan(one) {
		return opp, false
	}
	opp.TotalImplied = total.Round(6).InexactFloat64()
	opp.MarginPct = one.Sub(total).Mul(hundred).Round(4).InexactFloat64()
	return opp, true
}

// sortByMargin orders opportunities by margin, largest first.
func sortByMargin(opps []domain.ArbOpportunity) {
	sort.SliceStable(opps, func(i, j int) bool { return opps[i].MarginPct > opps[j].MarginPct })
}
