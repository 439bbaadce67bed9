package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Method selects how disposals consume cost basis
type Method int32

const (
	MethodAverage Method = iota
	MethodFIFO
)

func (m Method) String() string {
	switch m {
	case MethodAverage:
		return "average"
	case MethodFIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

// ParseMethod maps a config string to its method.
func ParseMethod(s string) (Method, bool) {
	switch s {
	case "average":
		return MethodAverage, true
	case "fifo":
		return MethodFIFO, true
	default:
		return MethodAverage, false
	}
}

// acquire adds qty tokens bought for cost at the event time. Totals are
// always maintained; lots only under FIFO.
func acquire(p *Position, qty, cost decimal.Decimal, at time.Time, method Method) {
	p.Quantity = p.Quantity.Add(qty)
	p.CostBasis = p.CostBasis.Add(cost)
	if method == MethodFIFO {
		p.Lots = append(p.Lots, Lot{Qty: qty, Cost: cost, AcquiredAt: at})
	}
}

// release removes qty tokens (qty must already be clamped to p.Quantity)
// and returns the cost basis consumed. Full consumption always takes the
// exact remaining basis so a closed-out position carries no division dust.
func release(p *Position, qty decimal.Decimal, method Method) decimal.Decimal {
	if qty.IsZero() {
		return decimal.Zero
	}
	if qty.GreaterThanOrEqual(p.Quantity) {
		consumed := p.CostBasis
		p.Quantity = decimal.Zero
		p.CostBasis = decimal.Zero
		p.Lots = nil
		return consumed
	}

	switch method {
	case MethodFIFO:
		return releaseFIFO(p, qty)
	default:
		return releaseAverage(p, qty)
	}
}

func releaseAverage(p *Position, qty decimal.Decimal) decimal.Decimal {
	consumed := p.CostBasis.Mul(qty).Div(p.Quantity)
	p.Quantity = p.Quantity.Sub(qty)
	p.CostBasis = p.CostBasis.Sub(consumed)
	return consumed
}

func releaseFIFO(p *Position, qty decimal.Decimal) decimal.Decimal {
	consumed := decimal.Zero
	remaining := qty
	for len(p.Lots) > 0 && remaining.IsPositive() {
		lot := &p.Lots[0]
		if remaining.GreaterThanOrEqual(lot.Qty) {
			// Whole lot consumed: take its exact cost
			consumed = consumed.Add(lot.Cost)
			remaining = remaining.Sub(lot.Qty)
			p.Lots = p.Lots[1:]
			continue
		}
		share := lot.Cost.Mul(remaining).Div(lot.Qty)
		consumed = consumed.Add(share)
		lot.Qty = lot.Qty.Sub(remaining)
		lot.Cost = lot.Cost.Sub(share)
		remaining = decimal.Zero
	}
	p.Quantity = p.Quantity.Sub(qty)
	p.CostBasis = p.CostBasis.Sub(consumed)
	return consumed
}
