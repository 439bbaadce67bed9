// Package ledger folds normalized activity into per-outcome positions and
// per-condition cash tallies for one wallet. The fold is strictly
// sequential: cost basis is path-dependent, so events must arrive in
// chronological order. Disposals never overdraw inventory; the overdrawn
// part is clamped and surfaced through counters instead of a negative
// quantity.
package ledger

import (
	"PredLedger/internal/event"
	"PredLedger/internal/money"

	"github.com/shopspring/decimal"
)

// ResolutionLookup returns the settlement record for a condition.
type ResolutionLookup interface {
	Lookup(conditionID string) (*event.Resolution, bool)
}

// MarkLookup returns the last traded price for an outcome token.
type MarkLookup interface {
	Lookup(conditionID string, outcomeIndex int) (decimal.Decimal, bool)
}

// MarketTally accumulates the per-condition cash identity terms. All
// notionals are full event notionals: a clamped sell still moves its whole
// cash amount through NetCashFlow, with the untracked part's value landing
// in ClampedSellValue so the identity stays balanced.
type MarketTally struct {
	NetCashFlow      decimal.Decimal
	RealizedPnl      decimal.Decimal
	ClampedSellValue decimal.Decimal
	TransferOutBasis decimal.Decimal
	SettlementCredit decimal.Decimal
	Events           int64
}

// Counters tallies fold-level diagnostics for one wallet
type Counters struct {
	Events                int64
	Trades                int64
	Splits                int64
	Merges                int64
	Redemptions           int64
	Transfers             int64
	IgnoredTransfers      int64
	UnresolvedRedemptions int64
	ClampedPositions      int64
	UntrackedQty          decimal.Decimal
	Volume                decimal.Decimal
}

// WalletBook is the single-wallet fold state. Not thread-safe; one book per
// wallet computation.
type WalletBook struct {
	wallet           string
	method           Method
	includeTransfers bool
	resolutions      ResolutionLookup
	marks            MarkLookup

	positions      map[PositionKey]*Position
	tallies        map[string]*MarketTally
	outcomesTraded map[string]map[int]struct{}
	counters       Counters
}

func NewWalletBook(wallet string, method Method, includeTransfers bool, resolutions ResolutionLookup, marks MarkLookup) *WalletBook {
	if resolutions == nil {
		resolutions = event.ResolutionSet(nil)
	}
	if marks == nil {
		marks = event.MarkSet(nil)
	}
	return &WalletBook{
		wallet:           wallet,
		method:           method,
		includeTransfers: includeTransfers,
		resolutions:      resolutions,
		marks:            marks,
		positions:        make(map[PositionKey]*Position),
		tallies:          make(map[string]*MarketTally),
		outcomesTraded:   make(map[string]map[int]struct{}),
	}
}

// Apply folds one activity into the book. Bad data never errors here: rows
// that cannot be applied are counted and skipped.
func (b *WalletBook) Apply(act event.Activity) {
	b.counters.Events++
	b.Tally(act.ConditionID).Events++

	switch act.Kind {
	case event.KindBuy:
		b.applyBuy(act)
	case event.KindSell:
		b.applySell(act)
	case event.KindSplit:
		b.applySplit(act)
	case event.KindMerge:
		b.applyMerge(act)
	case event.KindRedemption:
		b.applyRedemption(act)
	case event.KindTransferIn:
		b.applyTransferIn(act)
	case event.KindTransferOut:
		b.applyTransferOut(act)
	}
}

func (b *WalletBook) applyBuy(act event.Activity) {
	b.counters.Trades++
	b.counters.Volume = b.counters.Volume.Add(act.Qty)
	b.markTraded(act.ConditionID, act.OutcomeIndex)

	pos := b.position(act.ConditionID, act.OutcomeIndex)
	acquire(pos, act.Qty, act.UsdcNotional, act.OccurredAt, b.method)

	t := b.Tally(act.ConditionID)
	t.NetCashFlow = t.NetCashFlow.Sub(act.UsdcNotional)
}

func (b *WalletBook) applySell(act event.Activity) {
	b.counters.Trades++
	b.counters.Volume = b.counters.Volume.Add(act.Qty)
	b.markTraded(act.ConditionID, act.OutcomeIndex)

	t := b.Tally(act.ConditionID)
	t.NetCashFlow = t.NetCashFlow.Add(act.UsdcNotional)

	price := money.UnitPrice(act.UsdcNotional, act.Qty)
	b.sellOff(act.ConditionID, act.OutcomeIndex, act.Qty, price)
}

// applySplit mints qty tokens of every outcome against locked collateral.
// Each leg's basis is an equal share of the notional, with the last leg
// absorbing the division remainder so the legs sum exactly.
func (b *WalletBook) applySplit(act event.Activity) {
	b.counters.Splits++

	t := b.Tally(act.ConditionID)
	t.NetCashFlow = t.NetCashFlow.Sub(act.UsdcNotional)

	n := b.outcomeCount(act.ConditionID)
	share := act.UsdcNotional.Div(decimal.NewFromInt(int64(n)))
	for i := 0; i < n; i++ {
		legCost := share
		if i == n-1 {
			legCost = act.UsdcNotional.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
		}
		acquire(b.position(act.ConditionID, i), act.Qty, legCost, act.OccurredAt, b.method)
	}
}

// applyMerge burns qty tokens of every outcome for released collateral:
// the mirror of a split, so a split-then-merge at the same quantity is
// economically neutral. Non-zero realized PnL out of a merge is cost-basis
// drift and is reported, not suppressed.
func (b *WalletBook) applyMerge(act event.Activity) {
	b.counters.Merges++

	t := b.Tally(act.ConditionID)
	t.NetCashFlow = t.NetCashFlow.Add(act.UsdcNotional)

	n := b.outcomeCount(act.ConditionID)
	share := act.UsdcNotional.Div(decimal.NewFromInt(int64(n)))
	for i := 0; i < n; i++ {
		legProceeds := share
		if i == n-1 {
			legProceeds = act.UsdcNotional.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
		}
		b.sellOff(act.ConditionID, i, act.Qty, money.UnitPrice(legProceeds, act.Qty))
	}
}

// applyRedemption disposes at the outcome's payout price when the condition
// is resolved, at the current mark when one exists, and is otherwise
// skipped and counted. The cash side uses the event's actual notional: a
// redemption whose cash disagrees with payout x qty should fail
// reconciliation, not be papered over.
func (b *WalletBook) applyRedemption(act event.Activity) {
	b.counters.Redemptions++

	var price decimal.Decimal
	if res, ok := b.resolutions.Lookup(act.ConditionID); ok {
		price = res.Payout(act.OutcomeIndex)
	} else if mark, ok := b.marks.Lookup(act.ConditionID, act.OutcomeIndex); ok {
		price = mark
	} else {
		b.counters.UnresolvedRedemptions++
		return
	}

	t := b.Tally(act.ConditionID)
	t.NetCashFlow = t.NetCashFlow.Add(act.UsdcNotional)

	effective := b.sellOff(act.ConditionID, act.OutcomeIndex, act.Qty, price)

	pos := b.position(act.ConditionID, act.OutcomeIndex)
	pos.RedeemedQty = pos.RedeemedQty.Add(effective)
}

func (b *WalletBook) applyTransferIn(act event.Activity) {
	if !b.includeTransfers {
		b.counters.IgnoredTransfers++
		return
	}
	b.counters.Transfers++
	// Inventory in at zero basis: the tokens cost this wallet nothing.
	acquire(b.position(act.ConditionID, act.OutcomeIndex), act.Qty, decimal.Zero, act.OccurredAt, b.method)
}

func (b *WalletBook) applyTransferOut(act event.Activity) {
	if !b.includeTransfers {
		b.counters.IgnoredTransfers++
		return
	}
	b.counters.Transfers++

	pos := b.position(act.ConditionID, act.OutcomeIndex)
	effective := money.Min(act.Qty, pos.Quantity)
	if shortfall := act.Qty.Sub(effective); shortfall.IsPositive() {
		b.counters.UntrackedQty = b.counters.UntrackedQty.Add(shortfall)
		b.markClamped(pos)
	}

	// Basis leaves the book without realization and without cash.
	consumed := release(pos, effective, b.method)
	t := b.Tally(act.ConditionID)
	t.TransferOutBasis = t.TransferOutBasis.Add(consumed)
}

// sellOff disposes qty at price with the inventory guard: only the tracked
// part realizes PnL, the shortfall's value accumulates in ClampedSellValue.
// Returns the effective (tracked) quantity disposed.
func (b *WalletBook) sellOff(conditionID string, outcomeIndex int, qty, price decimal.Decimal) decimal.Decimal {
	pos := b.position(conditionID, outcomeIndex)
	t := b.Tally(conditionID)

	effective := money.Min(qty, pos.Quantity)
	if shortfall := qty.Sub(effective); shortfall.IsPositive() {
		b.counters.UntrackedQty = b.counters.UntrackedQty.Add(shortfall)
		t.ClampedSellValue = t.ClampedSellValue.Add(shortfall.Mul(price))
		b.markClamped(pos)
	}

	consumed := release(pos, effective, b.method)
	t.RealizedPnl = t.RealizedPnl.Add(effective.Mul(price)).Sub(consumed)
	return effective
}

// SettleAtPrice realizes a position's entire remaining inventory at the
// given price with no cash movement; the non-cash value is carried as
// SettlementCredit so the cash identity stays balanced.
func (b *WalletBook) SettleAtPrice(key PositionKey, price decimal.Decimal) {
	pos, ok := b.positions[key]
	if !ok || pos.Quantity.IsZero() {
		return
	}
	t := b.Tally(key.ConditionID)

	qty := pos.Quantity
	consumed := release(pos, qty, b.method)
	value := price.Mul(qty)
	t.RealizedPnl = t.RealizedPnl.Add(value).Sub(consumed)
	t.SettlementCredit = t.SettlementCredit.Add(value)
}

func (b *WalletBook) position(conditionID string, outcomeIndex int) *Position {
	key := PositionKey{ConditionID: conditionID, OutcomeIndex: outcomeIndex}
	pos, ok := b.positions[key]
	if !ok {
		pos = &Position{Key: key, State: StateOpen}
		b.positions[key] = pos
	}
	return pos
}

func (b *WalletBook) markClamped(pos *Position) {
	if !pos.clamped {
		pos.clamped = true
		b.counters.ClampedPositions++
	}
}

func (b *WalletBook) markTraded(conditionID string, outcomeIndex int) {
	set, ok := b.outcomesTraded[conditionID]
	if !ok {
		set = make(map[int]struct{})
		b.outcomesTraded[conditionID] = set
	}
	set[outcomeIndex] = struct{}{}
}

// outcomeCount returns the number of outcomes in a condition, from the
// resolution payout vector when known. Unresolved conditions are treated
// as binary, the dominant market shape.
func (b *WalletBook) outcomeCount(conditionID string) int {
	if res, ok := b.resolutions.Lookup(conditionID); ok && len(res.Payouts) >= 2 {
		return len(res.Payouts)
	}
	return 2
}

func (b *WalletBook) Wallet() string {
	return b.wallet
}

// Tally returns the per-condition tally, creating it on first touch.
func (b *WalletBook) Tally(conditionID string) *MarketTally {
	t, ok := b.tallies[conditionID]
	if !ok {
		t = &MarketTally{}
		b.tallies[conditionID] = t
	}
	return t
}

func (b *WalletBook) Tallies() map[string]*MarketTally {
	return b.tallies
}

func (b *WalletBook) Positions() map[PositionKey]*Position {
	return b.positions
}

// Position returns the holding for a key, nil when never touched.
func (b *WalletBook) Position(conditionID string, outcomeIndex int) *Position {
	return b.positions[PositionKey{ConditionID: conditionID, OutcomeIndex: outcomeIndex}]
}

// ResolutionFor exposes the book's resolution source to the settlement pass.
func (b *WalletBook) ResolutionFor(conditionID string) (*event.Resolution, bool) {
	return b.resolutions.Lookup(conditionID)
}

// MarkFor exposes the book's mark source for open-position valuation.
func (b *WalletBook) MarkFor(conditionID string, outcomeIndex int) (decimal.Decimal, bool) {
	return b.marks.Lookup(conditionID, outcomeIndex)
}

func (b *WalletBook) Counters() Counters {
	return b.counters
}

// BothSides reports how many conditions the wallet traded at all and on
// how many of those it traded more than one outcome. Split/Merge legs do
// not count as trading a side.
func (b *WalletBook) BothSides() (both, traded int) {
	for _, set := range b.outcomesTraded {
		traded++
		if len(set) > 1 {
			both++
		}
	}
	return both, traded
}
