package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PredLedger/internal/event"

	"github.com/shopspring/decimal"
)

// ParseInbound converts a RawMessage (JSON bytes + message type string) into
// a typed inbound event. The shell validates and converts here, before
// anything reaches the raw store or the reference tables.
func ParseInbound(raw RawMessage, msgType string) (event.Inbound, error) {
	switch msgType {
	case "OrderFilled":
		return parseTrade(raw.Data)
	case "PositionSplit":
		return parseSplit(raw.Data)
	case "PositionsMerged":
		return parseMerge(raw.Data)
	case "PayoutRedemption":
		return parseRedemption(raw.Data)
	case "TokenTransfer":
		return parseTransfer(raw.Data)
	case "MarketResolved":
		return parseResolution(raw.Data)
	case "MarkPriceUpdate":
		return parseMarkPrice(raw.Data)
	case "TokenMapUpsert":
		return parseTokenMap(raw.Data)
	default:
		return nil, fmt.Errorf("unknown message type: %s", msgType)
	}
}

// --- JSON wire formats ---
// Field names follow the upstream data-api/subgraph payloads (camelCase).
// Token amounts arrive as JSON numbers with sub-cent precision; json.Number
// carries them verbatim into decimal parsing.

type tradeJSON struct {
	ID              string      `json:"id"`
	ProxyWallet     string      `json:"proxyWallet"`
	Asset           string      `json:"asset"`
	Side            string      `json:"side"` // "BUY" or "SELL"
	Size            json.Number `json:"size"`
	UsdcSize        json.Number `json:"usdcSize"`
	Timestamp       int64       `json:"timestamp"` // unix seconds
	TransactionHash string      `json:"transactionHash"`
}

func parseTrade(data []byte) (*event.OrderFilled, error) {
	var j tradeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse trade: %w", err)
	}

	if j.ProxyWallet == "" {
		return nil, fmt.Errorf("trade missing proxyWallet")
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("trade missing asset")
	}

	side, err := parseSide(j.Side)
	if err != nil {
		return nil, err
	}
	qty, err := parsePositiveAmount("size", j.Size)
	if err != nil {
		return nil, err
	}
	usdc, err := parseNonNegativeAmount("usdcSize", j.UsdcSize)
	if err != nil {
		return nil, err
	}
	// Outcome tokens trade inside [0,1]: collateral can never exceed size.
	if usdc.GreaterThan(qty) {
		return nil, fmt.Errorf("trade price above 1: size=%s usdcSize=%s", qty, usdc)
	}
	occurred, err := parseUnixTimestamp(j.Timestamp)
	if err != nil {
		return nil, err
	}

	sourceID := j.ID
	if sourceID == "" {
		sourceID = fmt.Sprintf("%s:%s:%s", j.TransactionHash, j.Asset, strings.ToLower(j.Side))
	}

	return &event.OrderFilled{
		SourceID:   sourceID,
		Wallet:     normalizeWallet(j.ProxyWallet),
		TokenID:    j.Asset,
		TradeSide:  side,
		Qty:        qty,
		UsdcSize:   usdc,
		TxHash:     j.TransactionHash,
		OccurredAt: occurred,
	}, nil
}

// splitMergeJSON covers both directions: the wire shape is identical, only
// the subject differs.
type splitMergeJSON struct {
	ID              string      `json:"id"`
	ProxyWallet     string      `json:"proxyWallet"`
	ConditionID     string      `json:"conditionId"`
	Size            json.Number `json:"size"`
	UsdcSize        json.Number `json:"usdcSize"`
	Timestamp       int64       `json:"timestamp"`
	TransactionHash string      `json:"transactionHash"`
}

func (j splitMergeJSON) validate(kind string) (qty, usdc decimal.Decimal, occurred time.Time, err error) {
	if j.ProxyWallet == "" {
		return qty, usdc, occurred, fmt.Errorf("%s missing proxyWallet", kind)
	}
	if j.ConditionID == "" {
		return qty, usdc, occurred, fmt.Errorf("%s missing conditionId", kind)
	}
	if qty, err = parsePositiveAmount("size", j.Size); err != nil {
		return qty, usdc, occurred, err
	}
	if usdc, err = parseNonNegativeAmount("usdcSize", j.UsdcSize); err != nil {
		return qty, usdc, occurred, err
	}
	occurred, err = parseUnixTimestamp(j.Timestamp)
	return qty, usdc, occurred, err
}

func parseSplit(data []byte) (*event.PositionSplit, error) {
	var j splitMergeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse split: %w", err)
	}
	qty, usdc, occurred, err := j.validate("split")
	if err != nil {
		return nil, err
	}

	sourceID := j.ID
	if sourceID == "" {
		sourceID = j.TransactionHash + ":split"
	}

	return &event.PositionSplit{
		SourceID:    sourceID,
		Wallet:      normalizeWallet(j.ProxyWallet),
		ConditionID: j.ConditionID,
		Qty:         qty,
		UsdcSize:    usdc,
		TxHash:      j.TransactionHash,
		OccurredAt:  occurred,
	}, nil
}

func parseMerge(data []byte) (*event.PositionsMerged, error) {
	var j splitMergeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse merge: %w", err)
	}
	qty, usdc, occurred, err := j.validate("merge")
	if err != nil {
		return nil, err
	}

	sourceID := j.ID
	if sourceID == "" {
		sourceID = j.TransactionHash + ":merge"
	}

	return &event.PositionsMerged{
		SourceID:    sourceID,
		Wallet:      normalizeWallet(j.ProxyWallet),
		ConditionID: j.ConditionID,
		Qty:         qty,
		UsdcSize:    usdc,
		TxHash:      j.TransactionHash,
		OccurredAt:  occurred,
	}, nil
}

type redemptionJSON struct {
	ID              string      `json:"id"`
	ProxyWallet     string      `json:"proxyWallet"`
	ConditionID     string      `json:"conditionId"`
	Asset           string      `json:"asset"` // empty when the source reports condition-level only
	Size            json.Number `json:"size"`
	UsdcSize        json.Number `json:"usdcSize"`
	Timestamp       int64       `json:"timestamp"`
	TransactionHash string      `json:"transactionHash"`
}

func parseRedemption(data []byte) (*event.PayoutRedemption, error) {
	var j redemptionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse redemption: %w", err)
	}

	if j.ProxyWallet == "" {
		return nil, fmt.Errorf("redemption missing proxyWallet")
	}
	if j.ConditionID == "" {
		return nil, fmt.Errorf("redemption missing conditionId")
	}
	qty, err := parsePositiveAmount("size", j.Size)
	if err != nil {
		return nil, err
	}
	// No upper bound on usdcSize here: the redemption's cash amount is
	// authoritative, and a payout disagreeing with the resolution must
	// reach reconciliation, not die at the parser.
	usdc, err := parseNonNegativeAmount("usdcSize", j.UsdcSize)
	if err != nil {
		return nil, err
	}
	occurred, err := parseUnixTimestamp(j.Timestamp)
	if err != nil {
		return nil, err
	}

	sourceID := j.ID
	if sourceID == "" {
		sourceID = j.TransactionHash + ":redeem:" + j.ConditionID
	}

	return &event.PayoutRedemption{
		SourceID:    sourceID,
		Wallet:      normalizeWallet(j.ProxyWallet),
		ConditionID: j.ConditionID,
		TokenID:     j.Asset,
		Qty:         qty,
		UsdcSize:    usdc,
		TxHash:      j.TransactionHash,
		OccurredAt:  occurred,
	}, nil
}

type transferJSON struct {
	ID              string      `json:"id"`
	ProxyWallet     string      `json:"proxyWallet"`
	Asset           string      `json:"asset"`
	From            string      `json:"from"`
	To              string      `json:"to"`
	Size            json.Number `json:"size"`
	Timestamp       int64       `json:"timestamp"`
	TransactionHash string      `json:"transactionHash"`
}

func parseTransfer(data []byte) (*event.TokenTransfer, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse transfer: %w", err)
	}

	if j.ProxyWallet == "" {
		return nil, fmt.Errorf("transfer missing proxyWallet")
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("transfer missing asset")
	}
	qty, err := parsePositiveAmount("size", j.Size)
	if err != nil {
		return nil, err
	}
	occurred, err := parseUnixTimestamp(j.Timestamp)
	if err != nil {
		return nil, err
	}

	// Direction comes from which side of the move the tracked wallet is on.
	// Addresses compare case-insensitively (checksummed vs lowercase hex).
	var direction event.TransferDirection
	var counterparty string
	switch {
	case strings.EqualFold(j.To, j.ProxyWallet):
		direction = event.DirectionIn
		counterparty = j.From
	case strings.EqualFold(j.From, j.ProxyWallet):
		direction = event.DirectionOut
		counterparty = j.To
	default:
		return nil, fmt.Errorf("transfer does not involve proxyWallet: from=%s to=%s", j.From, j.To)
	}

	sourceID := j.ID
	if sourceID == "" {
		dir := "in"
		if direction == event.DirectionOut {
			dir = "out"
		}
		sourceID = fmt.Sprintf("%s:%s:%s", j.TransactionHash, j.Asset, dir)
	}

	return &event.TokenTransfer{
		SourceID:     sourceID,
		Wallet:       normalizeWallet(j.ProxyWallet),
		Counterparty: normalizeWallet(counterparty),
		TokenID:      j.Asset,
		Direction:    direction,
		Qty:          qty,
		TxHash:       j.TransactionHash,
		OccurredAt:   occurred,
	}, nil
}

// resolutionJSON mirrors the oracle report: integer numerators over a shared
// denominator. Fractions are formed here, so a [1,1]/2 house split arrives
// downstream as [0.5,0.5] and only genuinely malformed vectors get flagged.
type resolutionJSON struct {
	ConditionID       string        `json:"conditionId"`
	PayoutNumerators  []json.Number `json:"payoutNumerators"`
	PayoutDenominator json.Number   `json:"payoutDenominator"`
	Timestamp         int64         `json:"timestamp"`
	TransactionHash   string        `json:"transactionHash"`
}

func parseResolution(data []byte) (*event.MarketResolved, error) {
	var j resolutionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse resolution: %w", err)
	}

	if j.ConditionID == "" {
		return nil, fmt.Errorf("resolution missing conditionId")
	}
	if len(j.PayoutNumerators) == 0 {
		return nil, fmt.Errorf("resolution missing payoutNumerators")
	}
	den, err := parseAmount("payoutDenominator", j.PayoutDenominator)
	if err != nil {
		return nil, err
	}
	// A zero denominator is the oracle's way of saying "not resolved yet".
	if !den.IsPositive() {
		return nil, fmt.Errorf("payoutDenominator must be positive, got %s", den)
	}

	payouts := make([]decimal.Decimal, len(j.PayoutNumerators))
	for i, n := range j.PayoutNumerators {
		num, err := parseNonNegativeAmount(fmt.Sprintf("payoutNumerators[%d]", i), n)
		if err != nil {
			return nil, err
		}
		payouts[i] = num.Div(den)
	}

	occurred, err := parseUnixTimestamp(j.Timestamp)
	if err != nil {
		return nil, err
	}

	return &event.MarketResolved{
		ConditionID: j.ConditionID,
		Payouts:     payouts,
		ResolvedAt:  occurred,
		TxHash:      j.TransactionHash,
	}, nil
}

type markPriceJSON struct {
	ConditionID  string      `json:"conditionId"`
	OutcomeIndex *int        `json:"outcomeIndex"`
	Price        json.Number `json:"price"`
	Timestamp    int64       `json:"timestamp"`
}

func parseMarkPrice(data []byte) (*event.MarkPriceUpdate, error) {
	var j markPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse mark price: %w", err)
	}

	if j.ConditionID == "" {
		return nil, fmt.Errorf("mark price missing conditionId")
	}
	if j.OutcomeIndex == nil || *j.OutcomeIndex < 0 {
		return nil, fmt.Errorf("mark price missing or negative outcomeIndex")
	}
	price, err := parseNonNegativeAmount("price", j.Price)
	if err != nil {
		return nil, err
	}
	if price.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("mark price above 1: %s", price)
	}
	observed, err := parseUnixTimestamp(j.Timestamp)
	if err != nil {
		return nil, err
	}

	return &event.MarkPriceUpdate{
		ConditionID:  j.ConditionID,
		OutcomeIndex: *j.OutcomeIndex,
		Price:        price,
		ObservedAt:   observed,
	}, nil
}

type tokenMapJSON struct {
	Asset        string `json:"asset"`
	ConditionID  string `json:"conditionId"`
	OutcomeIndex *int   `json:"outcomeIndex"`
}

func parseTokenMap(data []byte) (*event.TokenMapUpsert, error) {
	var j tokenMapJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse token map: %w", err)
	}

	if j.Asset == "" {
		return nil, fmt.Errorf("token map missing asset")
	}
	if j.ConditionID == "" {
		return nil, fmt.Errorf("token map missing conditionId")
	}
	if j.OutcomeIndex == nil || *j.OutcomeIndex < 0 {
		return nil, fmt.Errorf("token map missing or negative outcomeIndex")
	}

	return &event.TokenMapUpsert{
		TokenID:      j.Asset,
		ConditionID:  j.ConditionID,
		OutcomeIndex: *j.OutcomeIndex,
	}, nil
}

// --- field helpers ---

// normalizeWallet canonicalizes an address. Addresses are case-insensitive
// hex, and one form keeps a wallet's whole history under one key.
func normalizeWallet(addr string) string {
	return strings.ToLower(addr)
}

func parseSide(s string) (event.Side, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return event.SideBuy, nil
	case "SELL":
		return event.SideSell, nil
	default:
		return event.SideUnknown, fmt.Errorf("unknown side: %q", s)
	}
}

func parseAmount(field string, n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Decimal{}, fmt.Errorf("%s missing", field)
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

func parsePositiveAmount(field string, n json.Number) (decimal.Decimal, error) {
	d, err := parseAmount(field, n)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%s must be positive, got %s", field, d)
	}
	return d, nil
}

func parseNonNegativeAmount(field string, n json.Number) (decimal.Decimal, error) {
	d, err := parseAmount(field, n)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%s must not be negative, got %s", field, d)
	}
	return d, nil
}

func parseUnixTimestamp(ts int64) (time.Time, error) {
	if ts <= 0 {
		return time.Time{}, fmt.Errorf("timestamp missing or non-positive: %d", ts)
	}
	return time.Unix(ts, 0).UTC(), nil
}
