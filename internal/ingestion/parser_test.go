package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"PredLedger/internal/event"
	"PredLedger/internal/ingestion"

	"github.com/shopspring/decimal"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawMessage{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseTrade_Buy(t *testing.T) {
	payload := map[string]interface{}{
		"id":              "act-77",
		"proxyWallet":     "0xAbCd000000000000000000000000000000000001",
		"asset":           "tok-yes",
		"side":            "BUY",
		"size":            100.5,
		"usdcSize":        40.2,
		"timestamp":       int64(1717236000),
		"transactionHash": "0xdeadbeef",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseInbound(raw, "OrderFilled")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	of, ok := evt.(*event.OrderFilled)
	if !ok {
		t.Fatalf("expected *event.OrderFilled, got %T", evt)
	}

	if of.SourceID != "act-77" {
		t.Errorf("source id: got %s, want act-77", of.SourceID)
	}
	// Addresses canonicalize to lowercase on the way in.
	if of.Wallet != "0xabcd000000000000000000000000000000000001" {
		t.Errorf("wallet: got %s", of.Wallet)
	}
	if of.TokenID != "tok-yes" {
		t.Errorf("token: got %s, want tok-yes", of.TokenID)
	}
	if of.TradeSide != event.SideBuy {
		t.Errorf("side: got %v, want SideBuy", of.TradeSide)
	}
	if !of.Qty.Equal(dec("100.5")) {
		t.Errorf("qty: got %s, want 100.5", of.Qty)
	}
	if !of.UsdcSize.Equal(dec("40.2")) {
		t.Errorf("usdc: got %s, want 40.2", of.UsdcSize)
	}
	if of.TxHash != "0xdeadbeef" {
		t.Errorf("tx hash: got %s", of.TxHash)
	}
	want := time.Unix(1717236000, 0).UTC()
	if !of.OccurredAt.Equal(want) {
		t.Errorf("occurred at: got %v, want %v", of.OccurredAt, want)
	}
}

func TestParseTrade_SellComposesSourceID(t *testing.T) {
	payload := map[string]interface{}{
		"proxyWallet":     "0xwallet",
		"asset":           "tok-no",
		"side":            "SELL",
		"size":            10,
		"usdcSize":        6,
		"timestamp":       int64(1717236000),
		"transactionHash": "0xcafe",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseInbound(raw, "OrderFilled")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	of := evt.(*event.OrderFilled)
	if of.SourceID != "0xcafe:tok-no:sell" {
		t.Errorf("composed source id: got %s, want 0xcafe:tok-no:sell", of.SourceID)
	}
	if of.TradeSide != event.SideSell {
		t.Errorf("side: got %v, want SideSell", of.TradeSide)
	}
	if of.AsRaw().Kind != "Sell" {
		t.Errorf("raw kind: got %s, want Sell", of.AsRaw().Kind)
	}
}

func TestParseTrade_Rejections(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"proxyWallet":     "0xwallet",
			"asset":           "tok-yes",
			"side":            "BUY",
			"size":            100,
			"usdcSize":        40,
			"timestamp":       int64(1717236000),
			"transactionHash": "0xdead",
		}
	}

	cases := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"zero size", func(m map[string]interface{}) { m["size"] = 0 }},
		{"negative size", func(m map[string]interface{}) { m["size"] = -5 }},
		{"negative usdc", func(m map[string]interface{}) { m["usdcSize"] = -1 }},
		{"price above 1", func(m map[string]interface{}) { m["usdcSize"] = 101 }},
		{"unknown side", func(m map[string]interface{}) { m["side"] = "HOLD" }},
		{"missing wallet", func(m map[string]interface{}) { delete(m, "proxyWallet") }},
		{"missing asset", func(m map[string]interface{}) { delete(m, "asset") }},
		{"missing timestamp", func(m map[string]interface{}) { delete(m, "timestamp") }},
	}

	for _, tc := range cases {
		payload := base()
		tc.mutate(payload)
		raw := rawFromJSON(t, payload)
		if _, err := ingestion.ParseInbound(raw, "OrderFilled"); err == nil {
			t.Errorf("%s: expected error, got none", tc.name)
		}
	}
}

func TestParseSplit(t *testing.T) {
	payload := map[string]interface{}{
		"id":              "act-split-1",
		"proxyWallet":     "0xwallet",
		"conditionId":     "cond-1",
		"size":            50,
		"usdcSize":        50,
		"timestamp":       int64(1717236000),
		"transactionHash": "0xsplit",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseInbound(raw, "PositionSplit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	ps, ok := evt.(*event.PositionSplit)
	if !ok {
		t.Fatalf("expected *event.PositionSplit, got %T", evt)
	}
	if ps.ConditionID != "cond-1" {
		t.Errorf("condition: got %s, want cond-1", ps.ConditionID)
	}
	if !ps.Qty.Equal(dec("50")) {
		t.Errorf("qty: got %s, want 50", ps.Qty)
	}
	if ps.AsRaw().Kind != "Split" {
		t.Errorf("raw kind: got %s, want Split", ps.AsRaw().Kind)
	}
}

func TestParseMerge_ComposesSourceID(t *testing.T) {
	payload := map[string]interface{}{
		"proxyWallet":     "0xwallet",
		"conditionId":     "cond-1",
		"size":            20,
		"usdcSize":        20,
		"timestamp":       int64(1717236000),
		"transactionHash": "0xmerge",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseInbound(raw, "PositionsMerged")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pm := evt.(*event.PositionsMerged)
	if pm.SourceID != "0xmerge:merge" {
		t.Errorf("composed source id: got %s, want 0xmerge:merge", pm.SourceID)
	}
	if pm.AsRaw().Kind != "Merge" {
		t.Errorf("raw kind: got %s, want Merge", pm.AsRaw().Kind)
	}
}

func TestParseRedemption_ConditionLevel(t *testing.T) {
	payload := map[string]interface{}{
		"id":              "act-redeem-1",
		"proxyWallet":     "0xwallet",
		"conditionId":     "cond-9",
		"size":            60,
		"usdcSize":        60,
		"timestamp":       int64(1717236000),
		"transactionHash": "0xredeem",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseInbound(raw, "PayoutRedemption")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pr, ok := evt.(*event.PayoutRedemption)
	if !ok {
		t.Fatalf("expected *event.PayoutRedemption, got %T", evt)
	}
	if pr.TokenID != "" {
		t.Errorf("token: got %s, want empty (condition-level report)", pr.TokenID)
	}
	if pr.ConditionID != "cond-9" {
		t.Errorf("condition: got %s, want cond-9", pr.ConditionID)
	}
	if !pr.UsdcSize.Equal(dec("60")) {
		t.Errorf("usdc: got %s, want 60", pr.UsdcSize)
	}
}

func TestParseTransfer_Directions(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"proxyWallet":     "0xAAAA",
			"asset":           "tok-yes",
			"from":            "0xBBBB",
			"to":              "0xaaaa", // lowercase on purpose: addresses compare case-insensitively
			"size":            15,
			"timestamp":       int64(1717236000),
			"transactionHash": "0xmove",
		}
	}

	raw := rawFromJSON(t, base())
	evt, err := ingestion.ParseInbound(raw, "TokenTransfer")
	if err != nil {
		t.Fatalf("parse inbound transfer failed: %v", err)
	}
	tt := evt.(*event.TokenTransfer)
	if tt.Direction != event.DirectionIn {
		t.Errorf("direction: got %v, want DirectionIn", tt.Direction)
	}
	if tt.Counterparty != "0xbbbb" {
		t.Errorf("counterparty: got %s, want 0xbbbb", tt.Counterparty)
	}
	if tt.SourceID != "0xmove:tok-yes:in" {
		t.Errorf("composed source id: got %s, want 0xmove:tok-yes:in", tt.SourceID)
	}

	out := base()
	out["from"] = "0xAAAA"
	out["to"] = "0xCCCC"
	evt, err = ingestion.ParseInbound(rawFromJSON(t, out), "TokenTransfer")
	if err != nil {
		t.Fatalf("parse outbound transfer failed: %v", err)
	}
	tt = evt.(*event.TokenTransfer)
	if tt.Direction != event.DirectionOut {
		t.Errorf("direction: got %v, want DirectionOut", tt.Direction)
	}
	if tt.Counterparty != "0xcccc" {
		t.Errorf("counterparty: got %s, want 0xcccc", tt.Counterparty)
	}
	if tt.AsRaw().Kind != "TransferOut" {
		t.Errorf("raw kind: got %s, want TransferOut", tt.AsRaw().Kind)
	}

	neither := base()
	neither["from"] = "0xBBBB"
	neither["to"] = "0xCCCC"
	if _, err := ingestion.ParseInbound(rawFromJSON(t, neither), "TokenTransfer"); err == nil {
		t.Error("expected error when proxyWallet is on neither side")
	}
}

func TestParseResolution_NumeratorsOverDenominator(t *testing.T) {
	payload := map[string]interface{}{
		"conditionId":       "cond-1",
		"payoutNumerators":  []int{1, 1},
		"payoutDenominator": 2,
		"timestamp":         int64(1717236000),
		"transactionHash":   "0xresolve",
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseInbound(raw, "MarketResolved")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mr, ok := evt.(*event.MarketResolved)
	if !ok {
		t.Fatalf("expected *event.MarketResolved, got %T", evt)
	}
	if len(mr.Payouts) != 2 {
		t.Fatalf("payouts: got %d entries, want 2", len(mr.Payouts))
	}
	if !mr.Payouts[0].Equal(dec("0.5")) || !mr.Payouts[1].Equal(dec("0.5")) {
		t.Errorf("payouts: got [%s %s], want [0.5 0.5]", mr.Payouts[0], mr.Payouts[1])
	}

	// A house split that already sums to 1 must not get flagged downstream.
	res := mr.Resolution()
	if res.Renormalized {
		t.Error("well-formed payout vector flagged as renormalized")
	}
}

func TestParseResolution_Rejections(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"conditionId":       "cond-1",
			"payoutNumerators":  []int{1, 0},
			"payoutDenominator": 1,
			"timestamp":         int64(1717236000),
			"transactionHash":   "0xresolve",
		}
	}

	zeroDen := base()
	zeroDen["payoutDenominator"] = 0
	if _, err := ingestion.ParseInbound(rawFromJSON(t, zeroDen), "MarketResolved"); err == nil {
		t.Error("expected error for zero denominator (unresolved condition)")
	}

	negNum := base()
	negNum["payoutNumerators"] = []int{1, -1}
	if _, err := ingestion.ParseInbound(rawFromJSON(t, negNum), "MarketResolved"); err == nil {
		t.Error("expected error for negative numerator")
	}

	noNums := base()
	noNums["payoutNumerators"] = []int{}
	if _, err := ingestion.ParseInbound(rawFromJSON(t, noNums), "MarketResolved"); err == nil {
		t.Error("expected error for empty numerators")
	}
}

func TestParseMarkPrice(t *testing.T) {
	payload := map[string]interface{}{
		"conditionId":  "cond-2",
		"outcomeIndex": 0,
		"price":        0.55,
		"timestamp":    int64(1717236000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseInbound(raw, "MarkPriceUpdate")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mp, ok := evt.(*event.MarkPriceUpdate)
	if !ok {
		t.Fatalf("expected *event.MarkPriceUpdate, got %T", evt)
	}
	if mp.ConditionID != "cond-2" || mp.OutcomeIndex != 0 {
		t.Errorf("key: got (%s,%d), want (cond-2,0)", mp.ConditionID, mp.OutcomeIndex)
	}
	if !mp.Price.Equal(dec("0.55")) {
		t.Errorf("price: got %s, want 0.55", mp.Price)
	}

	above := map[string]interface{}{
		"conditionId":  "cond-2",
		"outcomeIndex": 0,
		"price":        1.5,
		"timestamp":    int64(1717236000),
	}
	if _, err := ingestion.ParseInbound(rawFromJSON(t, above), "MarkPriceUpdate"); err == nil {
		t.Error("expected error for price above 1")
	}

	noOutcome := map[string]interface{}{
		"conditionId": "cond-2",
		"price":       0.5,
		"timestamp":   int64(1717236000),
	}
	if _, err := ingestion.ParseInbound(rawFromJSON(t, noOutcome), "MarkPriceUpdate"); err == nil {
		t.Error("expected error for missing outcomeIndex")
	}
}

func TestParseTokenMap(t *testing.T) {
	payload := map[string]interface{}{
		"asset":        "tok-yes",
		"conditionId":  "cond-1",
		"outcomeIndex": 1,
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseInbound(raw, "TokenMapUpsert")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	tm, ok := evt.(*event.TokenMapUpsert)
	if !ok {
		t.Fatalf("expected *event.TokenMapUpsert, got %T", evt)
	}
	if tm.TokenID != "tok-yes" || tm.ConditionID != "cond-1" || tm.OutcomeIndex != 1 {
		t.Errorf("mapping: got (%s,%s,%d), want (tok-yes,cond-1,1)", tm.TokenID, tm.ConditionID, tm.OutcomeIndex)
	}

	missing := map[string]interface{}{
		"asset":       "tok-yes",
		"conditionId": "cond-1",
	}
	if _, err := ingestion.ParseInbound(rawFromJSON(t, missing), "TokenMapUpsert"); err == nil {
		t.Error("expected error for missing outcomeIndex")
	}
}

func TestParseUnknownMessageType_Fails(t *testing.T) {
	raw := ingestion.RawMessage{Data: []byte(`{}`)}
	_, err := ingestion.ParseInbound(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawMessage{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseInbound(raw, "OrderFilled")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
