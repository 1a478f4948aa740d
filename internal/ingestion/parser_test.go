package ingestion_test

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"gmsol/internal/core"
	"gmsol/internal/ingestion"
	"gmsol/internal/state"
)

func tokenHex(t *testing.T, label string) string {
	t.Helper()
	token := state.TokenFromString(label)
	return hex.EncodeToString(token[:])
}

func marshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestKindFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
		ok      bool
	}{
		{"gmsol.actions.create.deposit", ingestion.RequestCreate, true},
		{"gmsol.actions.execute.deposit", ingestion.RequestExecute, true},
		{"gmsol.actions.cancel.order", ingestion.RequestCancel, true},
		{"gmsol.events.Deposit", "", false},
	}
	for _, c := range cases {
		got, ok := ingestion.KindFromSubject(c.subject)
		if ok != c.ok || got != c.want {
			t.Errorf("KindFromSubject(%s): got (%s, %v), want (%s, %v)", c.subject, got, ok, c.want, c.ok)
		}
	}
}

func TestParseCreateRequest_Deposit(t *testing.T) {
	payload := map[string]interface{}{
		"action_id":     "550e8400-e29b-41d4-a716-446655440000",
		"store":         tokenHex(t, "store-1"),
		"market_token":  tokenHex(t, "GM-SOL-USDC"),
		"owner":         tokenHex(t, "alice"),
		"nonce":         uint64(1),
		"execution_fee": uint64(5000),
		"updated_at":    int64(1700000000),
		"kind":          "Deposit",
		"deposit": map[string]interface{}{
			"long_token_amount":       "1000000000",
			"min_market_token_amount": "1",
		},
	}

	a, err := ingestion.ParseCreateRequest(marshalJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if a.Kind != core.ActionKindDeposit {
		t.Errorf("kind: got %v, want Deposit", a.Kind)
	}
	if a.Header.Nonce != 1 {
		t.Errorf("nonce: got %d, want 1", a.Header.Nonce)
	}
	if a.Header.ExecutionFee != 5000 {
		t.Errorf("execution_fee: got %d, want 5000", a.Header.ExecutionFee)
	}
	if a.Deposit == nil {
		t.Fatal("missing deposit params")
	}
	if a.Deposit.LongTokenAmount.Int64() != 1_000_000_000 {
		t.Errorf("long_token_amount: got %s, want 1000000000", a.Deposit.LongTokenAmount)
	}
	if a.Deposit.ShortTokenAmount != nil {
		t.Errorf("short_token_amount: got %s, want nil", a.Deposit.ShortTokenAmount)
	}
	if err := a.ValidateCreate(); err != nil {
		t.Errorf("parsed action fails validation: %v", err)
	}
}

func TestParseCreateRequest_OrderWithSwapPath(t *testing.T) {
	hop := tokenHex(t, "GM-BTC-USDC")
	payload := map[string]interface{}{
		"action_id":     "550e8400-e29b-41d4-a716-446655440001",
		"store":         tokenHex(t, "store-1"),
		"market_token":  tokenHex(t, "GM-SOL-USDC"),
		"owner":         tokenHex(t, "bob"),
		"nonce":         uint64(7),
		"execution_fee": uint64(9000),
		"updated_at":    int64(1700000000),
		"kind":          "OrderIncrease",
		"order": map[string]interface{}{
			"collateral_token":        tokenHex(t, "USDC"),
			"is_long":                 true,
			"collateral_delta_amount": "500000",
			"size_delta_usd":          "100000000000000000000000",
			"acceptable_price":        "210000000000000",
			"swap": map[string]interface{}{
				"path":      []string{hop},
				"token_in":  tokenHex(t, "WBTC"),
				"token_out": tokenHex(t, "USDC"),
			},
		},
	}

	a, err := ingestion.ParseCreateRequest(marshalJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if a.Kind != core.ActionKindOrderIncrease {
		t.Errorf("kind: got %v, want OrderIncrease", a.Kind)
	}
	if a.Order == nil {
		t.Fatal("missing order params")
	}
	if !a.Order.IsLong {
		t.Error("is_long: got false, want true")
	}
	if len(a.Order.Swap.Path) != 1 {
		t.Fatalf("swap path: got %d hops, want 1", len(a.Order.Swap.Path))
	}
	if a.Order.Swap.Path[0] != state.TokenFromString("GM-BTC-USDC") {
		t.Error("swap path hop mismatch")
	}
	if a.Order.DecreaseSwapType != core.DecreaseSwapNone {
		t.Errorf("decrease_swap_type: got %v, want none", a.Order.DecreaseSwapType)
	}
}

func TestParseCreateRequest_CreateMarket(t *testing.T) {
	payload := map[string]interface{}{
		"action_id":     "550e8400-e29b-41d4-a716-446655440002",
		"store":         tokenHex(t, "store-1"),
		"market_token":  tokenHex(t, "GM-SOL-USDC"),
		"owner":         tokenHex(t, "admin"),
		"nonce":         uint64(1),
		"execution_fee": uint64(5000),
		"updated_at":    int64(1700000000),
		"kind":          "CreateMarket",
		"market_meta": map[string]interface{}{
			"market_token": tokenHex(t, "GM-SOL-USDC"),
			"index_token":  tokenHex(t, "SOL"),
			"long_token":   tokenHex(t, "WSOL"),
			"short_token":  tokenHex(t, "USDC"),
		},
	}

	a, err := ingestion.ParseCreateRequest(marshalJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if a.MarketMeta == nil {
		t.Fatal("missing market meta")
	}
	if a.MarketMeta.IndexToken != state.TokenFromString("SOL") {
		t.Error("index token mismatch")
	}
	if a.MarketMeta.IsPure() {
		t.Error("expected non-pure market")
	}
}

func TestParseExecuteRequest(t *testing.T) {
	sol := tokenHex(t, "SOL")
	usdc := tokenHex(t, "USDC")
	payload := map[string]interface{}{
		"action_id": "550e8400-e29b-41d4-a716-446655440003",
		"prices": map[string]interface{}{
			sol:  map[string]string{"min": "199000000000000", "max": "201000000000000"},
			usdc: map[string]string{"min": "100000000000", "max": "100000000000"},
		},
		"min_ts": int64(1700000010),
		"max_ts": int64(1700000020),
	}

	id, snap, err := ingestion.ParseExecuteRequest(marshalJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if id.String() != "550e8400-e29b-41d4-a716-446655440003" {
		t.Errorf("action id mismatch: %s", id)
	}
	if snap.MinTs != 1700000010 || snap.MaxTs != 1700000020 {
		t.Errorf("window: got [%d, %d]", snap.MinTs, snap.MaxTs)
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("snapshot validation: %v", err)
	}
	p, err := snap.Prices.Get(state.TokenFromString("SOL").Bytes())
	if err != nil {
		t.Fatalf("missing SOL price: %v", err)
	}
	if p.Max.Int64() != 201000000000000 {
		t.Errorf("max price: got %s", p.Max)
	}
}

func TestParseCancelRequest_DefaultReason(t *testing.T) {
	payload := map[string]interface{}{
		"action_id": "550e8400-e29b-41d4-a716-446655440004",
	}
	id, reason, err := ingestion.ParseCancelRequest(marshalJSON(t, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if id.String() != "550e8400-e29b-41d4-a716-446655440004" {
		t.Errorf("action id mismatch: %s", id)
	}
	if reason == "" {
		t.Error("expected default reason")
	}
}

func TestParseCreateRequest_UnknownKind_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"action_id":     "550e8400-e29b-41d4-a716-446655440005",
		"store":         tokenHex(t, "store-1"),
		"market_token":  tokenHex(t, "GM-SOL-USDC"),
		"owner":         tokenHex(t, "alice"),
		"nonce":         uint64(1),
		"execution_fee": uint64(5000),
		"kind":          "NotAKind",
	}
	if _, err := ingestion.ParseCreateRequest(marshalJSON(t, payload)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestParseCreateRequest_InvalidJSON_Fails(t *testing.T) {
	if _, err := ingestion.ParseCreateRequest([]byte(`{invalid json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseCreateRequest_BadStoreKey_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"action_id":     "550e8400-e29b-41d4-a716-446655440006",
		"store":         "deadbeef",
		"market_token":  tokenHex(t, "GM-SOL-USDC"),
		"owner":         tokenHex(t, "alice"),
		"nonce":         uint64(1),
		"execution_fee": uint64(5000),
		"kind":          "Deposit",
		"deposit":       map[string]interface{}{"long_token_amount": "1"},
	}
	if _, err := ingestion.ParseCreateRequest(marshalJSON(t, payload)); err == nil {
		t.Fatal("expected error for short store key")
	}
}

func TestParseCreateRequest_BadAmount_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"action_id":     "550e8400-e29b-41d4-a716-446655440007",
		"store":         tokenHex(t, "store-1"),
		"market_token":  tokenHex(t, "GM-SOL-USDC"),
		"owner":         tokenHex(t, "alice"),
		"nonce":         uint64(1),
		"execution_fee": uint64(5000),
		"kind":          "Withdrawal",
		"withdrawal":    map[string]interface{}{"market_token_amount": "12x34"},
	}
	if _, err := ingestion.ParseCreateRequest(marshalJSON(t, payload)); err == nil {
		t.Fatal("expected error for malformed amount")
	}
}
