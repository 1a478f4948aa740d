package core_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"gmsol/internal/core"
	"gmsol/internal/event"
	"gmsol/internal/oracle"
	"gmsol/internal/state"
)

// --- Test helpers ---

var (
	testStore  = state.TokenFromString("test-store").Bytes()
	testOwner  = state.TokenFromString("owner-1").Bytes()
	gmSolUsdc  = state.TokenFromString("GM-SOL-USDC")
	solToken   = state.TokenFromString("SOL")
	usdcToken  = state.TokenFromString("USDC")
	testExpiry = int64(300)
)

// newTestEngine creates an engine with buffered channels and no DB checker.
func newTestEngine() (*core.Engine, chan core.EngineOutput, chan core.EngineOutput) {
	persistChan := make(chan core.EngineOutput, 1024)
	projChan := make(chan core.EngineOutput, 1024)
	e := core.NewEngine(testStore, 0, testExpiry, persistChan, projChan, nil, nil)
	return e, persistChan, projChan
}

func solMarketMeta() state.MarketMeta {
	return state.MarketMeta{
		MarketToken: gmSolUsdc,
		IndexToken:  solToken,
		LongToken:   solToken,
		ShortToken:  usdcToken,
	}
}

// mustSnapshot builds a snapshot with SOL at 150 USD and USDC at 1 USD,
// observed inside [minTs, maxTs].
func mustSnapshot(minTs, maxTs int64) *oracle.Snapshot {
	return &oracle.Snapshot{
		Prices: oracle.PriceMap{
			solToken.Bytes():  oracle.UnitPrice(150, 9),
			usdcToken.Bytes(): oracle.UnitPrice(1, 6),
		},
		MinTs: minTs,
		MaxTs: maxTs,
	}
}

func mustAction(kind core.ActionKind, nonce uint64, updatedAt int64) *core.Action {
	return &core.Action{
		Header: core.ActionHeader{
			ID:           uuid.New(),
			Store:        testStore,
			MarketToken:  gmSolUsdc,
			Owner:        testOwner,
			Nonce:        nonce,
			ExecutionFee: core.MinExecutionFee,
			UpdatedAt:    updatedAt,
			State:        core.ActionStatePending,
		},
		Kind: kind,
	}
}

func mustDepositAction(nonce uint64, updatedAt int64, long, short int64) *core.Action {
	a := mustAction(core.ActionKindDeposit, nonce, updatedAt)
	a.Deposit = &core.DepositActionParams{
		LongTokenAmount:  big.NewInt(long),
		ShortTokenAmount: big.NewInt(short),
	}
	return a
}

// mustCreateMarket registers the SOL/USDC market through the full
// create/execute flow and returns the next owner nonce.
func mustCreateMarket(t *testing.T, e *core.Engine, nonce uint64) uint64 {
	t.Helper()
	a := mustAction(core.ActionKindCreateMarket, nonce, 1000)
	meta := solMarketMeta()
	a.MarketMeta = &meta
	if err := e.CreateAction(a); err != nil {
		t.Fatalf("create market action failed: %v", err)
	}
	if err := e.ExecuteAction(a.Header.ID, nil); err != nil {
		t.Fatalf("execute market action failed: %v", err)
	}
	return nonce + 1
}

func drainOutputs(ch chan core.EngineOutput) []core.EngineOutput {
	var outputs []core.EngineOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func eventTypes(outputs []core.EngineOutput) []event.EventType {
	types := make([]event.EventType, len(outputs))
	for i, o := range outputs {
		types[i] = o.Envelope.EventType
	}
	return types
}

func containsType(outputs []core.EngineOutput, et event.EventType) bool {
	for _, o := range outputs {
		if o.Envelope.EventType == et {
			return true
		}
	}
	return false
}

// --- Market administration ---

func TestCreateMarket_Registers(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	mustCreateMarket(t, e, 0)

	outputs := drainOutputs(persistCh)
	if !containsType(outputs, event.EventTypeOrderCreated) {
		t.Errorf("expected OrderCreated, got %v", eventTypes(outputs))
	}
	if !containsType(outputs, event.EventTypeMarketCreated) {
		t.Errorf("expected MarketCreated, got %v", eventTypes(outputs))
	}
	if !containsType(outputs, event.EventTypeOrderRemoved) {
		t.Errorf("expected OrderRemoved, got %v", eventTypes(outputs))
	}

	m, err := e.Markets().Get(gmSolUsdc)
	if err != nil {
		t.Fatalf("market not registered: %v", err)
	}
	if m.Meta.IndexToken != solToken {
		t.Errorf("wrong index token: %v", m.Meta.IndexToken)
	}
}

func TestUpdateConfig_BumpsRev(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)
	drainOutputs(persistCh)

	a := mustAction(core.ActionKindUpdateConfig, nonce, 1000)
	a.ConfigKey = "SwapFeeFactorForNegativeImpact"
	a.ConfigValue = big.NewInt(1_000_000_000_000_000) // 0.1% in unit space

	if err := e.CreateAction(a); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := e.ExecuteAction(a.Header.ID, nil); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if !containsType(outputs, event.EventTypeMarketConfigUpdated) {
		t.Fatalf("expected MarketConfigUpdated, got %v", eventTypes(outputs))
	}

	m, err := e.Markets().Get(gmSolUsdc)
	if err != nil {
		t.Fatalf("market lookup failed: %v", err)
	}
	if m.Rev == 0 {
		t.Error("expected rev bump after config update")
	}
	got := m.Config().Get(state.KeySwapFeeFactorForNegativeImpact)
	if got.Cmp(a.ConfigValue) != 0 {
		t.Errorf("config value not applied: got %v", got)
	}
}

// --- Action creation checks ---

func TestCreateAction_UnknownMarket_Fails(t *testing.T) {
	e, _, _ := newTestEngine()

	a := mustDepositAction(0, 1000, 1_000_000_000, 500_000_000)
	if err := e.CreateAction(a); err == nil {
		t.Fatal("expected error for unknown market, got nil")
	}
}

func TestCreateAction_NonceGap_Fails(t *testing.T) {
	e, _, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)

	a := mustDepositAction(nonce+3, 1000, 1_000_000_000, 0)
	if err := e.CreateAction(a); err == nil {
		t.Fatal("expected nonce gap error, got nil")
	}
}

func TestCreateAction_Redelivery_Ignored(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)
	drainOutputs(persistCh)

	a := mustDepositAction(nonce, 1000, 1_000_000_000, 0)
	if err := e.CreateAction(a); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	first := drainOutputs(persistCh)
	if len(first) != 1 {
		t.Fatalf("expected 1 output, got %d", len(first))
	}

	// Same request delivered again: stale nonce plus known ref must
	// be accepted silently.
	if err := e.CreateAction(a); err != nil {
		t.Fatalf("redelivered create should not error: %v", err)
	}
	if extra := drainOutputs(persistCh); len(extra) != 0 {
		t.Errorf("expected 0 outputs for redelivery, got %d", len(extra))
	}
}

func TestCreateAction_FeeBelowFloor_Fails(t *testing.T) {
	e, _, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)

	a := mustDepositAction(nonce, 1000, 1_000_000_000, 0)
	a.Header.ExecutionFee = core.MinExecutionFee - 1
	if err := e.CreateAction(a); err == nil {
		t.Fatal("expected execution fee error, got nil")
	}
}

func TestCreateAction_StoreMismatch_Fails(t *testing.T) {
	e, _, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)

	a := mustDepositAction(nonce, 1000, 1_000_000_000, 0)
	a.Header.Store = state.TokenFromString("other-store").Bytes()
	if err := e.CreateAction(a); err == nil {
		t.Fatal("expected store mismatch error, got nil")
	}
}

// --- Deposit / withdrawal lifecycle ---

func TestDeposit_MintsMarketTokens(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)
	drainOutputs(persistCh)

	a := mustDepositAction(nonce, 1000, 10_000_000_000, 1_500_000_000)
	if err := e.CreateAction(a); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := e.ExecuteAction(a.Header.ID, mustSnapshot(1000, 1010)); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	var report *event.DepositReport
	for _, o := range outputs {
		if r, ok := o.Event.(*event.DepositReport); ok {
			report = r
		}
	}
	if report == nil {
		t.Fatalf("expected DepositReport, got %v", eventTypes(outputs))
	}
	if report.MintedAmount.Sign() <= 0 {
		t.Errorf("expected positive minted amount, got %v", report.MintedAmount)
	}
	if report.MarketTokenSupply.Cmp(report.MintedAmount) != 0 {
		t.Errorf("first deposit supply %v != minted %v", report.MarketTokenSupply, report.MintedAmount)
	}

	last := outputs[len(outputs)-1]
	removed, ok := last.Event.(*event.OrderRemoved)
	if !ok {
		t.Fatalf("expected trailing OrderRemoved, got %T", last.Event)
	}
	if removed.FinalState != "Executed" {
		t.Errorf("expected Executed, got %s", removed.FinalState)
	}
}

func TestWithdrawal_BurnsRequestedAmount(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)

	dep := mustDepositAction(nonce, 1000, 10_000_000_000, 1_500_000_000)
	nonce++
	if err := e.CreateAction(dep); err != nil {
		t.Fatalf("create deposit failed: %v", err)
	}
	if err := e.ExecuteAction(dep.Header.ID, mustSnapshot(1000, 1010)); err != nil {
		t.Fatalf("execute deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	wd := mustAction(core.ActionKindWithdrawal, nonce, 1020)
	wd.Withdrawal = &core.WithdrawalActionParams{
		MarketTokenAmount: big.NewInt(1_000_000),
	}
	if err := e.CreateAction(wd); err != nil {
		t.Fatalf("create withdrawal failed: %v", err)
	}
	if err := e.ExecuteAction(wd.Header.ID, mustSnapshot(1020, 1030)); err != nil {
		t.Fatalf("execute withdrawal failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	var report *event.WithdrawalReport
	for _, o := range outputs {
		if r, ok := o.Event.(*event.WithdrawalReport); ok {
			report = r
		}
	}
	if report == nil {
		t.Fatalf("expected WithdrawalReport, got %v", eventTypes(outputs))
	}
	if report.BurnedAmount.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("expected burned 1_000_000, got %v", report.BurnedAmount)
	}
	if report.LongTokenAmount.Sign() <= 0 && report.ShortTokenAmount.Sign() <= 0 {
		t.Error("expected some collateral returned")
	}
}

// --- Execute / cancel mechanics ---

func TestExecuteAction_UnknownID(t *testing.T) {
	e, _, _ := newTestEngine()

	err := e.ExecuteAction(uuid.New(), mustSnapshot(1000, 1010))
	if !errors.Is(err, core.ErrActionNotFound) {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}
}

func TestCancelAction_EmitsRemovedWithReason(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)
	drainOutputs(persistCh)

	a := mustDepositAction(nonce, 1000, 1_000_000_000, 0)
	if err := e.CreateAction(a); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := e.CancelAction(a.Header.ID, "user requested"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	removed, ok := outputs[0].Event.(*event.OrderRemoved)
	if !ok {
		t.Fatalf("expected OrderRemoved, got %T", outputs[0].Event)
	}
	if removed.FinalState != "Cancelled" {
		t.Errorf("expected Cancelled, got %s", removed.FinalState)
	}
	if removed.Reason != "user requested" {
		t.Errorf("expected reason preserved, got %q", removed.Reason)
	}

	if !errors.Is(e.CancelAction(a.Header.ID, "again"), core.ErrActionNotFound) {
		t.Error("expected ErrActionNotFound on second cancel")
	}
}

func TestExecuteAction_FailedOperation_Cancels(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)

	// Withdrawal with no liquidity cannot succeed; the action must be
	// cancelled and the market left untouched.
	wd := mustAction(core.ActionKindWithdrawal, nonce, 1000)
	wd.Withdrawal = &core.WithdrawalActionParams{
		MarketTokenAmount: big.NewInt(1_000_000),
	}
	if err := e.CreateAction(wd); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	drainOutputs(persistCh)

	if err := e.ExecuteAction(wd.Header.ID, mustSnapshot(1000, 1010)); err != nil {
		t.Fatalf("failed execution should cancel, not error: %v", err)
	}

	outputs := drainOutputs(persistCh)
	removed, ok := outputs[len(outputs)-1].Event.(*event.OrderRemoved)
	if !ok {
		t.Fatalf("expected OrderRemoved, got %v", eventTypes(outputs))
	}
	if removed.FinalState != "Cancelled" {
		t.Errorf("expected Cancelled, got %s", removed.FinalState)
	}
	if removed.Reason == "" {
		t.Error("expected a cancellation reason")
	}
}

// --- Oracle freshness window ---

func TestExecuteAction_ExpiredSnapshot_CancelsGracefully(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)

	a := mustDepositAction(nonce, 1000, 1_000_000_000, 0)
	if err := e.CreateAction(a); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	drainOutputs(persistCh)

	// maxTs past updatedAt + expiration: the keeper arrived too late.
	if err := e.ExecuteAction(a.Header.ID, mustSnapshot(1000, 1000+testExpiry+1)); err != nil {
		t.Fatalf("expired snapshot should cancel, not error: %v", err)
	}

	outputs := drainOutputs(persistCh)
	removed, ok := outputs[len(outputs)-1].Event.(*event.OrderRemoved)
	if !ok {
		t.Fatalf("expected OrderRemoved, got %v", eventTypes(outputs))
	}
	if removed.FinalState != "Cancelled" {
		t.Errorf("expected Cancelled, got %s", removed.FinalState)
	}
}

func TestExecuteAction_EarlySnapshot_Fatal(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)

	a := mustDepositAction(nonce, 1000, 1_000_000_000, 0)
	if err := e.CreateAction(a); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	drainOutputs(persistCh)

	// minTs before updatedAt: prices predate the request.
	err := e.ExecuteAction(a.Header.ID, mustSnapshot(900, 1010))
	if !errors.Is(err, oracle.ErrTimestampsTooSmall) {
		t.Fatalf("expected ErrTimestampsTooSmall, got %v", err)
	}

	// The action stays pending; a fresh snapshot still works.
	if err := e.ExecuteAction(a.Header.ID, mustSnapshot(1000, 1010)); err != nil {
		t.Fatalf("retry with fresh snapshot failed: %v", err)
	}
	outputs := drainOutputs(persistCh)
	if !containsType(outputs, event.EventTypeDepositExecuted) {
		t.Errorf("expected DepositExecuted after retry, got %v", eventTypes(outputs))
	}
}

// --- Hash chain and determinism ---

func TestHashChain_Links(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	nonce := mustCreateMarket(t, e, 0)

	a := mustDepositAction(nonce, 1000, 10_000_000_000, 1_500_000_000)
	if err := e.CreateAction(a); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := e.ExecuteAction(a.Header.ID, mustSnapshot(1000, 1010)); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) < 4 {
		t.Fatalf("expected several outputs, got %d", len(outputs))
	}
	for i, o := range outputs {
		if o.Envelope.Sequence != int64(i) {
			t.Errorf("output %d: expected sequence %d, got %d", i, i, o.Envelope.Sequence)
		}
		if i == 0 {
			continue
		}
		if o.Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("output %d: prev hash does not link to parent", i)
		}
	}
}

func TestHashChain_Deterministic(t *testing.T) {
	run := func() [32]byte {
		e, persistCh, _ := newTestEngine()
		nonce := mustCreateMarket(t, e, 0)

		a := mustDepositAction(nonce, 1000, 10_000_000_000, 1_500_000_000)
		a.Header.ID = uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")
		if err := e.CreateAction(a); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if err := e.ExecuteAction(a.Header.ID, mustSnapshot(1000, 1010)); err != nil {
			t.Fatalf("execute failed: %v", err)
		}
		drainOutputs(persistCh)
		return e.GetStateHash()
	}

	h1 := run()
	h2 := run()
	if h1 != h2 {
		t.Errorf("same inputs produced different state hashes: %x vs %x", h1, h2)
	}
}

// --- Snapshot restore ---

func TestSnapshotRestore_ContinuesChain(t *testing.T) {
	e1, persistCh1, _ := newTestEngine()
	nonce := mustCreateMarket(t, e1, 0)

	dep := mustDepositAction(nonce, 1000, 10_000_000_000, 1_500_000_000)
	nonce++
	if err := e1.CreateAction(dep); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := e1.ExecuteAction(dep.Header.ID, mustSnapshot(1000, 1010)); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	drainOutputs(persistCh1)

	snap := e1.CreateSnapshotState()
	if snap.Sequence != e1.GetSequence()-1 {
		t.Errorf("snapshot sequence %d, engine next %d", snap.Sequence, e1.GetSequence())
	}

	persistCh2 := make(chan core.EngineOutput, 1024)
	projCh2 := make(chan core.EngineOutput, 1024)
	e2 := core.NewEngine(testStore, 0, testExpiry, persistCh2, projCh2, nil, nil)
	if err := e2.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if e2.GetSequence() != snap.Sequence+1 {
		t.Errorf("expected sequence %d after restore, got %d", snap.Sequence+1, e2.GetSequence())
	}
	if e2.GetStateHash() != snap.StateHash {
		t.Error("state hash not restored")
	}
	if _, err := e2.Markets().Get(gmSolUsdc); err != nil {
		t.Fatalf("market not restored: %v", err)
	}

	// The restored engine picks up where the old one stopped: nonces
	// continue and the next envelope chains onto the snapshot hash.
	a := mustDepositAction(nonce, 1100, 1_000_000_000, 0)
	if err := e2.CreateAction(a); err != nil {
		t.Fatalf("create on restored engine failed: %v", err)
	}
	outputs := drainOutputs(persistCh2)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Envelope.Sequence != snap.Sequence+1 {
		t.Errorf("expected sequence %d, got %d", snap.Sequence+1, outputs[0].Envelope.Sequence)
	}
	if outputs[0].Envelope.PrevHash != snap.StateHash {
		t.Error("first post-restore envelope does not chain onto the snapshot hash")
	}
}

func TestAdvanceSequence_NeverRewinds(t *testing.T) {
	e, persistCh, _ := newTestEngine()
	mustCreateMarket(t, e, 0)
	drainOutputs(persistCh)

	before := e.GetSequence()
	e.AdvanceSequence(before - 1)
	if e.GetSequence() != before {
		t.Errorf("sequence rewound to %d", e.GetSequence())
	}
	e.AdvanceSequence(before + 10)
	if e.GetSequence() != before+10 {
		t.Errorf("expected sequence %d, got %d", before+10, e.GetSequence())
	}
}

// --- Projection channel ---

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistCh := make(chan core.EngineOutput, 1024)
	projCh := make(chan core.EngineOutput, 1) // tiny buffer, fills up
	e := core.NewEngine(testStore, 0, testExpiry, persistCh, projCh, nil, nil)

	a := mustAction(core.ActionKindCreateMarket, 0, 1000)
	meta := solMarketMeta()
	a.MarketMeta = &meta
	if err := e.CreateAction(a); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := e.ExecuteAction(a.Header.ID, nil); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	// Persist outputs are never dropped even when projections fall behind.
	persisted := drainOutputs(persistCh)
	if len(persisted) != 3 {
		t.Errorf("expected 3 persist outputs, got %d", len(persisted))
	}
	projected := drainOutputs(projCh)
	if len(projected) != 1 {
		t.Errorf("expected 1 projected output, got %d", len(projected))
	}
}
