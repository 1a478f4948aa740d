package persistence_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"gmsol/internal/observability"
	"gmsol/internal/persistence"
	"gmsol/internal/testutil"
)

func setupSchema(t *testing.T) (*persistence.SnapshotManager, *persistence.EventLogWriter, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	log := observability.NewLogger("persistence-test")
	m := persistence.NewMigrator(db, "../../migrations", log)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate up: %v", err)
	}

	return persistence.NewSnapshotManager(db), persistence.NewEventLogWriter(db), cleanup
}

func testRow(seq int64, eventType, ref string) persistence.EventRow {
	market := "6d61726b65742d746f6b656e"
	return persistence.EventRow{
		Sequence:    seq,
		EventType:   eventType,
		ActionRef:   ref,
		MarketToken: &market,
		Payload:     []byte(fmt.Sprintf(`{"seq":%d}`, seq)),
		StateHash:   bytes.Repeat([]byte{byte(seq)}, 32),
		PrevHash:    bytes.Repeat([]byte{byte(seq - 1)}, 32),
		Timestamp:   time.Unix(1_700_000_000+seq, 0).UTC(),
	}
}

func TestEventLog_WriteAndReplay(t *testing.T) {
	snapMgr, writer, cleanup := setupSchema(t)
	defer cleanup()

	ctx := context.Background()

	rows := []persistence.EventRow{
		testRow(1, "OrderCreated", uuid.NewString()),
		testRow(2, "DepositExecuted", uuid.NewString()),
		testRow(3, "OrderRemoved", uuid.NewString()),
	}
	if err := writer.WriteEventBatch(ctx, nil, rows); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	// Replayed batches hit the sequence conflict and are absorbed.
	if err := writer.WriteEventBatch(ctx, nil, rows); err != nil {
		t.Fatalf("rewrite batch: %v", err)
	}

	latest, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != 3 {
		t.Fatalf("latest sequence = %d, want 3", latest)
	}

	loaded, err := snapMgr.LoadEventsFrom(ctx, 1, 100)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d events, want 3", len(loaded))
	}
	for i, row := range loaded {
		want := rows[i]
		if row.Sequence != want.Sequence {
			t.Errorf("event %d: sequence = %d, want %d", i, row.Sequence, want.Sequence)
		}
		if row.EventType != want.EventType {
			t.Errorf("event %d: type = %q, want %q", i, row.EventType, want.EventType)
		}
		if !bytes.Equal(row.StateHash, want.StateHash) {
			t.Errorf("event %d: state hash mismatch", i)
		}
		if !bytes.Equal(row.PrevHash, want.PrevHash) {
			t.Errorf("event %d: prev hash mismatch", i)
		}
	}
}

func TestSnapshot_VerifiedRoundTrip(t *testing.T) {
	snapMgr, _, cleanup := setupSchema(t)
	defer cleanup()

	ctx := context.Background()

	snap := &persistence.SnapshotData{
		Sequence:        42,
		StateHash:       bytes.Repeat([]byte{0xab}, 32),
		Nonces:          map[string]uint64{"6f776e6572": 7},
		IdempotencyKeys: []string{"Deposit:" + uuid.NewString()},
		CreatedAt:       time.Now().UTC(),
	}
	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots are never loaded.
	loaded, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded != nil {
		t.Fatal("unverified snapshot was returned")
	}

	if err := snapMgr.MarkVerified(ctx, 42); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	loaded, err = snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("verified snapshot not found")
	}
	if loaded.Sequence != 42 {
		t.Errorf("sequence = %d, want 42", loaded.Sequence)
	}
	if !bytes.Equal(loaded.StateHash, snap.StateHash) {
		t.Error("state hash mismatch after round trip")
	}
	if loaded.Nonces["6f776e6572"] != 7 {
		t.Errorf("nonces = %v, want owner at 7", loaded.Nonces)
	}

	restored := loaded.ToEngineState()
	if restored.Sequence != 42 {
		t.Errorf("restored sequence = %d, want 42", restored.Sequence)
	}
}

func TestPostgresIdempotencyChecker_Scopes(t *testing.T) {
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	log := observability.NewLogger("persistence-test")
	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations", log).Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	writer := persistence.NewEventLogWriter(db)
	checker := persistence.NewPostgresIdempotencyChecker(db)

	ref := uuid.NewString()
	if err := writer.WriteEventBatch(ctx, nil, []persistence.EventRow{
		testRow(1, "OrderCreated", ref),
	}); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	dup, err := checker.IsDuplicate("Deposit", ref)
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Error("creation-scope lookup missed a persisted OrderCreated")
	}

	// Execution scope needs an OrderRemoved, which has not landed yet.
	dup, err = checker.IsDuplicate("execute:Deposit", ref)
	if err != nil {
		t.Fatalf("is duplicate (execute): %v", err)
	}
	if dup {
		t.Error("execution-scope lookup matched before OrderRemoved")
	}

	if err := writer.WriteEventBatch(ctx, nil, []persistence.EventRow{
		testRow(2, "OrderRemoved", ref),
	}); err != nil {
		t.Fatalf("write removal: %v", err)
	}

	dup, err = checker.IsDuplicate("execute:Deposit", ref)
	if err != nil {
		t.Fatalf("is duplicate (execute): %v", err)
	}
	if !dup {
		t.Error("execution-scope lookup missed a persisted OrderRemoved")
	}
}
