package backend

import (
	"context"
	"testing"
	"time"

	"github.com/creact-labs/creact-sub004/pkg/state"
)

func testState(stack string) *state.DeploymentState {
	return &state.DeploymentState{
		StackName: stack,
		Status:    state.StatusDeployed,
		Nodes: []state.SerializedNode{
			{ID: "app.db", Path: []string{"app", "db"}, ConstructType: "Database",
				Outputs: map[string]any{"url": "postgres://x"}},
		},
		LastDeployedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestFileBackendStateRoundTrip(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, err := b.GetState(ctx, "demo")
	if err != nil {
		t.Fatalf("get on empty dir: %v", err)
	}
	if got != nil {
		t.Fatal("missing state must be nil, not an error")
	}

	want := testState("demo")
	if err := b.SaveState(ctx, "demo", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = b.GetState(ctx, "demo")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StackName != "demo" || got.Status != state.StatusDeployed || len(got.Nodes) != 1 {
		t.Errorf("state did not round-trip: %+v", got)
	}
	if got.Nodes[0].Outputs["url"] != "postgres://x" {
		t.Errorf("outputs did not round-trip: %v", got.Nodes[0].Outputs)
	}
}

func TestFileBackendAudit(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i, action := range []string{state.ActionDeployStart, state.ActionResourceApplied, state.ActionDeployComplete} {
		entry := state.AuditEntry{
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			Action:    action,
			NodeID:    "app.db",
		}
		if err := b.AppendAuditLog(ctx, "demo", entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := b.GetAuditLog(ctx, "demo", 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Action != state.ActionDeployStart || entries[2].Action != state.ActionDeployComplete {
		t.Errorf("entries out of order: %+v", entries)
	}

	limited, err := b.GetAuditLog(ctx, "demo", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].Action != state.ActionResourceApplied {
		t.Errorf("limit should keep the newest entries: %+v", limited)
	}
}

func TestFileBackendLock(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ok, err := b.AcquireLock(ctx, "demo", "holder-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed: ok=%v err=%v", ok, err)
	}

	ok, err = b.AcquireLock(ctx, "demo", "holder-2", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("held lock must not be acquirable by another holder")
	}

	if err := b.ReleaseLock(ctx, "demo"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = b.AcquireLock(ctx, "demo", "holder-2", time.Minute)
	if err != nil || !ok {
		t.Errorf("released lock should be acquirable: ok=%v err=%v", ok, err)
	}
}

func TestFileBackendExpiredLockBroken(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ok, _ := b.AcquireLock(ctx, "demo", "holder-1", -time.Second)
	if !ok {
		t.Fatal("setup acquire failed")
	}
	ok, err = b.AcquireLock(ctx, "demo", "holder-2", time.Minute)
	if err != nil || !ok {
		t.Errorf("expired lock should be broken and re-taken: ok=%v err=%v", ok, err)
	}
}
