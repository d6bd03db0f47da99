package registry_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fuba/youtube2slackthread/internal/registry"
	"github.com/fuba/youtube2slackthread/internal/secretbox"
	"github.com/fuba/youtube2slackthread/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	dir := t.TempDir()
	box, err := secretbox.New(make([]byte, 32))
	if err != nil {
		t.Fatalf("secretbox.New: %v", err)
	}
	db, err := store.Open(filepath.Join(dir, "test.db"), box, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return db
}

func TestRegistry_LoadFallsBackToEnvWhenNoWorkspacesRegistered(t *testing.T) {
	db := newTestDB(t)
	r := registry.New(db, registry.EnvFallback{BotToken: "xoxb-test", SigningSecret: "sekrit"}, nil, nil)

	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	client, err := r.Get(registry.DefaultTeamID)
	if err != nil {
		t.Fatalf("Get(%s): %v", registry.DefaultTeamID, err)
	}
	if client == nil {
		t.Fatal("Get returned nil client")
	}
}

func TestRegistry_LoadWithNoWorkspacesAndNoEnvFails(t *testing.T) {
	db := newTestDB(t)
	r := registry.New(db, registry.EnvFallback{}, nil, nil)

	if err := r.Load(context.Background()); err == nil {
		t.Fatal("Load succeeded with no workspaces and no env fallback, want error")
	}
}

func TestRegistry_LoadRegistersEachActiveWorkspace(t *testing.T) {
	db := newTestDB(t)
	if err := db.PutWorkspace(store.Workspace{TeamID: "T1", TeamName: "one", BotToken: "b1", SigningSecret: "s1", Active: true}); err != nil {
		t.Fatalf("PutWorkspace T1: %v", err)
	}
	if err := db.PutWorkspace(store.Workspace{TeamID: "T2", TeamName: "two", BotToken: "b2", SigningSecret: "s2", Active: true}); err != nil {
		t.Fatalf("PutWorkspace T2: %v", err)
	}

	r := registry.New(db, registry.EnvFallback{}, nil, nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	for _, team := range []string{"T1", "T2"} {
		if _, err := r.Get(team); err != nil {
			t.Fatalf("Get(%s): %v", team, err)
		}
	}
}

func TestRegistry_GetUnknownTeamReturnsIntegrityError(t *testing.T) {
	db := newTestDB(t)
	r := registry.New(db, registry.EnvFallback{BotToken: "xoxb-test"}, nil, nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, err := r.Get("unknown-team"); err == nil {
		t.Fatal("Get(unknown-team) succeeded, want error")
	}
}

func TestRegistry_RefreshPicksUpDeactivation(t *testing.T) {
	db := newTestDB(t)
	if err := db.PutWorkspace(store.Workspace{TeamID: "T1", TeamName: "one", BotToken: "b1", SigningSecret: "s1", Active: true}); err != nil {
		t.Fatalf("PutWorkspace: %v", err)
	}
	r := registry.New(db, registry.EnvFallback{}, nil, nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := db.DeactivateWorkspace("T1"); err != nil {
		t.Fatalf("DeactivateWorkspace: %v", err)
	}
	if err := r.Refresh(context.Background(), "T1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, err := r.Get("T1"); err == nil {
		t.Fatal("Get(T1) succeeded after deactivation, want error")
	}
}

func TestRegistry_ShutdownClearsEntries(t *testing.T) {
	db := newTestDB(t)
	r := registry.New(db, registry.EnvFallback{BotToken: "xoxb-test"}, nil, nil)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	r.Shutdown()

	if _, err := r.Get(registry.DefaultTeamID); err == nil {
		t.Fatal("Get succeeded after Shutdown, want error")
	}
}
