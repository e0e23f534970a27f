package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"cvtriage/internal/config"
	"cvtriage/internal/models"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"}, "")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return New(db, "sqlite3", opts...)
}

func TestProfileUpsertAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	p := &models.Profile{ID: "u1", Name: "Ana", Email: "ana@example.com", MaxCredits: 3}
	if err := store.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if _, err := store.IncrementUsage(ctx, "u1"); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}

	// Re-upsert promotes the profile but keeps its usage.
	p.IsAdmin = true
	p.MaxCredits = 10
	p.UsageCount = 0
	if err := store.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("UpsertProfile update: %v", err)
	}
	got, err := store.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !got.IsAdmin || got.MaxCredits != 10 || got.UsageCount != 1 {
		t.Fatalf("unexpected profile after upsert: %+v", got)
	}

	if _, err := store.GetProfile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListProfilesOrdering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, p := range []*models.Profile{
		{ID: "old-client", Name: "a", Email: "a@x", CreatedAt: base},
		{ID: "admin", Name: "b", Email: "b@x", IsAdmin: true, CreatedAt: base.Add(time.Hour)},
		{ID: "new-client", Name: "c", Email: "c@x", CreatedAt: base.Add(2 * time.Hour)},
	} {
		if err := store.UpsertProfile(ctx, p); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	list, err := store.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	want := []string{"admin", "new-client", "old-client"}
	if len(list) != len(want) {
		t.Fatalf("expected %d profiles, got %d", len(want), len(list))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestUpdateCreditLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.UpsertProfile(ctx, &models.Profile{ID: "u1", Name: "n", Email: "e", MaxCredits: 3}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpdateCreditLimit(ctx, "u1", 42); err != nil {
		t.Fatalf("UpdateCreditLimit: %v", err)
	}
	got, _ := store.GetProfile(ctx, "u1")
	if got.MaxCredits != 42 {
		t.Fatalf("expected 42 credits, got %d", got.MaxCredits)
	}
	if err := store.UpdateCreditLimit(ctx, "ghost", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing profile, got %v", err)
	}
}

func TestIncrementUsage(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.UpsertProfile(ctx, &models.Profile{ID: "u1", Name: "n", Email: "e", MaxCredits: 3, UsageCount: 4}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	n, err := store.IncrementUsage(ctx, "u1")
	if err != nil || n != 5 {
		t.Fatalf("IncrementUsage = %d, %v; want 5", n, err)
	}
	if _, err := store.IncrementUsage(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	disabled := New(store.DB(), "sqlite3", WithAtomicIncrement(false))
	if _, err := disabled.IncrementUsage(ctx, "u1"); !errors.Is(err, ErrProcedureUnavailable) {
		t.Fatalf("expected ErrProcedureUnavailable, got %v", err)
	}
	if err := disabled.SetUsageCount(ctx, "u1", 7); err != nil {
		t.Fatalf("SetUsageCount: %v", err)
	}
	if n, err := disabled.UsageCount(ctx, "u1"); err != nil || n != 7 {
		t.Fatalf("UsageCount = %d, %v; want 7", n, err)
	}
}

func TestAppendAnalysis(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	rec := &models.AnalysisRecord{
		UserID:        "u1",
		CandidateName: "maria.pdf",
		JobTitle:      "Backend Engineer",
		Result: models.AnalysisResult{
			Recommendation: models.RecommendationInterview,
			MatchScore:     88,
			Summary:        "ok",
			Pros:           []string{"Go"},
			Cons:           []string{},
		},
	}
	if err := store.AppendAnalysis(ctx, rec); err != nil {
		t.Fatalf("AppendAnalysis: %v", err)
	}
	if rec.ID == 0 {
		t.Fatalf("expected generated id")
	}
	var payload string
	if err := store.DB().QueryRow(`SELECT result FROM analyses WHERE id = ?`, rec.ID).Scan(&payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if payload == "" || payload[0] != '{' {
		t.Fatalf("expected JSON payload, got %q", payload)
	}
	if n, err := store.CountAnalyses(ctx, "u1"); err != nil || n != 1 {
		t.Fatalf("CountAnalyses = %d, %v", n, err)
	}
}

func TestAccountsAndTokens(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	acct := &models.Account{ID: "a1", Email: " Ana@Example.com ", Name: "Ana", PasswordHash: "h"}
	if err := store.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	dup := &models.Account{ID: "a2", Email: "ana@example.com", PasswordHash: "h"}
	if err := store.CreateAccount(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	got, err := store.AccountByEmail(ctx, "ANA@example.com")
	if err != nil || got.ID != "a1" {
		t.Fatalf("AccountByEmail = %+v, %v", got, err)
	}

	now := time.Now().UTC()
	if err := store.InsertToken(ctx, "tok1", "a1", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}
	if err := store.InsertToken(ctx, "tok2", "a1", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("InsertToken: %v", err)
	}
	owner, expires, err := store.TokenOwner(ctx, "tok1")
	if err != nil || owner != "a1" || !expires.After(now) {
		t.Fatalf("TokenOwner = %s %s %v", owner, expires, err)
	}
	removed, err := store.DeleteAccountTokens(ctx, "a1")
	if err != nil || len(removed) != 2 {
		t.Fatalf("DeleteAccountTokens = %v, %v", removed, err)
	}
	if _, _, err := store.TokenOwner(ctx, "tok2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected token gone, got %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := New((*sql.DB)(nil), "postgresql")
	if got := pg.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`); got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Fatalf("unexpected rebind: %s", got)
	}
	lite := New((*sql.DB)(nil), "sqlite")
	if got := lite.rebind(`x = ?`); got != `x = ?` {
		t.Fatalf("sqlite query should be untouched: %s", got)
	}
}
