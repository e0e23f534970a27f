package profile

import (
	"context"
	"errors"
	"testing"

	"cvtriage/internal/config"
	"cvtriage/internal/models"
	"cvtriage/internal/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"}, "")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return storage.New(db, "sqlite3")
}

func addAccount(t *testing.T, store *storage.Store, id, email, name string) {
	t.Helper()
	if err := store.CreateAccount(context.Background(), &models.Account{ID: id, Email: email, Name: name, PasswordHash: "x"}); err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func TestGetCreatesProfileLazily(t *testing.T) {
	store := newTestStore(t)
	addAccount(t, store, "u1", "maria@example.com", "")
	svc := NewService(store, store, Options{DefaultLimit: 3}, nil)
	ctx := context.Background()

	p, err := svc.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Name != "maria" || p.Email != "maria@example.com" || p.MaxCredits != 3 || p.IsAdmin {
		t.Fatalf("unexpected lazy profile: %+v", p)
	}

	// A second call reads the stored row instead of recreating it.
	if err := store.SetUsageCount(ctx, "u1", 2); err != nil {
		t.Fatalf("SetUsageCount: %v", err)
	}
	again, err := svc.Get(ctx, "u1")
	if err != nil || again.UsageCount != 2 {
		t.Fatalf("Get again = %+v, %v", again, err)
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name, email, want string
	}{
		{"Ana Souza", "ana@x.com", "Ana Souza"},
		{"  ", "joao@x.com", "joao"},
		{"", "", fallbackName},
		{"", "@x.com", fallbackName},
	}
	for _, tt := range tests {
		if got := displayName(tt.name, tt.email); got != tt.want {
			t.Fatalf("displayName(%q, %q) = %q, want %q", tt.name, tt.email, got, tt.want)
		}
	}
}

func TestBootstrapAdminIsOptIn(t *testing.T) {
	store := newTestStore(t)
	addAccount(t, store, "boss", "boss@example.com", "Boss")
	ctx := context.Background()

	plain := NewService(store, store, Options{DefaultLimit: 3, BootstrapAdminLimit: 9999}, nil)
	p, err := plain.Get(ctx, "boss")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.IsAdmin {
		t.Fatalf("no elevation expected without a configured bootstrap email")
	}

	store2 := newTestStore(t)
	addAccount(t, store2, "boss", "boss@example.com", "Boss")
	core, logs := observer.New(zapcore.WarnLevel)
	elevating := NewService(store2, store2, Options{
		DefaultLimit:        3,
		BootstrapAdminEmail: " BOSS@example.com ",
		BootstrapAdminLimit: 9999,
	}, zap.New(core))
	p, err = elevating.Get(ctx, "boss")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !p.IsAdmin || p.MaxCredits != 9999 || p.Name != bootstrapName {
		t.Fatalf("expected bootstrap admin, got %+v", p)
	}
	if logs.FilterMessage("granting bootstrap admin on first login").Len() != 1 {
		t.Fatalf("elevation must be logged")
	}
}

func TestGetWithoutAccount(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, store, Options{DefaultLimit: 1}, nil)
	p, err := svc.Get(context.Background(), "orphan")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Name != fallbackName || p.MaxCredits != 1 {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if _, err := svc.Get(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for blank id")
	}
}

func TestCreditsAndUsage(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, nil, Options{DefaultLimit: 3}, nil)
	ctx := context.Background()
	if _, err := svc.Get(ctx, "u1"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := svc.UpdateCreditLimit(ctx, "u1", -1); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("expected ErrInvalidLimit, got %v", err)
	}
	if err := svc.UpdateCreditLimit(ctx, "u1", 12); err != nil {
		t.Fatalf("UpdateCreditLimit: %v", err)
	}
	if err := svc.UpdateCreditLimit(ctx, "ghost", 12); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.IncrementUsage(ctx, "u1"); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	if err := svc.ResetUsage(ctx, "u1"); err != nil {
		t.Fatalf("ResetUsage: %v", err)
	}
	p, _ := svc.Get(ctx, "u1")
	if p.MaxCredits != 12 || p.UsageCount != 0 {
		t.Fatalf("unexpected profile: %+v", p)
	}
}

func TestListEmpty(t *testing.T) {
	svc := NewService(newTestStore(t), nil, Options{}, nil)
	list, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", list)
	}
}

func TestAppendAnalysisRecord(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, nil, Options{}, nil)
	ctx := context.Background()
	result := models.AnalysisResult{Recommendation: models.RecommendationInterview, MatchScore: 80, Summary: "ok", Pros: []string{}, Cons: []string{}}
	if err := svc.AppendAnalysisRecord(ctx, "u1", "cv.pdf", "Backend Engineer", result); err != nil {
		t.Fatalf("AppendAnalysisRecord: %v", err)
	}
	if err := svc.AppendAnalysisRecord(ctx, "", "cv.pdf", "x", result); err == nil {
		t.Fatalf("expected error without user id")
	}
	if n, _ := store.CountAnalyses(ctx, "u1"); n != 1 {
		t.Fatalf("expected one record, got %d", n)
	}
}
