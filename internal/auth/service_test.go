package auth

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"cvtriage/internal/config"
	"cvtriage/internal/redis"
	"cvtriage/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{Driver: "sqlite3", DSN: ":memory:"}, "")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return storage.New(db, "sqlite3")
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(openTestStore(t), nil, time.Hour, nil)
	ctx := context.Background()

	acct, err := svc.SignUp(ctx, " Ana@Example.com ", "Ana", "segredo1")
	if err != nil {
		t.Fatalf("SignUp error: %v", err)
	}
	if acct.Email != "ana@example.com" || acct.PasswordHash == "segredo1" {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if _, err := svc.SignUp(ctx, "ana@example.com", "", "outrasenha"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if _, err := svc.SignUp(ctx, "not-an-email", "", "segredo1"); err == nil {
		t.Fatalf("expected invalid email error")
	}
	if _, err := svc.SignUp(ctx, "b@example.com", "", "123"); err == nil {
		t.Fatalf("expected short password error")
	}

	if _, err := svc.SignIn(ctx, "ana@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.SignIn(ctx, "ghost@example.com", "segredo1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
	sess, err := svc.SignIn(ctx, "ANA@example.com", "segredo1")
	if err != nil {
		t.Fatalf("SignIn error: %v", err)
	}
	userID, err := svc.ValidateToken(ctx, sess.Token)
	if err != nil || userID != acct.ID {
		t.Fatalf("ValidateToken failed: id=%s err=%v", userID, err)
	}
}

func TestAuthIssueValidateRevoke(t *testing.T) {
	store := openTestStore(t)
	svc := NewService(store, nil, time.Hour, nil)
	ctx := context.Background()
	acct, err := svc.SignUp(ctx, "u@example.com", "", "segredo1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	token, _, err := svc.IssueToken(ctx, acct.ID)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken error: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after revoke, got %v", err)
	}

	token2, _, err := svc.IssueToken(ctx, acct.ID)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if err := svc.RevokeAccountTokens(ctx, acct.ID); err != nil {
		t.Fatalf("RevokeAccountTokens error: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token2); err == nil {
		t.Fatalf("expected error after revoke all")
	}
	if _, _, err := svc.IssueToken(ctx, ""); err == nil {
		t.Fatalf("expected error for empty account id")
	}
}

func TestAuthValidateExpiredToken(t *testing.T) {
	store := openTestStore(t)
	svc := NewService(store, nil, 10*time.Millisecond, nil)
	ctx := context.Background()
	acct, err := svc.SignUp(ctx, "exp@example.com", "", "segredo1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	token, _, err := svc.IssueToken(ctx, acct.ID)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.ValidateToken(ctx, token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiration error, got %v", err)
	}
	// ensure token removed
	if _, _, err := store.TokenOwner(ctx, token); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired token not purged: %v", err)
	}
}

func TestSignOutPublishesEvent(t *testing.T) {
	svc := NewService(openTestStore(t), nil, time.Hour, nil)
	ctx := context.Background()
	if _, err := svc.SignUp(ctx, "ev@example.com", "", "segredo1"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	var events []Event
	unsubscribe := svc.Subscribe(func(evt Event) { events = append(events, evt) })
	defer unsubscribe()

	sess, err := svc.SignIn(ctx, "ev@example.com", "segredo1")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := svc.SignOut(ctx, sess.Token); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if len(events) != 2 || events[0].Type != EventSignedIn || events[1].Type != EventSignedOut {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[1].UserID != sess.Account.ID || events[1].Origin != "" {
		t.Fatalf("unexpected sign out event: %+v", events[1])
	}
	if err := svc.SignOut(ctx, sess.Token); err != nil {
		t.Fatalf("second SignOut must be a no-op, got %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("unknown token must not publish, got %+v", events)
	}
}

func TestAuthTokenCacheUsesRedis(t *testing.T) {
	store := openTestStore(t)
	cacheClient, cleanup := newRedisCacheClient(t)
	defer cleanup()

	svc := NewService(store, cacheClient, time.Hour, nil)
	ctx := context.Background()
	acct, err := svc.SignUp(ctx, "cache@example.com", "", "segredo1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	token, _, err := svc.IssueToken(ctx, acct.ID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	key := redisTokenPrefix + token
	got, err := cacheClient.Get(ctx, key)
	if err != nil {
		t.Fatalf("get redis token: %v", err)
	}
	if got != acct.ID {
		t.Fatalf("expected user %s in rdb, got %s", acct.ID, got)
	}

	_ = store.DeleteToken(ctx, token)
	userID, err := svc.ValidateToken(ctx, token)
	if err != nil || userID != acct.ID {
		t.Fatalf("ValidateToken via rdb failed: id=%s err=%v", userID, err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := cacheClient.Get(ctx, key); err == nil {
		t.Fatalf("expected redis key deleted")
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("expected error after revoke and rdb delete")
	}
}

func newRedisCacheClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	client, err := redis.NewRedisClient(config.RedisConfig{Host: host, Port: port, DB: db})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if raw := client.Raw(); raw != nil {
		if err := raw.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush db: %v", err)
		}
	}
	return client, func() { client.Close() }
}
