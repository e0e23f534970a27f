package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cvtriage/internal/models"
	"cvtriage/internal/notify"
	"cvtriage/internal/storage"

	"go.uber.org/zap"
)

// ErrAccessDenied is returned when an admin-mode login resolves to a client.
var ErrAccessDenied = errors.New("Acesso Negado: Este usuário não possui privilégios administrativos.")

// Mode is the entry point a login came through.
type Mode string

const (
	ModeClient Mode = "client"
	ModeAdmin  Mode = "admin"
)

// ParseMode maps a request value onto a Mode. Blank means client.
func ParseMode(v string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(v))) {
	case "", ModeClient:
		return ModeClient, nil
	case ModeAdmin:
		return ModeAdmin, nil
	default:
		return "", fmt.Errorf("unknown login mode %q", v)
	}
}

// Profiles resolves and writes credit profiles.
type Profiles interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
	Upsert(ctx context.Context, p *models.Profile) error
}

// Login is a successful gate login.
type Login struct {
	Session *Session
	Profile *models.Profile
}

// Gate establishes identity: it resolves sessions to profiles, enforces the
// admin entry point and watches for session changes.
type Gate struct {
	auth     *Service
	profiles Profiles
	logger   *zap.Logger
}

// NewGate wires the gate to its collaborators.
func NewGate(auth *Service, profiles Profiles, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{auth: auth, profiles: profiles, logger: logger}
}

// Auth exposes the underlying authentication service.
func (g *Gate) Auth() *Service {
	return g.auth
}

// Login signs in and resolves the profile. In admin mode a non-admin
// identity is signed out again and ErrAccessDenied is returned.
func (g *Gate) Login(ctx context.Context, email, password string, mode Mode) (*Login, error) {
	sess, err := g.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	profile, err := g.profiles.Get(ctx, sess.Account.ID)
	if err != nil {
		_ = g.auth.SignOut(ctx, sess.Token)
		return nil, fmt.Errorf("resolve profile: %w", err)
	}
	if mode == ModeAdmin && !profile.IsAdmin {
		if err := g.auth.SignOut(ctx, sess.Token); err != nil {
			g.logger.Error("sign out after denied admin login failed", zap.String("user_id", profile.ID), zap.Error(err))
		}
		g.logger.Warn("admin login denied", zap.String("user_id", profile.ID))
		return nil, ErrAccessDenied
	}
	g.logger.Info("login", zap.String("user_id", profile.ID), zap.String("mode", string(mode)))
	return &Login{Session: sess, Profile: profile}, nil
}

// Logout revokes the token.
func (g *Gate) Logout(ctx context.Context, token string) error {
	return g.auth.SignOut(ctx, token)
}

// Resolve returns the profile behind a token.
func (g *Gate) Resolve(ctx context.Context, token string) (*models.Profile, error) {
	userID, err := g.auth.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return g.profiles.Get(ctx, userID)
}

// NewUser describes an account created out of band.
type NewUser struct {
	Email      string
	Name       string
	Password   string
	IsAdmin    bool
	MaxCredits int
}

// Register creates an account and its profile without signing anyone in.
// An already registered email is not an error: its profile is updated.
func (g *Gate) Register(ctx context.Context, u NewUser) (*models.Profile, error) {
	acct, err := g.auth.SignUp(ctx, u.Email, u.Name, u.Password)
	if errors.Is(err, ErrEmailTaken) {
		acct, err = g.auth.AccountByEmail(ctx, u.Email)
		if err == nil {
			g.logger.Info("account already registered, updating profile", zap.String("user_id", acct.ID))
		}
	}
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = acct.Name
	}
	if name == "" {
		name = displayNameFromEmail(acct.Email)
	}
	p := &models.Profile{
		ID:         acct.ID,
		Name:       name,
		Email:      acct.Email,
		IsAdmin:    u.IsAdmin,
		MaxCredits: u.MaxCredits,
	}
	if err := g.profiles.Upsert(ctx, p); err != nil {
		return nil, err
	}
	g.auth.NotifyProfileChanged(acct.ID)
	return g.profiles.Get(ctx, acct.ID)
}

func displayNameFromEmail(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}

// Watcher follows one client session. It re-resolves the profile whenever
// the user's session changes and fans the result out to its listeners.
// A nil profile means signed out.
type Watcher struct {
	gate  *Gate
	token string

	mu      sync.RWMutex
	userID  string
	current *models.Profile

	listeners *notify.Hub[*models.Profile]
	stop      func()
	closeOnce sync.Once
}

// Bootstrap resolves the session behind token and starts watching it. An
// invalid or expired token yields a watcher with no current user.
func (g *Gate) Bootstrap(ctx context.Context, token string) (*Watcher, error) {
	w := &Watcher{gate: g, token: token, listeners: notify.NewHub[*models.Profile]()}
	if token != "" {
		userID, err := g.auth.ValidateToken(ctx, token)
		switch {
		case err == nil:
			profile, err := g.profiles.Get(ctx, userID)
			if err != nil {
				return nil, err
			}
			w.userID = userID
			w.current = profile
		case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenExpired):
		default:
			return nil, err
		}
	}
	w.stop = g.auth.Subscribe(w.handle)
	return w, nil
}

// Current returns the resolved profile or nil.
func (w *Watcher) Current() *models.Profile {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn. When a user is already resolved fn is called once
// immediately. The returned function removes fn and is safe to call twice.
func (w *Watcher) OnChange(fn func(*models.Profile)) (unsubscribe func()) {
	unsubscribe = w.listeners.Subscribe(fn)
	if cur := w.Current(); cur != nil && fn != nil {
		fn(cur)
	}
	return unsubscribe
}

// Close stops watching session events.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		if w.stop != nil {
			w.stop()
		}
	})
}

func (w *Watcher) handle(evt Event) {
	w.mu.RLock()
	userID := w.userID
	w.mu.RUnlock()
	if userID == "" || evt.UserID != userID {
		return
	}

	ctx := context.Background()
	var next *models.Profile
	if _, err := w.gate.auth.ValidateToken(ctx, w.token); err == nil {
		profile, err := w.gate.profiles.Get(ctx, userID)
		if err != nil {
			w.gate.logger.Warn("re-resolve profile failed", zap.String("user_id", userID), zap.Error(err))
			return
		}
		next = profile
	} else if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrTokenExpired) && !errors.Is(err, storage.ErrNotFound) {
		w.gate.logger.Warn("re-validate session failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = next
	if next == nil {
		w.userID = ""
	}
	w.mu.Unlock()
	w.listeners.Publish(next)
}
