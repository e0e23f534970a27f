package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"cvtriage/internal/models"
	"cvtriage/internal/notify"
	"cvtriage/internal/redis"
	"cvtriage/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const redisTokenPrefix = "cvtriage:auth:token:"

var (
	ErrInvalidCredentials = errors.New("Email ou senha incorretos.")
	ErrEmailTaken         = errors.New("Este email já está cadastrado.")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidAccount     = errors.New("invalid account data")
)

// Store is the account and token persistence used by Service.
type Store interface {
	CreateAccount(ctx context.Context, acct *models.Account) error
	AccountByEmail(ctx context.Context, email string) (*models.Account, error)
	AccountByID(ctx context.Context, id string) (*models.Account, error)
	InsertToken(ctx context.Context, token, accountID string, createdAt, expiresAt time.Time) error
	TokenOwner(ctx context.Context, token string) (string, time.Time, error)
	DeleteToken(ctx context.Context, token string) error
	DeleteAccountTokens(ctx context.Context, accountID string) ([]string, error)
}

// EventType names a session change.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventProfileUpdated EventType = "PROFILE_UPDATED"
)

// Event is published on every session change. Origin is empty for events
// raised in this process and carries the remote instance id otherwise.
type Event struct {
	Type   EventType `json:"type"`
	UserID string    `json:"user_id"`
	Origin string    `json:"origin,omitempty"`
	At     time.Time `json:"at"`
}

// Session is the result of a successful sign-in.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Account   *models.Account
}

// Service is the authentication collaborator: accounts, credentials and
// opaque bearer tokens, with session-change events.
type Service struct {
	store          Store
	cache          *redis.Client
	events         *notify.Hub[Event]
	logger         *zap.Logger
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs an auth service. cache may be nil.
func NewService(store Store, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:          store,
		cache:          cache,
		events:         notify.NewHub[Event](),
		logger:         logger,
		tokenTTL:       ttl,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// SignUp creates an account. It does not sign the caller in.
func (s *Service) SignUp(ctx context.Context, email, name, password string) (*models.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidAccount)
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must have at least 6 characters", ErrInvalidAccount)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	acct := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("account created", zap.String("user_id", acct.ID))
	return acct, nil
}

// SignIn checks credentials and issues a token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	acct, err := s.store.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	token, expiresAt, err := s.IssueToken(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	s.publish(EventSignedIn, acct.ID)
	return &Session{Token: token, ExpiresAt: expiresAt, Account: acct}, nil
}

// SignOut revokes the token and announces the change.
func (s *Service) SignOut(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	userID, _, err := s.store.TokenOwner(ctx, authToken)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("lookup token: %w", err)
	}
	if err := s.RevokeToken(ctx, authToken); err != nil {
		return err
	}
	if userID != "" {
		s.publish(EventSignedOut, userID)
	}
	return nil
}

// Account returns the account behind id.
func (s *Service) Account(ctx context.Context, id string) (*models.Account, error) {
	return s.store.AccountByID(ctx, id)
}

// AccountByEmail returns the account registered under email.
func (s *Service) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.store.AccountByEmail(ctx, email)
}

// IssueToken mints a new random token for the account and persists it.
func (s *Service) IssueToken(ctx context.Context, accountID string) (string, time.Time, error) {
	if accountID == "" {
		return "", time.Time{}, errors.New("invalid account id")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	for i := 0; i < 5; i++ {
		token, err := generateToken()
		if err != nil {
			return "", time.Time{}, err
		}
		err = s.store.InsertToken(ctx, token, accountID, now, expiresAt)
		if errors.Is(err, storage.ErrDuplicate) {
			continue
		}
		if err != nil {
			return "", time.Time{}, err
		}
		s.cacheToken(ctx, token, accountID, s.tokenTTL)
		return token, expiresAt, nil
	}
	return "", time.Time{}, errors.New("could not issue token")
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken verifies the token exists and has not expired, returning the account id.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", errors.New("token required")
	}
	if s.cache != nil {
		if userID, err := s.cache.Get(ctx, redisTokenPrefix+authToken); err == nil && userID != "" {
			return userID, nil
		} else if err != nil && !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Debug("token cache lookup failed", zap.Error(err))
		}
	}
	userID, expires, err := s.store.TokenOwner(ctx, authToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	remaining := time.Until(expires)
	if remaining <= 0 {
		_ = s.store.DeleteToken(ctx, authToken)
		return "", ErrTokenExpired
	}
	s.cacheToken(ctx, authToken, userID, remaining)
	return userID, nil
}

// RevokeToken deletes a single token.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	if err := s.store.DeleteToken(ctx, authToken); err != nil {
		return err
	}
	s.uncache(ctx, authToken)
	return nil
}

// RevokeAccountTokens removes all tokens belonging to the account.
func (s *Service) RevokeAccountTokens(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	tokens, err := s.store.DeleteAccountTokens(ctx, accountID)
	if err != nil {
		return err
	}
	s.uncache(ctx, tokens...)
	s.publish(EventSignedOut, accountID)
	return nil
}

// Subscribe registers fn for session-change events.
func (s *Service) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

// NotifyProfileChanged announces that a user's profile was modified.
func (s *Service) NotifyProfileChanged(userID string) {
	s.publish(EventProfileUpdated, userID)
}

func (s *Service) publish(typ EventType, userID string) {
	s.events.Publish(Event{Type: typ, UserID: userID, At: time.Now().UTC()})
}

// deliver republishes an event received from another instance.
func (s *Service) deliver(evt Event) {
	s.events.Publish(evt)
}

func (s *Service) cacheToken(ctx context.Context, token, userID string, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, redisTokenPrefix+token, userID, ttl); err != nil {
		s.logger.Debug("token cache write failed", zap.Error(err))
	}
}

func (s *Service) uncache(ctx context.Context, tokens ...string) {
	if s.cache == nil || len(tokens) == 0 {
		return
	}
	keys := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		keys = append(keys, redisTokenPrefix+tok)
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		s.logger.Debug("token cache delete failed", zap.Error(err))
	}
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}
