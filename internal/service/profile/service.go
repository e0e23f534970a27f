// Package profile manages credit profiles and the analysis audit trail.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cvtriage/internal/models"
	"cvtriage/internal/storage"

	"go.uber.org/zap"
)

const (
	fallbackName  = "Novo Usuário"
	bootstrapName = "Admin Principal"
)

// ErrInvalidLimit is returned for negative credit limits.
var ErrInvalidLimit = errors.New("credit limit must be zero or positive")

// Store is the row-store surface used by the service.
type Store interface {
	UpsertProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	ListProfiles(ctx context.Context) ([]*models.Profile, error)
	UpdateCreditLimit(ctx context.Context, id string, limit int) error
	SetUsageCount(ctx context.Context, id string, count int) error
	AppendAnalysis(ctx context.Context, rec *models.AnalysisRecord) error
}

// AccountLookup resolves the identity behind a profile id.
type AccountLookup interface {
	AccountByID(ctx context.Context, id string) (*models.Account, error)
}

// Options carries the credit defaults.
type Options struct {
	DefaultLimit        int
	BootstrapAdminEmail string
	BootstrapAdminLimit int
}

// Service exposes profile operations.
type Service struct {
	store    Store
	accounts AccountLookup
	opts     Options
	logger   *zap.Logger
}

// NewService builds a profile service. accounts may be nil, in which case
// lazily created profiles carry only the id.
func NewService(store Store, accounts AccountLookup, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultLimit < 0 {
		opts.DefaultLimit = 0
	}
	opts.BootstrapAdminEmail = strings.ToLower(strings.TrimSpace(opts.BootstrapAdminEmail))
	return &Service{store: store, accounts: accounts, opts: opts, logger: logger}
}

// Get returns the profile for id, creating it on first use.
func (s *Service) Get(ctx context.Context, id string) (*models.Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("profile id is required")
	}
	p, err := s.store.GetProfile(ctx, id)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	var acct *models.Account
	if s.accounts != nil {
		acct, err = s.accounts.AccountByID(ctx, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("resolve account: %w", err)
		}
	}
	p = s.newProfile(id, acct)
	if err := s.store.UpsertProfile(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("profile created",
		zap.String("user_id", id),
		zap.Bool("is_admin", p.IsAdmin),
		zap.Int("max_credits", p.MaxCredits),
	)
	return p, nil
}

func (s *Service) newProfile(id string, acct *models.Account) *models.Profile {
	p := &models.Profile{ID: id, MaxCredits: s.opts.DefaultLimit}
	if acct != nil {
		p.Email = acct.Email
		p.Name = displayName(acct.Name, acct.Email)
	} else {
		p.Name = fallbackName
	}
	if s.opts.BootstrapAdminEmail != "" && strings.EqualFold(p.Email, s.opts.BootstrapAdminEmail) {
		s.logger.Warn("granting bootstrap admin on first login", zap.String("email", p.Email))
		p.IsAdmin = true
		p.MaxCredits = s.opts.BootstrapAdminLimit
		p.Name = bootstrapName
	}
	return p
}

func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return fallbackName
}

// Upsert writes a profile as given. Usage is preserved for existing rows.
func (s *Service) Upsert(ctx context.Context, p *models.Profile) error {
	return s.store.UpsertProfile(ctx, p)
}

// List returns all profiles, admins first then newest.
func (s *Service) List(ctx context.Context) ([]*models.Profile, error) {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = []*models.Profile{}
	}
	return profiles, nil
}

// UpdateCreditLimit sets a user's limit.
func (s *Service) UpdateCreditLimit(ctx context.Context, id string, limit int) error {
	if limit < 0 {
		return ErrInvalidLimit
	}
	return s.store.UpdateCreditLimit(ctx, id, limit)
}

// ResetUsage is the administrative reset of the usage counter.
func (s *Service) ResetUsage(ctx context.Context, id string) error {
	return s.store.SetUsageCount(ctx, id, 0)
}

// AppendAnalysisRecord stores the audit copy of one completed analysis.
func (s *Service) AppendAnalysisRecord(ctx context.Context, userID, candidateName, jobTitle string, result models.AnalysisResult) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	return s.store.AppendAnalysis(ctx, &models.AnalysisRecord{
		UserID:        userID,
		CandidateName: candidateName,
		JobTitle:      jobTitle,
		Result:        result,
	})
}
