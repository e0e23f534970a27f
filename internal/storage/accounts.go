package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cvtriage/internal/models"
)

// CreateAccount inserts a new identity. Emails are stored lower-cased and
// a duplicate email yields ErrDuplicate.
func (s *Store) CreateAccount(ctx context.Context, acct *models.Account) error {
	if acct == nil || acct.ID == "" {
		return errors.New("account id required")
	}
	acct.Email = strings.ToLower(strings.TrimSpace(acct.Email))
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO accounts (id, email, name, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`),
		acct.ID, acct.Email, acct.Name, acct.PasswordHash, acct.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// AccountByEmail looks an account up by its login identifier.
func (s *Store) AccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.account(ctx, `SELECT id, email, name, password_hash, created_at FROM accounts WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)))
}

// AccountByID looks an account up by id.
func (s *Store) AccountByID(ctx context.Context, id string) (*models.Account, error) {
	return s.account(ctx, `SELECT id, email, name, password_hash, created_at FROM accounts WHERE id = ?`, id)
}

func (s *Store) account(ctx context.Context, query string, arg string) (*models.Account, error) {
	var acct models.Account
	err := s.db.QueryRowContext(ctx, s.rebind(query), arg).
		Scan(&acct.ID, &acct.Email, &acct.Name, &acct.PasswordHash, &acct.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	return &acct, nil
}

// InsertToken persists an auth token for an account.
func (s *Store) InsertToken(ctx context.Context, token, accountID string, createdAt, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO auth_tokens (token, account_id, created_at, expires_at) VALUES (?, ?, ?, ?)`),
		token, accountID, createdAt, expiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// TokenOwner returns the account id and expiry for a token.
func (s *Store) TokenOwner(ctx context.Context, token string) (string, time.Time, error) {
	var (
		accountID string
		expires   time.Time
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT account_id, expires_at FROM auth_tokens WHERE token = ?`), token,
	).Scan(&accountID, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, ErrNotFound
		}
		return "", time.Time{}, fmt.Errorf("lookup token: %w", err)
	}
	return accountID, expires, nil
}

// DeleteToken removes a single token.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM auth_tokens WHERE token = ?`), token); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// DeleteAccountTokens removes every token of an account and returns them.
func (s *Store) DeleteAccountTokens(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT token FROM auth_tokens WHERE account_id = ?`), accountID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM auth_tokens WHERE account_id = ?`), accountID); err != nil {
		return nil, fmt.Errorf("delete account tokens: %w", err)
	}
	return tokens, nil
}
