package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cvtriage/internal/models"
)

const profileColumns = `id, name, email, is_admin, max_credits, usage_count, created_at`

// UpsertProfile inserts the profile or updates its identity, role and limit.
// usage_count is only written on insert so re-provisioning never resets usage.
func (s *Store) UpsertProfile(ctx context.Context, p *models.Profile) error {
	if p == nil || p.ID == "" {
		return errors.New("profile id required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var query string
	switch s.driver {
	case DriverMySQL:
		query = `INSERT INTO profiles (` + profileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), email = VALUES(email),
				is_admin = VALUES(is_admin), max_credits = VALUES(max_credits)`
	default:
		query = `INSERT INTO profiles (` + profileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email,
				is_admin = excluded.is_admin, max_credits = excluded.max_credits`
	}
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		p.ID, p.Name, p.Email, p.IsAdmin, p.MaxCredits, p.UsageCount, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetProfile returns the profile or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+profileColumns+` FROM profiles WHERE id = ?`), id)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// ListProfiles returns admins first, then the most recently created.
func (s *Store) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles ORDER BY is_admin DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return profiles, nil
}

// UpdateCreditLimit sets max_credits for the profile.
func (s *Store) UpdateCreditLimit(ctx context.Context, id string, limit int) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE profiles SET max_credits = ? WHERE id = ?`), limit, id)
	if err != nil {
		return fmt.Errorf("update credit limit: %w", err)
	}
	return s.requireAffected(ctx, res, id)
}

// UsageCount reads the current usage counter.
func (s *Store) UsageCount(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT usage_count FROM profiles WHERE id = ?`), id).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("read usage count: %w", err)
	}
	return count, nil
}

// SetUsageCount writes the usage counter unconditionally.
func (s *Store) SetUsageCount(ctx context.Context, id string, count int) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE profiles SET usage_count = ? WHERE id = ?`), count, id)
	if err != nil {
		return fmt.Errorf("write usage count: %w", err)
	}
	return s.requireAffected(ctx, res, id)
}

// IncrementUsage atomically adds one to usage_count and returns the new value.
// On postgres it calls the increment_usage(row_id) function; a missing
// function yields ErrProcedureUnavailable.
func (s *Store) IncrementUsage(ctx context.Context, id string) (int, error) {
	if !s.atomicIncrement {
		return 0, ErrProcedureUnavailable
	}
	switch s.driver {
	case DriverPostgres:
		var count sql.NullInt64
		err := s.db.QueryRowContext(ctx, `SELECT increment_usage($1)`, id).Scan(&count)
		if err != nil {
			if isUndefinedFunction(err) {
				return 0, ErrProcedureUnavailable
			}
			return 0, fmt.Errorf("increment usage: %w", err)
		}
		if !count.Valid {
			return 0, ErrNotFound
		}
		return int(count.Int64), nil
	case DriverMySQL:
		return s.incrementInTx(ctx, id)
	default:
		var count int
		err := s.db.QueryRowContext(ctx,
			`UPDATE profiles SET usage_count = usage_count + 1 WHERE id = ? RETURNING usage_count`, id).Scan(&count)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, ErrNotFound
			}
			return 0, fmt.Errorf("increment usage: %w", err)
		}
		return count, nil
	}
}

func (s *Store) incrementInTx(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin increment: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE profiles SET usage_count = usage_count + 1 WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return 0, ErrNotFound
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT usage_count FROM profiles WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("read incremented usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit increment: %w", err)
	}
	return count, nil
}

// AppendAnalysis stores the audit copy of a completed analysis.
func (s *Store) AppendAnalysis(ctx context.Context, rec *models.AnalysisRecord) error {
	if rec == nil {
		return errors.New("analysis record required")
	}
	payload, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encode analysis result: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	query := s.rebind(`INSERT INTO analyses (user_id, candidate_name, job_title, result, created_at) VALUES (?, ?, ?, ?, ?)`)
	if s.driver == DriverPostgres {
		err = s.db.QueryRowContext(ctx, query+` RETURNING id`,
			rec.UserID, rec.CandidateName, rec.JobTitle, string(payload), rec.CreatedAt).Scan(&rec.ID)
		if err != nil {
			return fmt.Errorf("insert analysis: %w", err)
		}
		return nil
	}
	res, err := s.db.ExecContext(ctx, query,
		rec.UserID, rec.CandidateName, rec.JobTitle, string(payload), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

// CountAnalyses returns how many records a user has accumulated.
func (s *Store) CountAnalyses(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM analyses WHERE user_id = ?`), userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count analyses: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.IsAdmin, &p.MaxCredits, &p.UsageCount, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// requireAffected maps a zero-row update to ErrNotFound. MySQL reports
// changed rows rather than matched rows, so a no-op update there is
// confirmed with an existence check.
func (s *Store) requireAffected(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if s.driver == DriverMySQL {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM profiles WHERE id = ?`, id).Scan(&one)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check profile: %w", err)
		}
	}
	return ErrNotFound
}
