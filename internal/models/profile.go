package models

import "time"

// Profile is the per-user credit record kept in the profiles table.
type Profile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	IsAdmin    bool      `json:"is_admin"`
	MaxCredits int       `json:"max_credits"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreditsLeft reports how many analyses remain before the limit is reached.
func (p *Profile) CreditsLeft() int {
	if p == nil || p.UsageCount >= p.MaxCredits {
		return 0
	}
	return p.MaxCredits - p.UsageCount
}

// Account is an authentication identity.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
