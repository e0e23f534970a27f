// Package screening runs candidate analysis batches for each user.
package screening

import (
	"context"
	"sync"

	"cvtriage/internal/models"
	"cvtriage/internal/service/ai"
	"cvtriage/internal/worker"

	"go.uber.org/zap"
)

// Analyzer screens one document.
type Analyzer interface {
	Analyze(ctx context.Context, req ai.Request) (*models.AnalysisResult, error)
}

// Ledger increments the stored usage counter.
type Ledger interface {
	Increment(ctx context.Context, userID string) (int, error)
}

// Profiles resolves credit profiles and stores analysis records.
type Profiles interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
	AppendAnalysisRecord(ctx context.Context, userID, candidateName, jobTitle string, result models.AnalysisResult) error
}

// Runner executes detached side effects. *worker.Pool implements it.
type Runner interface {
	Detach(name string, fn worker.Func, fields ...zap.Field)
}

type deps struct {
	analyzer Analyzer
	ledger   Ledger
	profiles Profiles
	runner   Runner
	logger   *zap.Logger
}

// Manager owns one Session per user.
type Manager struct {
	deps *deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires the orchestrator to its collaborators.
func NewManager(analyzer Analyzer, ledger Ledger, profiles Profiles, runner Runner, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		deps: &deps{
			analyzer: analyzer,
			ledger:   ledger,
			profiles: profiles,
			runner:   runner,
			logger:   logger,
		},
		sessions: make(map[string]*Session),
	}
}

// Session returns the user's session, creating an empty one on first use.
func (m *Manager) Session(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		s = newSession(userID, m.deps)
		m.sessions[userID] = s
	}
	return s
}

// Lookup returns the user's session if one exists.
func (m *Manager) Lookup(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// ResetUser forgets the user's session and reports whether it did. A busy
// session is kept so a later run still sees its pending usage.
func (m *Manager) ResetUser(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return true
	}
	if s.Busy() {
		return false
	}
	delete(m.sessions, userID)
	return true
}

// Len reports how many sessions are held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
