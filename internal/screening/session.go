package screening

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"

	"cvtriage/internal/logger"
	"cvtriage/internal/models"
	"cvtriage/internal/notify"
	"cvtriage/internal/service/ai"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType names a session change pushed to observers.
type EventType string

const (
	EventFile   EventType = "file"
	EventUsage  EventType = "usage"
	EventNotice EventType = "notice"
	EventDone   EventType = "done"
)

// Event is one observable session change.
type Event struct {
	Type   EventType             `json:"type"`
	File   *models.CandidateFile `json:"file,omitempty"`
	Usage  int                   `json:"usage_count"`
	Limit  int                   `json:"max_credits"`
	Notice string                `json:"notice,omitempty"`
	Report *RunReport            `json:"report,omitempty"`
}

// RunReport summarizes a finished run.
type RunReport struct {
	Analyzed int    `json:"analyzed"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
	Aborted  bool   `json:"aborted"`
	Notice   string `json:"notice,omitempty"`
	Usage    int    `json:"usage_count"`
	Limit    int    `json:"max_credits"`
}

// Stats are the dashboard counters.
type Stats struct {
	Completed  int  `json:"completed"`
	Interviews int  `json:"interviews"`
	HasPending bool `json:"has_pending"`
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	Job     models.JobConfig        `json:"job"`
	Files   []*models.CandidateFile `json:"files"`
	Usage   int                     `json:"usage_count"`
	Limit   int                     `json:"max_credits"`
	Notice  string                  `json:"notice,omitempty"`
	Running bool                    `json:"running"`
	Stats   Stats                   `json:"stats"`
}

// Session is one user's screening workspace: the job profile, the queued
// files and the displayed usage counter. Files are analyzed one at a time.
type Session struct {
	userID string
	deps   *deps
	logger *zap.Logger
	events *notify.Hub[Event]

	mu      sync.Mutex
	job     models.JobConfig
	files   []*models.CandidateFile
	usage   int
	limit   int
	notice  string
	running bool

	// stored is the highest usage count reported by the ledger or the
	// profile; inflight counts increments fired but not yet resolved.
	// The displayed usage is stored + inflight.
	stored   int
	inflight int
}

func newSession(userID string, d *deps) *Session {
	return &Session{
		userID: userID,
		deps:   d,
		logger: logger.ForUser(d.logger, userID, ""),
		events: notify.NewHub[Event](),
		files:  []*models.CandidateFile{},
	}
}

// UserID returns the owner.
func (s *Session) UserID() string {
	return s.userID
}

// Subscribe registers fn for session events.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

// SetJob replaces the job profile. A running batch keeps the profile it
// started with.
func (s *Session) SetJob(job models.JobConfig) {
	s.mu.Lock()
	s.job = models.JobConfig{Title: strings.TrimSpace(job.Title), Requirements: strings.TrimSpace(job.Requirements)}
	s.mu.Unlock()
}

// Job returns the current job profile.
func (s *Session) Job() models.JobConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job
}

// AddFile queues a document in IDLE state.
func (s *Session) AddFile(name, mimeType string, data []byte) (*models.CandidateFile, error) {
	switch mimeType {
	case models.MIMETypePDF, models.MIMETypePNG, models.MIMETypeJPEG:
	default:
		return nil, ErrUnsupportedType
	}
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	f := &models.CandidateFile{
		ID:       uuid.NewString(),
		Name:     name,
		Size:     int64(len(data)),
		MIMEType: mimeType,
		Base64:   base64.StdEncoding.EncodeToString(data),
		Status:   models.StatusIdle,
	}
	s.mu.Lock()
	s.files = append(s.files, f)
	out := f.Clone()
	s.mu.Unlock()
	return out, nil
}

// RemoveFile drops a file. A file being analyzed is left alone and false
// is returned.
func (s *Session) RemoveFile(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.files {
		if f.ID != id {
			continue
		}
		if f.Status == models.StatusAnalyzing {
			return false
		}
		s.files = append(s.files[:i], s.files[i+1:]...)
		return true
	}
	return false
}

// Clear discards the job profile and every file.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunInProgress
	}
	s.job = models.JobConfig{}
	s.files = []*models.CandidateFile{}
	s.notice = ""
	return nil
}

// SyncProfile takes the authoritative usage and limit, keeping increments
// that have not resolved yet on top.
func (s *Session) SyncProfile(p *models.Profile) {
	if p == nil {
		return
	}
	s.mu.Lock()
	s.limit = p.MaxCredits
	s.stored = p.UsageCount
	s.usage = s.stored + s.inflight
	s.mu.Unlock()
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Job:     s.job,
		Files:   make([]*models.CandidateFile, 0, len(s.files)),
		Usage:   s.usage,
		Limit:   s.limit,
		Notice:  s.notice,
		Running: s.running,
	}
	for _, f := range s.files {
		snap.Files = append(snap.Files, f.Clone())
		switch {
		case f.Status == models.StatusCompleted:
			snap.Stats.Completed++
			if f.Result != nil && f.Result.Recommendation == models.RecommendationInterview {
				snap.Stats.Interviews++
			}
		case f.Status.Pending():
			snap.Stats.HasPending = true
		}
	}
	return snap
}

// Run starts a batch and waits for it to finish.
func (s *Session) Run(ctx context.Context) (*RunReport, error) {
	done, err := s.Start(ctx)
	if err != nil {
		return nil, err
	}
	report := <-done
	return &report, nil
}

// Start checks the run preconditions and, when they hold, analyzes every
// pending file in queue order on a separate goroutine. The channel receives
// the report once the batch ends. The batch is not cancelled with ctx.
func (s *Session) Start(ctx context.Context) (<-chan RunReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	if !s.job.Complete() {
		s.mu.Unlock()
		return nil, ErrJobIncomplete
	}
	if len(s.files) == 0 {
		s.mu.Unlock()
		return nil, ErrNoFiles
	}
	queue := make([]string, 0, len(s.files))
	for _, f := range s.files {
		if f.Status.Pending() {
			queue = append(queue, f.ID)
		}
	}
	if len(queue) == 0 {
		s.mu.Unlock()
		return nil, ErrNothingPending
	}
	s.running = true
	job := s.job
	s.mu.Unlock()

	profile, err := s.deps.profiles.Get(ctx, s.userID)
	if err != nil {
		s.setRunning(false)
		return nil, err
	}

	s.mu.Lock()
	s.limit = profile.MaxCredits
	s.stored = profile.UsageCount
	s.usage = s.stored + s.inflight
	estimate, limit := s.usage, s.limit
	if estimate >= limit {
		s.running = false
		s.mu.Unlock()
		return nil, ErrQuotaExceeded
	}
	s.notice = ""
	s.mu.Unlock()

	done := make(chan RunReport, 1)
	go func() {
		report := s.run(context.WithoutCancel(ctx), job, queue, estimate, limit)
		done <- report
		close(done)
	}()
	return done, nil
}

// Busy reports whether a batch is running or ledger increments are still
// unresolved.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running || s.inflight > 0
}

func (s *Session) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

// run walks the queue. estimate is the optimistic local usage: it grows by
// one per completed file and is never replaced by ledger results, so the
// pre-check does not wait on the ledger.
func (s *Session) run(ctx context.Context, job models.JobConfig, queue []string, estimate, limit int) RunReport {
	var report RunReport
	s.logger.Info("screening run started",
		zap.Int("queued", len(queue)),
		zap.Int("usage", estimate),
		zap.Int("limit", limit),
	)

	for i, id := range queue {
		if estimate >= limit {
			report.Aborted = true
			report.Notice = NoticeCreditsExhausted
			report.Skipped += len(queue) - i
			s.mu.Lock()
			s.notice = NoticeCreditsExhausted
			usage := s.usage
			s.mu.Unlock()
			s.events.Publish(Event{Type: EventNotice, Notice: NoticeCreditsExhausted, Usage: usage, Limit: limit})
			s.logger.Info("screening run stopped: credits exhausted", zap.Int("remaining", len(queue)-i))
			break
		}

		s.mu.Lock()
		f := s.findLocked(id)
		if f == nil || !f.Status.Pending() {
			s.mu.Unlock()
			report.Skipped++
			continue
		}
		f.Status = models.StatusAnalyzing
		f.ErrorMessage = ""
		doc := ai.Document{Name: f.Name, MIMEType: f.MIMEType, Base64: f.Base64}
		snapshot := f.Clone()
		s.mu.Unlock()
		s.events.Publish(Event{Type: EventFile, File: snapshot})

		result, err := s.deps.analyzer.Analyze(ctx, ai.Request{
			Document:     doc,
			JobTitle:     job.Title,
			Requirements: job.Requirements,
		})

		s.mu.Lock()
		if err != nil {
			f.Status = models.StatusError
			f.ErrorMessage = errorMessage(err)
		} else {
			f.Status = models.StatusCompleted
			f.Result = result
		}
		snapshot = f.Clone()
		s.mu.Unlock()
		s.events.Publish(Event{Type: EventFile, File: snapshot})

		if err != nil {
			report.Failed++
			s.logger.Warn("candidate analysis failed",
				zap.String(logger.FieldFileID, id),
				zap.String("kind", string(ai.KindOf(err))),
				zap.Error(err),
			)
			continue
		}
		report.Analyzed++
		estimate++
		s.recordCompletion(snapshot, job)
	}

	s.mu.Lock()
	s.running = false
	report.Usage = s.usage
	report.Limit = limit
	s.mu.Unlock()

	s.logger.Info("screening run finished",
		zap.Int("analyzed", report.Analyzed),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Bool("aborted", report.Aborted),
	)
	final := report
	s.events.Publish(Event{Type: EventDone, Usage: report.Usage, Limit: limit, Notice: report.Notice, Report: &final})
	return report
}

// recordCompletion fires the audit write and the ledger increment without
// waiting for either, then bumps the displayed usage.
func (s *Session) recordCompletion(file *models.CandidateFile, job models.JobConfig) {
	fields := logger.StringFields(
		logger.StringField{Key: logger.FieldUserID, Value: s.userID},
		logger.StringField{Key: logger.FieldFileID, Value: file.ID},
	)
	result := *file.Clone().Result
	s.deps.runner.Detach("analysis.persist", func(taskCtx context.Context) error {
		return s.deps.profiles.AppendAnalysisRecord(taskCtx, s.userID, file.Name, job.Title, result)
	}, fields...)

	s.mu.Lock()
	s.inflight++
	s.usage++
	usage, limit := s.usage, s.limit
	s.mu.Unlock()
	s.events.Publish(Event{Type: EventUsage, Usage: usage, Limit: limit})

	s.deps.runner.Detach("ledger.increment", func(taskCtx context.Context) error {
		count, err := s.deps.ledger.Increment(taskCtx, s.userID)
		s.reconcile(count, err)
		return err
	}, fields...)
}

// reconcile folds one resolved increment into the displayed usage.
// Results may arrive in any order; a lower count than one already seen is
// stale and only retires its increment. A failed increment is dropped.
func (s *Session) reconcile(count int, err error) {
	s.mu.Lock()
	s.inflight--
	if err == nil && count > s.stored {
		s.stored = count
	}
	s.usage = s.stored + s.inflight
	usage, limit := s.usage, s.limit
	s.mu.Unlock()
	s.events.Publish(Event{Type: EventUsage, Usage: usage, Limit: limit})
}

func (s *Session) findLocked(id string) *models.CandidateFile {
	for _, f := range s.files {
		if f.ID == id {
			return f
		}
	}
	return nil
}

func errorMessage(err error) string {
	var aiErr *ai.Error
	if errors.As(err, &aiErr) && aiErr.Message != "" {
		return aiErr.Message
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return ai.MsgUnknown
}
