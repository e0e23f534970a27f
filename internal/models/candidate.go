package models

import "strings"

// AnalysisStatus tracks a candidate file through the screening run.
type AnalysisStatus string

const (
	StatusIdle      AnalysisStatus = "IDLE"
	StatusAnalyzing AnalysisStatus = "ANALYZING"
	StatusCompleted AnalysisStatus = "COMPLETED"
	StatusError     AnalysisStatus = "ERROR"
)

// Pending reports whether a file in this state is eligible for the next run.
func (s AnalysisStatus) Pending() bool {
	return s == StatusIdle || s == StatusError
}

// Accepted upload MIME types.
const (
	MIMETypePDF  = "application/pdf"
	MIMETypePNG  = "image/png"
	MIMETypeJPEG = "image/jpeg"
)

// JobConfig is the job profile candidates are screened against.
type JobConfig struct {
	Title        string `json:"title"`
	Requirements string `json:"requirements"`
}

// Complete reports whether both fields carry non-blank text.
func (j JobConfig) Complete() bool {
	return strings.TrimSpace(j.Title) != "" && strings.TrimSpace(j.Requirements) != ""
}

// CandidateFile is one uploaded resume held in a screening session.
type CandidateFile struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Size         int64           `json:"size"`
	MIMEType     string          `json:"mime_type"`
	Base64       string          `json:"-"`
	Status       AnalysisStatus  `json:"status"`
	Result       *AnalysisResult `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Clone returns a copy safe to hand to observers.
func (f *CandidateFile) Clone() *CandidateFile {
	if f == nil {
		return nil
	}
	out := *f
	if f.Result != nil {
		res := *f.Result
		res.Pros = copyList(f.Result.Pros)
		res.Cons = copyList(f.Result.Cons)
		out.Result = &res
	}
	return &out
}

// copyList always returns a non-nil slice so empty lists encode as [].
func copyList(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
