package models

import "time"

// Recommendation is the binary verdict produced for a candidate.
type Recommendation string

const (
	RecommendationInterview Recommendation = "INTERVIEW"
	RecommendationDiscard   Recommendation = "DISCARD"
)

// AnalysisResult is the normalized model output for one resume.
// MatchScore is not clamped; the model may return values outside 0-100.
type AnalysisResult struct {
	Recommendation Recommendation `json:"recommendation"`
	MatchScore     int            `json:"matchScore"`
	Summary        string         `json:"summary"`
	Pros           []string       `json:"pros"`
	Cons           []string       `json:"cons"`
}

// AnalysisRecord is the append-only audit copy of a completed analysis.
type AnalysisRecord struct {
	ID            int64          `json:"id"`
	UserID        string         `json:"user_id"`
	CandidateName string         `json:"candidate_name"`
	JobTitle      string         `json:"job_title"`
	Result        AnalysisResult `json:"result"`
	CreatedAt     time.Time      `json:"created_at"`
}
