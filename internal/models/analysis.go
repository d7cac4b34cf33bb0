package models

import "time"

// UpdateAnalysis is the analyzer output persisted onto a ProjectUpdate row.
// A nil Score with a non-empty Summary is the fallback marker written when
// analysis itself failed, so the row is not silently left unanalyzed.
type UpdateAnalysis struct {
	Score           *int
	Level           QualityLevel
	Summary         string
	Recommendations []string
	MissingInfo     []string
}

// FetchRecord is one row of the fetch log, recording the outcome of a
// single remote query during a pipeline run.
type FetchRecord struct {
	ID         string
	ProjectKey string
	Query      string // project-view | status-history | updates
	OK         bool
	Error      string
	CreatedAt  time.Time
}
