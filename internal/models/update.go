package models

// QualityLevel is the qualitative band for an update-quality score.
type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
)

// LevelForScore maps a 0-100 quality score to its qualitative level.
func LevelForScore(score int) QualityLevel {
	switch {
	case score >= 80:
		return QualityExcellent
	case score >= 60:
		return QualityGood
	case score >= 40:
		return QualityFair
	default:
		return QualityPoor
	}
}

// UpdateType classifies a status update for quality analysis.
type UpdateType string

const (
	UpdateTypePaused         UpdateType = "paused"
	UpdateTypeOffTrack       UpdateType = "off-track"
	UpdateTypeAtRisk         UpdateType = "at-risk"
	UpdateTypeOnTrack        UpdateType = "on-track"
	UpdateTypePending        UpdateType = "pending"
	UpdateTypeDone           UpdateType = "done"
	UpdateTypePrioritization UpdateType = "prioritization"
)

// ProjectUpdate is one point-in-time status post for a project.
// Date fields are kept as the free-form strings the API returns; they are
// not guaranteed to be ISO timestamps.
type ProjectUpdate struct {
	ID           string `json:"id"`
	ProjectKey   string `json:"projectKey"`
	CreationDate string `json:"creationDate"`
	State        string `json:"state"`
	OldState     string `json:"oldState"`
	NewDueDate   string `json:"newDueDate"`
	OldDueDate   string `json:"oldDueDate"`
	Summary      string `json:"summary"`
	Details      string `json:"details"` // JSON-encoded array of note objects
	MissedUpdate bool   `json:"missedUpdate"`

	// Analysis fields, written by the quality analyzer.
	Analyzed               bool         `json:"analyzed"`
	UpdateQuality          *int         `json:"updateQuality,omitempty"`
	QualityLevel           QualityLevel `json:"qualityLevel,omitempty"`
	QualitySummary         string       `json:"qualitySummary,omitempty"`
	QualityRecommendations []string     `json:"qualityRecommendations,omitempty"`
	QualityMissingInfo     []string     `json:"qualityMissingInfo,omitempty"`
}
