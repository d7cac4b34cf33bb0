package pipeline

import (
	"time"

	"github.com/jordanlewiz/atlas-xray/internal/models"
)

// Stage is one step of the pipeline's four-stage state machine. The
// quiescent stage is always StageIdle; Error is an orthogonal field set
// alongside idle, not a separate stage.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageScanning         Stage = "scanning"
	StageFetchingProjects Stage = "fetching-projects"
	StageFetchingUpdates  Stage = "fetching-updates"
	StageQueuingAnalysis  Stage = "queuing-analysis"
)

// State is a snapshot of pipeline progress. Values returned to subscribers
// are defensive copies; mutating one never corrupts the pipeline.
type State struct {
	ProjectsOnPage         int                 `json:"projectsOnPage"`
	ProjectIDs             []models.ProjectRef `json:"projectIds"`
	ProjectsStored         int                 `json:"projectsStored"`
	ProjectUpdatesStored   int                 `json:"projectUpdatesStored"`
	ProjectUpdatesAnalysed int                 `json:"projectUpdatesAnalysed"`
	IsProcessing           bool                `json:"isProcessing"`
	LastUpdated            time.Time           `json:"lastUpdated"`
	CurrentStage           Stage               `json:"currentStage"`
	Error                  string              `json:"error,omitempty"`
}

// clone returns a deep copy safe to hand to external consumers.
func (s State) clone() State {
	out := s
	out.ProjectIDs = make([]models.ProjectRef, len(s.ProjectIDs))
	copy(out.ProjectIDs, s.ProjectIDs)
	return out
}
