package models

// StatusHistoryEntry is a historical status snapshot for a project,
// distinct from a ProjectUpdate. Used to reconstruct status-over-time.
type StatusHistoryEntry struct {
	ID           string `json:"id"`
	ProjectKey   string `json:"projectKey"`
	CreationDate string `json:"creationDate"`
	StartDate    string `json:"startDate"`
	TargetDate   string `json:"targetDate"`
	State        string `json:"state"`
}
