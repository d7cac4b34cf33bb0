package models

import (
	"encoding/json"
	"time"
)

// ProjectRef identifies a project link found on an Atlas page.
// The same project key under two different workspaces is two distinct refs.
type ProjectRef struct {
	WorkspaceID string `json:"workspaceId"`
	SectionID   string `json:"sectionId"`
	ProjectKey  string `json:"projectKey"`
}

// DedupKey returns the identity used to deduplicate scanned refs.
func (r ProjectRef) DedupKey() string {
	return r.WorkspaceID + "/" + r.ProjectKey
}

// ProjectSnapshot is the cached project-view payload for one project key.
// Raw is the opaque metadata object returned by the Atlas API; nothing
// outside the atlas package assumes its internal shape.
type ProjectSnapshot struct {
	ProjectKey string          `json:"projectKey"`
	Raw        json.RawMessage `json:"raw"`
	FetchedAt  time.Time       `json:"fetchedAt"`
}
