package atlas

import (
	"encoding/json"
	"strings"

	"github.com/jordanlewiz/atlas-xray/internal/models"
)

// stateValue is the { value: "..." } wrapper Atlas uses for status tags.
type stateValue struct {
	Value string `json:"value"`
}

// StatusHistoryNode is one status-history snapshot as returned by the API.
type StatusHistoryNode struct {
	ID            string     `json:"id"`
	CreationDate  string     `json:"creationDate"`
	StartDate     string     `json:"startDate"`
	NewTargetDate string     `json:"newTargetDate"`
	OldTargetDate string     `json:"oldTargetDate"`
	NewState      stateValue `json:"newState"`
}

// Entry converts the node to its stored form.
func (n StatusHistoryNode) Entry(projectKey string) models.StatusHistoryEntry {
	return models.StatusHistoryEntry{
		ID:           n.ID,
		ProjectKey:   projectKey,
		CreationDate: n.CreationDate,
		StartDate:    n.StartDate,
		TargetDate:   n.NewTargetDate,
		State:        n.NewState.Value,
	}
}

// UpdateNode is one project update as returned by the API. Summary and
// Notes arrive as rich-text JSON documents and are stored verbatim.
type UpdateNode struct {
	ID            string          `json:"id"`
	CreationDate  string          `json:"creationDate"`
	NewState      stateValue      `json:"newState"`
	OldState      stateValue      `json:"oldState"`
	NewTargetDate string          `json:"newTargetDate"`
	OldTargetDate string          `json:"oldTargetDate"`
	Summary       json.RawMessage `json:"summary"`
	Notes         json.RawMessage `json:"notes"`
	MissedUpdate  bool            `json:"missedUpdate"`
}

// Update converts the node to its stored form.
func (n UpdateNode) Update(projectKey string) models.ProjectUpdate {
	return models.ProjectUpdate{
		ID:           n.ID,
		ProjectKey:   projectKey,
		CreationDate: n.CreationDate,
		State:        n.NewState.Value,
		OldState:     n.OldState.Value,
		NewDueDate:   n.NewTargetDate,
		OldDueDate:   n.OldTargetDate,
		Summary:      rawToString(n.Summary),
		Details:      detailsOrEmpty(n.Notes),
		MissedUpdate: n.MissedUpdate,
	}
}

// updateConnection is the edges/node/cursor pagination envelope. Unwrapping
// happens here so callers only ever see flat node lists.
type updateConnection struct {
	Edges []struct {
		Cursor string     `json:"cursor"`
		Node   UpdateNode `json:"node"`
	} `json:"edges"`
	PageInfo struct {
		HasNextPage bool   `json:"hasNextPage"`
		EndCursor   string `json:"endCursor"`
	} `json:"pageInfo"`
}

func (c updateConnection) unwrap() []UpdateNode {
	nodes := make([]UpdateNode, 0, len(c.Edges))
	for _, e := range c.Edges {
		nodes = append(nodes, e.Node)
	}
	return nodes
}

// rawToString renders a rich-text-or-plain payload as a string. A bare JSON
// string is unquoted; anything else is kept as its JSON encoding.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func detailsOrEmpty(raw json.RawMessage) string {
	s := rawToString(raw)
	if s == "" {
		return "[]"
	}
	return s
}
