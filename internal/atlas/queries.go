package atlas

import (
	"context"
	"encoding/json"
	"fmt"
)

const projectViewQuery = `
query ProjectView($key: String!, $cloudId: String!, $workspaceId: String) {
  project(key: $key, cloudId: $cloudId, workspaceId: $workspaceId) {
    id
    key
    name
    state { value }
    owner { displayName }
    startDate
    targetDate
    lastUpdated
  }
}`

const statusHistoryQuery = `
query ProjectStatusHistory($projectKey: String!, $cloudId: String!) {
  projectStatusHistory(projectKey: $projectKey, cloudId: $cloudId) {
    nodes {
      id
      creationDate
      startDate
      newTargetDate
      oldTargetDate
      newState { value }
    }
  }
}`

const projectUpdatesQuery = `
query ProjectUpdates($key: String!, $cloudId: String!, $isUpdatesTab: Boolean!, $after: String) {
  projectUpdates(key: $key, cloudId: $cloudId, isUpdatesTab: $isUpdatesTab, after: $after) {
    edges {
      cursor
      node {
        id
        creationDate
        newState { value }
        oldState { value }
        newTargetDate
        oldTargetDate
        summary
        notes
        missedUpdate
      }
    }
    pageInfo {
      hasNextPage
      endCursor
    }
  }
}`

// ProjectView fetches the project metadata object for one key. The payload
// is returned as an opaque raw message; callers store it without assuming
// its internal shape.
func (c *Client) ProjectView(ctx context.Context, key, workspaceID string) (json.RawMessage, error) {
	var data struct {
		Project json.RawMessage `json:"project"`
	}
	vars := map[string]any{
		"key":         key,
		"cloudId":     c.cloudID,
		"workspaceId": workspaceID,
	}
	if err := c.do(ctx, projectViewQuery, vars, &data); err != nil {
		return nil, fmt.Errorf("project view %s: %w", key, err)
	}
	if len(data.Project) == 0 || string(data.Project) == "null" {
		return nil, fmt.Errorf("project view %s: empty payload", key)
	}
	return data.Project, nil
}

// StatusHistory fetches the status-history node list for one project.
func (c *Client) StatusHistory(ctx context.Context, projectKey string) ([]StatusHistoryNode, error) {
	var data struct {
		ProjectStatusHistory struct {
			Nodes []StatusHistoryNode `json:"nodes"`
		} `json:"projectStatusHistory"`
	}
	vars := map[string]any{
		"projectKey": projectKey,
		"cloudId":    c.cloudID,
	}
	if err := c.do(ctx, statusHistoryQuery, vars, &data); err != nil {
		return nil, fmt.Errorf("status history %s: %w", projectKey, err)
	}
	return data.ProjectStatusHistory.Nodes, nil
}

// ProjectUpdates fetches all update nodes for one project, following the
// pagination envelope until exhausted.
func (c *Client) ProjectUpdates(ctx context.Context, key string) ([]UpdateNode, error) {
	var nodes []UpdateNode
	var after *string

	for {
		var data struct {
			ProjectUpdates updateConnection `json:"projectUpdates"`
		}
		vars := map[string]any{
			"key":          key,
			"cloudId":      c.cloudID,
			"isUpdatesTab": true,
			"after":        after,
		}
		if err := c.do(ctx, projectUpdatesQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("project updates %s: %w", key, err)
		}

		nodes = append(nodes, data.ProjectUpdates.unwrap()...)

		if !data.ProjectUpdates.PageInfo.HasNextPage || data.ProjectUpdates.PageInfo.EndCursor == "" {
			return nodes, nil
		}
		cursor := data.ProjectUpdates.PageInfo.EndCursor
		after = &cursor
	}
}
