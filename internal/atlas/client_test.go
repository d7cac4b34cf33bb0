package atlas

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient spins up a stub GraphQL endpoint and returns a client
// pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "cloud-1", "test-token", WithHTTPClient(srv.Client()))
}

func decodeRequest(t *testing.T, r *http.Request) graphQLRequest {
	t.Helper()
	var req graphQLRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestProjectView(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/graphql", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		req := decodeRequest(t, r)
		assert.Equal(t, "PROJ-1", req.Variables["key"])
		assert.Equal(t, "cloud-1", req.Variables["cloudId"])

		_, _ = w.Write([]byte(`{"data":{"project":{"key":"PROJ-1","name":"Alpha"}}}`))
	})

	raw, err := c.ProjectView(context.Background(), "PROJ-1", "ws-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"PROJ-1","name":"Alpha"}`, string(raw))
}

func TestProjectView_NullPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"project":null}}`))
	})

	_, err := c.ProjectView(context.Background(), "PROJ-1", "ws-1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty payload")
}

func TestStatusHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"projectStatusHistory":{"nodes":[
			{"id":"h1","creationDate":"2025-01-01","newTargetDate":"2025-03-01","newState":{"value":"on-track"}},
			{"id":"h2","creationDate":"2025-01-08","newState":{"value":"off-track"}}
		]}}}`))
	})

	nodes, err := c.StatusHistory(context.Background(), "PROJ-1")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "on-track", nodes[0].NewState.Value)

	entry := nodes[0].Entry("PROJ-1")
	assert.Equal(t, "PROJ-1", entry.ProjectKey)
	assert.Equal(t, "2025-03-01", entry.TargetDate)
	assert.Equal(t, "on-track", entry.State)
}

func TestProjectUpdates_FollowsPagination(t *testing.T) {
	pages := []string{
		`{"data":{"projectUpdates":{
			"edges":[{"cursor":"c1","node":{"id":"u1","newState":{"value":"on-track"},"summary":"\"first\""}}],
			"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`,
		`{"data":{"projectUpdates":{
			"edges":[{"cursor":"c2","node":{"id":"u2","newState":{"value":"off-track"},"summary":"\"second\""}}],
			"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`,
	}
	var cursors []any

	call := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeRequest(t, r)
		cursors = append(cursors, req.Variables["after"])
		_, _ = w.Write([]byte(pages[call]))
		call++
	})

	nodes, err := c.ProjectUpdates(context.Background(), "PROJ-1")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "u1", nodes[0].ID)
	assert.Equal(t, "u2", nodes[1].ID)

	require.Len(t, cursors, 2)
	assert.Nil(t, cursors[0], "first page has no cursor")
	assert.Equal(t, "c1", cursors[1])
}

func TestUpdateNode_Update(t *testing.T) {
	n := UpdateNode{
		ID:            "u1",
		CreationDate:  "2025-01-01",
		NewState:      stateValue{Value: "off-track"},
		OldState:      stateValue{Value: "on-track"},
		NewTargetDate: "2025-04-01",
		OldTargetDate: "2025-03-01",
		Summary:       json.RawMessage(`"slipped"`),
		Notes:         json.RawMessage(`null`),
		MissedUpdate:  true,
	}

	u := n.Update("PROJ-1")
	assert.Equal(t, "PROJ-1", u.ProjectKey)
	assert.Equal(t, "off-track", u.State)
	assert.Equal(t, "on-track", u.OldState)
	assert.Equal(t, "2025-04-01", u.NewDueDate)
	assert.Equal(t, "slipped", u.Summary)
	assert.Equal(t, "[]", u.Details, "null notes default to an empty array")
	assert.True(t, u.MissedUpdate)
}

func TestUpdateNode_RichTextSummaryKeptVerbatim(t *testing.T) {
	doc := `{"type":"doc","content":[{"type":"text","text":"hello"}]}`
	n := UpdateNode{ID: "u1", Summary: json.RawMessage(doc)}

	u := n.Update("PROJ-1")
	assert.JSONEq(t, doc, u.Summary)
}

func TestDo_HTTP429ReturnsRateLimitError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	})

	_, err := c.ProjectView(context.Background(), "PROJ-1", "")
	assert.True(t, IsRateLimited(err), "expected rate-limit error, got %v", err)
}

func TestDo_GraphQLRateLimitMarkers(t *testing.T) {
	bodies := []string{
		`{"errors":[{"message":"boom","extensions":{"statusCode":429}}]}`,
		`{"errors":[{"message":"RATE_LIMITED: try later"}]}`,
		`{"errors":[{"message":"Too many requests"}]}`,
	}
	for _, body := range bodies {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})

		_, err := c.ProjectView(context.Background(), "PROJ-1", "")
		assert.True(t, IsRateLimited(err), "body %s should be rate limited, got %v", body, err)
	}
}

func TestDo_GraphQLErrorNotRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"field not found"}]}`))
	})

	_, err := c.ProjectView(context.Background(), "PROJ-1", "")
	require.Error(t, err)
	assert.False(t, IsRateLimited(err))
	assert.Contains(t, err.Error(), "field not found")
}

func TestDo_UnexpectedStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.ProjectView(context.Background(), "PROJ-1", "")
	require.Error(t, err)
	assert.False(t, IsRateLimited(err))
	assert.Contains(t, err.Error(), "unexpected status 502")
}
