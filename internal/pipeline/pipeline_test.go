package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlewiz/atlas-xray/internal/atlas"
	"github.com/jordanlewiz/atlas-xray/internal/models"
	"github.com/jordanlewiz/atlas-xray/internal/ratelimit"
	"github.com/jordanlewiz/atlas-xray/internal/store"
)

// fakeRemote serves canned query results, with per-project error injection.
type fakeRemote struct {
	mu      sync.Mutex
	fail    map[string]bool // project keys whose queries all fail
	history map[string][]atlas.StatusHistoryNode
	updates map[string][]atlas.UpdateNode
	calls   int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		fail:    make(map[string]bool),
		history: make(map[string][]atlas.StatusHistoryNode),
		updates: make(map[string][]atlas.UpdateNode),
	}
}

func (f *fakeRemote) countCall(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[key] {
		return errors.New("remote unavailable")
	}
	return nil
}

func (f *fakeRemote) ProjectView(ctx context.Context, key, workspaceID string) (json.RawMessage, error) {
	if err := f.countCall(key); err != nil {
		return nil, err
	}
	return json.RawMessage(`{"key":"` + key + `"}`), nil
}

func (f *fakeRemote) StatusHistory(ctx context.Context, projectKey string) ([]atlas.StatusHistoryNode, error) {
	if err := f.countCall(projectKey); err != nil {
		return nil, err
	}
	return f.history[projectKey], nil
}

func (f *fakeRemote) ProjectUpdates(ctx context.Context, key string) ([]atlas.UpdateNode, error) {
	if err := f.countCall(key); err != nil {
		return nil, err
	}
	return f.updates[key], nil
}

func scanOf(refs ...models.ProjectRef) ScanFunc {
	return func(ctx context.Context) ([]models.ProjectRef, error) {
		return refs, nil
	}
}

func ref(key string) models.ProjectRef {
	return models.ProjectRef{WorkspaceID: "ws-1", SectionID: "sec-1", ProjectKey: key}
}

// updateNode builds a node the way the API would deliver it; the state
// wrapper type is internal to the atlas package.
func updateNode(t *testing.T, id, state, summary string) atlas.UpdateNode {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":           id,
		"creationDate": "2025-01-01",
		"newState":     map[string]string{"value": state},
		"summary":      summary,
	})
	require.NoError(t, err)

	var n atlas.UpdateNode
	require.NoError(t, json.Unmarshal(payload, &n))
	return n
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestPipeline(t *testing.T, scan ScanFunc, remote RemoteService) (*Pipeline, store.Store) {
	t.Helper()
	s := newTestStore(t)
	p := New(Config{
		Scan:   scan,
		Remote: remote,
		Store:  s,
	})
	return p, s
}

func TestNew_StartsIdle(t *testing.T) {
	p, _ := newTestPipeline(t, scanOf(), newFakeRemote())

	st := p.GetState()
	assert.Equal(t, StageIdle, st.CurrentStage)
	assert.False(t, st.IsProcessing)
	assert.Zero(t, st.ProjectsOnPage)
}

func TestScanProjectsOnPage(t *testing.T) {
	p, _ := newTestPipeline(t, scanOf(ref("A-1"), ref("B-2")), newFakeRemote())

	err := p.ScanProjectsOnPage(context.Background())
	require.NoError(t, err)

	st := p.GetState()
	assert.Equal(t, 2, st.ProjectsOnPage)
	assert.Len(t, st.ProjectIDs, 2)
	assert.Equal(t, StageIdle, st.CurrentStage)
	assert.False(t, st.IsProcessing)
}

func TestScanProjectsOnPage_Error(t *testing.T) {
	scan := func(ctx context.Context) ([]models.ProjectRef, error) {
		return nil, errors.New("page gone")
	}
	p, _ := newTestPipeline(t, scan, newFakeRemote())

	err := p.ScanProjectsOnPage(context.Background())
	require.Error(t, err)

	st := p.GetState()
	assert.Equal(t, StageIdle, st.CurrentStage)
	assert.Contains(t, st.Error, "scan failed")
}

func TestFetchAndStoreProjects(t *testing.T) {
	remote := newFakeRemote()
	remote.history["A-1"] = []atlas.StatusHistoryNode{{ID: "h1", CreationDate: "2025-01-01"}}
	remote.updates["A-1"] = []atlas.UpdateNode{
		{ID: "u1", CreationDate: "2025-01-01", Summary: json.RawMessage(`"an update"`)},
	}

	p, s := newTestPipeline(t, scanOf(ref("A-1")), remote)
	ctx := context.Background()

	require.NoError(t, p.ScanProjectsOnPage(ctx))
	require.NoError(t, p.FetchAndStoreProjects(ctx))

	st := p.GetState()
	assert.Equal(t, 1, st.ProjectsStored)
	assert.Equal(t, 1, st.ProjectUpdatesStored)
	assert.Empty(t, st.Error)

	snap, err := s.GetProjectSnapshot(ctx, "A-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"A-1"}`, string(snap.Raw))

	history, err := s.ListStatusHistory(ctx, "A-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	updates, err := s.ListProjectUpdates(ctx, "A-1")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "an update", updates[0].Summary)

	// Each query outcome is in the fetch log.
	log, err := s.ListFetchLog(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, log, 3)
}

func TestFetchAndStoreProjects_PartialFailureContinues(t *testing.T) {
	remote := newFakeRemote()
	remote.fail["BAD-1"] = true

	p, s := newTestPipeline(t, scanOf(ref("BAD-1"), ref("GOOD-2")), remote)
	ctx := context.Background()

	require.NoError(t, p.ScanProjectsOnPage(ctx))
	err := p.FetchAndStoreProjects(ctx)
	require.NoError(t, err, "one failing project does not fail the stage")

	st := p.GetState()
	assert.Equal(t, 1, st.ProjectsStored)
	assert.Empty(t, st.Error)

	_, err = s.GetProjectSnapshot(ctx, "GOOD-2")
	assert.NoError(t, err)
	_, err = s.GetProjectSnapshot(ctx, "BAD-1")
	assert.Error(t, err)

	// Failures are still recorded in the fetch log.
	log, err := s.ListFetchLog(ctx, 0)
	require.NoError(t, err)
	failed := 0
	for _, rec := range log {
		if !rec.OK {
			failed++
			assert.Equal(t, "BAD-1", rec.ProjectKey)
			assert.NotEmpty(t, rec.Error)
		}
	}
	assert.Equal(t, 3, failed)
}

func TestFetchAndStoreProjects_AllFail(t *testing.T) {
	remote := newFakeRemote()
	remote.fail["A-1"] = true
	remote.fail["B-2"] = true

	p, _ := newTestPipeline(t, scanOf(ref("A-1"), ref("B-2")), remote)
	ctx := context.Background()

	require.NoError(t, p.ScanProjectsOnPage(ctx))
	err := p.FetchAndStoreProjects(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch any of 2 projects")

	st := p.GetState()
	assert.Zero(t, st.ProjectsStored)
	assert.Contains(t, st.Error, "failed to fetch")
	assert.Equal(t, StageIdle, st.CurrentStage)
}

func TestFetchAndStoreProjects_NoProjectsIsNotAnError(t *testing.T) {
	p, _ := newTestPipeline(t, scanOf(), newFakeRemote())
	ctx := context.Background()

	require.NoError(t, p.ScanProjectsOnPage(ctx))
	assert.NoError(t, p.FetchAndStoreProjects(ctx))
}

func TestQueueAndProcessAnalysis(t *testing.T) {
	p, s := newTestPipeline(t, scanOf(), newFakeRemote())
	ctx := context.Background()

	_, err := s.UpsertProjectUpdates(ctx, []models.ProjectUpdate{
		{ID: "u1", ProjectKey: "A-1", State: "off-track", Summary: "We are off track because the vendor slipped. Mitigation plan drafted; next review Friday. The impact is a two-week delay."},
		{ID: "u2", ProjectKey: "A-1", State: "on-track", Summary: "fine"},
	})
	require.NoError(t, err)

	require.NoError(t, p.QueueAndProcessAnalysis(ctx))

	st := p.GetState()
	assert.Equal(t, 2, st.ProjectUpdatesAnalysed)

	updates, err := s.ListProjectUpdates(ctx, "A-1")
	require.NoError(t, err)
	require.Len(t, updates, 2)
	for _, u := range updates {
		assert.True(t, u.Analyzed)
		require.NotNil(t, u.UpdateQuality)
		assert.NotEmpty(t, u.QualityLevel)
	}

	// The rich off-track update outscores the bare one.
	assert.Greater(t, *updates[0].UpdateQuality, *updates[1].UpdateQuality)

	// A second pass finds nothing to analyze.
	require.NoError(t, p.QueueAndProcessAnalysis(ctx))
	st = p.GetState()
	assert.Equal(t, 2, st.ProjectUpdatesAnalysed, "already-analyzed rows are not re-scored")
}

func TestQueueAndProcessAnalysis_UnknownStateGetsFallbackScore(t *testing.T) {
	p, s := newTestPipeline(t, scanOf(), newFakeRemote())
	ctx := context.Background()

	_, err := s.UpsertProjectUpdates(ctx, []models.ProjectUpdate{
		{ID: "u1", ProjectKey: "A-1", State: "mystery-state", Summary: "something"},
	})
	require.NoError(t, err)

	require.NoError(t, p.QueueAndProcessAnalysis(ctx))

	updates, err := s.ListProjectUpdates(ctx, "A-1")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Analyzed, "unrecognized state still produces a stored result")
	require.NotNil(t, updates[0].UpdateQuality)
	assert.Equal(t, 0, *updates[0].UpdateQuality)
	assert.Equal(t, models.QualityPoor, updates[0].QualityLevel)
}

func TestRunCompletePipeline(t *testing.T) {
	remote := newFakeRemote()
	for _, key := range []string{"A-1", "B-2", "C-3"} {
		remote.updates[key] = []atlas.UpdateNode{
			updateNode(t, "u-"+key, "on-track", "Completed milestone one and shipped it. Next is milestone two."),
		}
		remote.history[key] = []atlas.StatusHistoryNode{{ID: "h-" + key}}
	}

	p, s := newTestPipeline(t, scanOf(ref("A-1"), ref("B-2"), ref("C-3")), remote)
	ctx := context.Background()

	var stages []Stage
	var mu sync.Mutex
	unsub := p.Subscribe(func(st State) {
		mu.Lock()
		if len(stages) == 0 || stages[len(stages)-1] != st.CurrentStage {
			stages = append(stages, st.CurrentStage)
		}
		mu.Unlock()
	})
	defer unsub()

	require.NoError(t, p.RunCompletePipeline(ctx))

	st := p.GetState()
	assert.Equal(t, 3, st.ProjectsOnPage)
	assert.Equal(t, 3, st.ProjectsStored)
	assert.Equal(t, 3, st.ProjectUpdatesStored)
	assert.Equal(t, 3, st.ProjectUpdatesAnalysed)
	assert.Equal(t, StageIdle, st.CurrentStage)
	assert.False(t, st.IsProcessing)
	assert.Empty(t, st.Error)
	assert.False(t, st.LastUpdated.IsZero())

	// Stages were visited strictly in order.
	mu.Lock()
	defer mu.Unlock()
	var visited []Stage
	for _, s := range stages {
		if s != StageIdle {
			visited = append(visited, s)
		}
	}
	assert.Equal(t, []Stage{StageScanning, StageFetchingProjects, StageFetchingUpdates, StageQueuingAnalysis}, visited)

	stats, err := s.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Projects)
	assert.Equal(t, 3, stats.AnalyzedUpdates)

	lastScan, err := s.GetMeta(ctx, "last_scan")
	require.NoError(t, err)
	assert.NotEmpty(t, lastScan, "successful run records the scan time")
}

func TestRunCompletePipeline_AbortsWhenNothingStored(t *testing.T) {
	remote := newFakeRemote()
	remote.fail["A-1"] = true

	p, s := newTestPipeline(t, scanOf(ref("A-1")), remote)
	ctx := context.Background()

	err := p.RunCompletePipeline(ctx)
	require.Error(t, err)

	st := p.GetState()
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, StageIdle, st.CurrentStage)

	stats, statsErr := s.CacheStats(ctx)
	require.NoError(t, statsErr)
	assert.Zero(t, stats.AnalyzedUpdates, "analysis stage must not run after a total fetch failure")
}

func TestRunCompletePipeline_ClearsPreviousError(t *testing.T) {
	remote := newFakeRemote()
	remote.fail["A-1"] = true

	scan := scanOf(ref("A-1"))
	p, _ := newTestPipeline(t, scan, remote)
	ctx := context.Background()

	require.Error(t, p.RunCompletePipeline(ctx))
	assert.NotEmpty(t, p.GetState().Error)

	// The project recovers; the next run must clear the stale error.
	remote.mu.Lock()
	remote.fail["A-1"] = false
	remote.mu.Unlock()

	require.NoError(t, p.RunCompletePipeline(ctx))
	st := p.GetState()
	assert.Empty(t, st.Error)
	assert.Equal(t, 1, st.ProjectsStored)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	p, _ := newTestPipeline(t, scanOf(ref("A-1")), newFakeRemote())

	calls := 0
	unsub := p.Subscribe(func(State) { calls++ })

	require.NoError(t, p.ScanProjectsOnPage(context.Background()))
	assert.Greater(t, calls, 0)

	before := calls
	unsub()
	require.NoError(t, p.ScanProjectsOnPage(context.Background()))
	assert.Equal(t, before, calls, "no notifications after unsubscribe")
}

func TestSubscribe_SnapshotsAreDefensiveCopies(t *testing.T) {
	p, _ := newTestPipeline(t, scanOf(ref("A-1"), ref("B-2")), newFakeRemote())

	var got State
	p.Subscribe(func(st State) {
		if len(st.ProjectIDs) > 0 {
			got = st
		}
	})

	require.NoError(t, p.ScanProjectsOnPage(context.Background()))

	// Mutating the snapshot must not leak into pipeline state.
	got.ProjectIDs[0].ProjectKey = "MUTATED"
	assert.Equal(t, "A-1", p.GetState().ProjectIDs[0].ProjectKey)
}

func TestPipeline_RateLimitedFetchRetries(t *testing.T) {
	remote := &rateLimitedOnce{inner: newFakeRemote()}

	s := newTestStore(t)
	p := New(Config{
		Scan:   scanOf(ref("A-1")),
		Remote: remote,
		Store:  s,
		FetchLimiter: ratelimit.New(ratelimit.Config{
			BaseDelay:  time.Millisecond,
			MaxRetries: 2,
		}),
	})
	ctx := context.Background()

	require.NoError(t, p.ScanProjectsOnPage(ctx))
	require.NoError(t, p.FetchAndStoreProjects(ctx))

	st := p.GetState()
	assert.Equal(t, 1, st.ProjectsStored, "rate-limited query succeeds after retry")
}

// rateLimitedOnce fails each query's first attempt with a rate-limit error.
type rateLimitedOnce struct {
	inner *fakeRemote
	mu    sync.Mutex
	seen  map[string]bool
}

func (r *rateLimitedOnce) limitFirst(tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if !r.seen[tag] {
		r.seen[tag] = true
		return &atlas.RateLimitError{StatusCode: 429}
	}
	return nil
}

func (r *rateLimitedOnce) ProjectView(ctx context.Context, key, workspaceID string) (json.RawMessage, error) {
	if err := r.limitFirst("view/" + key); err != nil {
		return nil, err
	}
	return r.inner.ProjectView(ctx, key, workspaceID)
}

func (r *rateLimitedOnce) StatusHistory(ctx context.Context, projectKey string) ([]atlas.StatusHistoryNode, error) {
	if err := r.limitFirst("history/" + projectKey); err != nil {
		return nil, err
	}
	return r.inner.StatusHistory(ctx, projectKey)
}

func (r *rateLimitedOnce) ProjectUpdates(ctx context.Context, key string) ([]atlas.UpdateNode, error) {
	if err := r.limitFirst("updates/" + key); err != nil {
		return nil, err
	}
	return r.inner.ProjectUpdates(ctx, key)
}
