// Package pipeline orchestrates the scan → fetch-projects → fetch-updates →
// analysis workflow that populates the local cache.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jordanlewiz/atlas-xray/internal/atlas"
	"github.com/jordanlewiz/atlas-xray/internal/models"
	"github.com/jordanlewiz/atlas-xray/internal/quality"
	"github.com/jordanlewiz/atlas-xray/internal/ratelimit"
	"github.com/jordanlewiz/atlas-xray/internal/store"
)

// ScanFunc produces the project refs found on the current page. It must not
// touch the store or the remote service.
type ScanFunc func(ctx context.Context) ([]models.ProjectRef, error)

// RemoteService is the query surface the pipeline needs from the Atlas API.
// *atlas.Client satisfies it.
type RemoteService interface {
	ProjectView(ctx context.Context, key, workspaceID string) (json.RawMessage, error)
	StatusHistory(ctx context.Context, projectKey string) ([]atlas.StatusHistoryNode, error)
	ProjectUpdates(ctx context.Context, key string) ([]atlas.UpdateNode, error)
}

// Analyzer scores update text. *quality.Analyzer satisfies it; an external
// analyzer can be swapped in as long as it is deterministic.
type Analyzer interface {
	Analyze(text string, updateType models.UpdateType, state string) *quality.Result
}

// Config holds the pipeline's dependencies. Scan, Remote, and Store are
// required; the rest default sensibly.
type Config struct {
	Scan            ScanFunc
	Remote          RemoteService
	Store           store.Store
	FetchLimiter    *ratelimit.Limiter
	AnalysisLimiter *ratelimit.Limiter
	Analyzer        Analyzer
	Logger          *slog.Logger
}

// Pipeline drives the four-stage state machine. Construct one per page
// scan; instances do not coordinate with each other.
type Pipeline struct {
	scan            ScanFunc
	remote          RemoteService
	store           store.Store
	fetchLimiter    *ratelimit.Limiter
	analysisLimiter *ratelimit.Limiter
	analyzer        Analyzer
	logger          *slog.Logger

	mu        sync.Mutex
	state     State
	subs      map[int]func(State)
	nextSubID int
}

// New creates a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		scan:            cfg.Scan,
		remote:          cfg.Remote,
		store:           cfg.Store,
		fetchLimiter:    cfg.FetchLimiter,
		analysisLimiter: cfg.AnalysisLimiter,
		analyzer:        cfg.Analyzer,
		logger:          cfg.Logger,
		state:           State{CurrentStage: StageIdle},
		subs:            make(map[int]func(State)),
	}
	if p.fetchLimiter == nil {
		p.fetchLimiter = ratelimit.New(ratelimit.Config{})
	}
	if p.analysisLimiter == nil {
		p.analysisLimiter = ratelimit.New(ratelimit.Config{})
	}
	if p.analyzer == nil {
		p.analyzer = quality.NewAnalyzer()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// GetState returns a snapshot of the current pipeline state.
func (p *Pipeline) GetState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone()
}

// Subscribe registers cb to receive a state snapshot on every change.
// The returned function unsubscribes.
func (p *Pipeline) Subscribe(cb func(State)) func() {
	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subs[id] = cb
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// updateState applies merge under the lock and notifies subscribers with
// fresh snapshots.
func (p *Pipeline) updateState(merge func(*State)) {
	p.mu.Lock()
	merge(&p.state)
	p.state.LastUpdated = time.Now()
	snapshot := p.state.clone()
	cbs := make([]func(State), 0, len(p.subs))
	for _, cb := range p.subs {
		cbs = append(cbs, cb)
	}
	p.mu.Unlock()

	for _, cb := range cbs {
		cb(snapshot.clone())
	}
}

func (p *Pipeline) enterStage(stage Stage) {
	p.updateState(func(s *State) {
		s.CurrentStage = stage
		s.IsProcessing = true
	})
}

func (p *Pipeline) leaveStage(errMsg string) {
	p.updateState(func(s *State) {
		s.CurrentStage = StageIdle
		s.IsProcessing = false
		if errMsg != "" {
			s.Error = errMsg
		}
	})
}

// ScanProjectsOnPage runs the page scanner and records the deduplicated
// project set. Idempotent for an unchanged page; touches neither the store
// nor the remote service.
func (p *Pipeline) ScanProjectsOnPage(ctx context.Context) error {
	p.enterStage(StageScanning)

	refs, err := p.scan(ctx)
	if err != nil {
		p.leaveStage(fmt.Sprintf("scan failed: %v", err))
		return fmt.Errorf("scan projects on page: %w", err)
	}

	p.updateState(func(s *State) {
		s.ProjectIDs = refs
		s.ProjectsOnPage = len(refs)
	})
	p.leaveStage("")
	return nil
}

// FetchAndStoreProjects issues the three remote queries for every scanned
// project through the rate limiter and persists whatever succeeds. A
// project counts as stored when at least one of its queries wrote data;
// per-project failures are logged and do not stop the queue. Only when
// every project stores nothing is a pipeline-level error set and returned.
func (p *Pipeline) FetchAndStoreProjects(ctx context.Context) error {
	p.enterStage(StageFetchingProjects)

	refs := p.GetState().ProjectIDs
	stored := 0

	for _, ref := range refs {
		ok := p.fetchProject(ctx, ref)
		if !ok {
			p.logger.Warn("all queries failed for project", "project", ref.ProjectKey)
			continue
		}
		stored++
		p.updateState(func(s *State) { s.ProjectsStored = stored })
	}

	if len(refs) > 0 && stored == 0 {
		err := fmt.Errorf("failed to fetch any of %d projects", len(refs))
		p.leaveStage(err.Error())
		return err
	}

	p.leaveStage("")
	return nil
}

// fetchProject runs the three queries for one project. Each query is
// independently rate limited and its outcome recorded in the fetch log.
// Returns true if at least one query succeeded and wrote data.
func (p *Pipeline) fetchProject(ctx context.Context, ref models.ProjectRef) bool {
	ok := false

	raw, err := ratelimit.DoValue(ctx, p.fetchLimiter, func(ctx context.Context) (json.RawMessage, error) {
		return p.remote.ProjectView(ctx, ref.ProjectKey, ref.WorkspaceID)
	})
	if err == nil {
		err = p.store.PutProjectSnapshot(ctx, ref.ProjectKey, raw)
	}
	p.logFetch(ctx, ref.ProjectKey, "project-view", err)
	if err == nil {
		ok = true
	} else {
		p.logger.Warn("project view query failed", "project", ref.ProjectKey, "error", err)
	}

	history, err := ratelimit.DoValue(ctx, p.fetchLimiter, func(ctx context.Context) ([]atlas.StatusHistoryNode, error) {
		return p.remote.StatusHistory(ctx, ref.ProjectKey)
	})
	if err == nil {
		entries := make([]models.StatusHistoryEntry, len(history))
		for i, n := range history {
			entries[i] = n.Entry(ref.ProjectKey)
		}
		_, err = p.store.UpsertStatusHistory(ctx, ref.ProjectKey, entries)
	}
	p.logFetch(ctx, ref.ProjectKey, "status-history", err)
	if err == nil {
		ok = true
	} else {
		p.logger.Warn("status history query failed", "project", ref.ProjectKey, "error", err)
	}

	nodes, err := ratelimit.DoValue(ctx, p.fetchLimiter, func(ctx context.Context) ([]atlas.UpdateNode, error) {
		return p.remote.ProjectUpdates(ctx, ref.ProjectKey)
	})
	if err == nil {
		updates := make([]models.ProjectUpdate, len(nodes))
		for i, n := range nodes {
			updates[i] = n.Update(ref.ProjectKey)
		}
		var n int
		n, err = p.store.UpsertProjectUpdates(ctx, updates)
		if err == nil {
			p.updateState(func(s *State) { s.ProjectUpdatesStored += n })
		}
	}
	p.logFetch(ctx, ref.ProjectKey, "updates", err)
	if err == nil {
		ok = true
	} else {
		p.logger.Warn("updates query failed", "project", ref.ProjectKey, "error", err)
	}

	return ok
}

// logFetch records one query outcome; best effort.
func (p *Pipeline) logFetch(ctx context.Context, projectKey, query string, err error) {
	rec := &models.FetchRecord{ProjectKey: projectKey, Query: query, OK: err == nil}
	if err != nil {
		rec.Error = err.Error()
	}
	if logErr := p.store.LogFetch(ctx, rec); logErr != nil {
		p.logger.Debug("fetch log write failed", "error", logErr)
	}
}

// FetchAndStoreUpdates is a compatibility no-op stage: updates are already
// persisted during FetchAndStoreProjects. The stage transition is kept so
// subscribers observe the stable four-stage contract.
func (p *Pipeline) FetchAndStoreUpdates(ctx context.Context) error {
	p.enterStage(StageFetchingUpdates)
	p.leaveStage("")
	return ctx.Err()
}

// QueueAndProcessAnalysis scores every unanalyzed cached update through the
// analysis limiter and writes the result back. A failure on one update is
// logged, a fallback record is written so the row is not stuck unanalyzed,
// and the rest of the queue still runs.
func (p *Pipeline) QueueAndProcessAnalysis(ctx context.Context) error {
	p.enterStage(StageQueuingAnalysis)

	updates, err := p.store.ListUnanalyzedUpdates(ctx)
	if err != nil {
		p.leaveStage(fmt.Sprintf("list updates: %v", err))
		return fmt.Errorf("queue analysis: %w", err)
	}

	analysed := 0
	for _, u := range updates {
		err := p.analysisLimiter.Do(ctx, func(ctx context.Context) error {
			res := p.analyzer.Analyze(quality.ExtractText(u.Summary), models.UpdateType(u.State), "")
			return p.store.SetUpdateAnalysis(ctx, u.ID, res.Analysis())
		})
		if err != nil {
			p.logger.Warn("update analysis failed", "update", u.ID, "error", err)
			fallback := models.UpdateAnalysis{
				Level:   models.QualityPoor,
				Summary: fmt.Sprintf("analysis failed: %v", err),
			}
			if fbErr := p.store.SetUpdateAnalysis(ctx, u.ID, fallback); fbErr != nil {
				continue
			}
		}
		analysed++
		p.updateState(func(s *State) { s.ProjectUpdatesAnalysed = analysed })
	}

	p.leaveStage("")
	return nil
}

// RunCompletePipeline runs the four stages strictly in order. If the fetch
// stage stores zero projects and reports an error, the run stops there and
// surfaces that error; on success any previous error is cleared.
func (p *Pipeline) RunCompletePipeline(ctx context.Context) error {
	if err := p.ScanProjectsOnPage(ctx); err != nil {
		return err
	}

	if err := p.FetchAndStoreProjects(ctx); err != nil {
		st := p.GetState()
		if st.ProjectsStored == 0 && st.Error != "" {
			return err
		}
	}

	if err := p.FetchAndStoreUpdates(ctx); err != nil {
		return err
	}

	if err := p.QueueAndProcessAnalysis(ctx); err != nil {
		return err
	}

	if err := p.store.SetMeta(ctx, "last_scan", time.Now().UTC().Format(time.RFC3339)); err != nil {
		p.logger.Debug("meta write failed", "error", err)
	}

	p.updateState(func(s *State) { s.Error = "" })
	return nil
}
