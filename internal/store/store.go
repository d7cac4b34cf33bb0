package store

import (
	"context"
	"encoding/json"

	"github.com/jordanlewiz/atlas-xray/internal/models"
)

// Stats summarizes the cache contents.
type Stats struct {
	Projects        int `json:"projects"`
	Updates         int `json:"updates"`
	AnalyzedUpdates int `json:"analyzedUpdates"`
	HistoryEntries  int `json:"historyEntries"`
}

// Store defines the persistence interface for the atlas-xray cache.
//
// Batch upserts tolerate malformed nodes: a node missing its id is skipped
// and the remaining nodes in the batch are still written. The returned count
// is the number of rows actually stored.
type Store interface {
	// Project snapshots
	PutProjectSnapshot(ctx context.Context, projectKey string, raw json.RawMessage) error
	GetProjectSnapshot(ctx context.Context, projectKey string) (*models.ProjectSnapshot, error)
	ListProjectSnapshots(ctx context.Context) ([]*models.ProjectSnapshot, error)

	// Project updates
	UpsertProjectUpdates(ctx context.Context, updates []models.ProjectUpdate) (int, error)
	ListProjectUpdates(ctx context.Context, projectKey string) ([]*models.ProjectUpdate, error)
	ListUnanalyzedUpdates(ctx context.Context) ([]*models.ProjectUpdate, error)
	SetUpdateAnalysis(ctx context.Context, id string, a models.UpdateAnalysis) error

	// Status history
	UpsertStatusHistory(ctx context.Context, projectKey string, entries []models.StatusHistoryEntry) (int, error)
	ListStatusHistory(ctx context.Context, projectKey string) ([]*models.StatusHistoryEntry, error)

	// Pipeline metadata and fetch log
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
	LogFetch(ctx context.Context, rec *models.FetchRecord) error
	ListFetchLog(ctx context.Context, limit int) ([]*models.FetchRecord, error)

	// Stats
	CacheStats(ctx context.Context) (*Stats, error)

	// Lifecycle
	ClearCache(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
