package feed

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/feedloom/feedloom/app/database"
	"github.com/feedloom/feedloom/app/sources"
)

const upsertBatchSize = 25

// ItemStore is the slice of the item repository the service depends on.
type ItemStore interface {
	Upsert(ctx context.Context, items []database.FeedItem) (int, error)
	List(ctx context.Context, filter database.ItemFilter) ([]database.FeedItem, error)
	Count(ctx context.Context, filter database.ItemFilter) (int, error)
}

// ConfigStore is the slice of the source config repository the service
// depends on.
type ConfigStore interface {
	GetAll(ctx context.Context) ([]database.SourceConfig, error)
	UpdateRefreshResult(ctx context.Context, sourceType string, at time.Time, errMsg string) error
}

// Service orchestrates the on-demand refresh: one concurrent fetch per
// enabled source, backoff retry, validation, ID stamping, upsert through a
// bounded worker pool, then a merged view re-read from durable state.
type Service struct {
	registry     *sources.Registry
	items        ItemStore
	configs      ConfigStore
	retry        RetryPolicy
	fetchTimeout time.Duration
	workerCount  int
}

type ServiceOption func(*Service)

func WithRetryPolicy(policy RetryPolicy) ServiceOption {
	return func(s *Service) { s.retry = policy }
}

func WithFetchTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) { s.fetchTimeout = timeout }
}

func WithWorkerCount(count int) ServiceOption {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

func NewService(registry *sources.Registry, items ItemStore, configs ConfigStore, opts ...ServiceOption) *Service {
	s := &Service{
		registry:     registry,
		items:        items,
		configs:      configs,
		retry:        DefaultRetryPolicy(),
		fetchTimeout: 60 * time.Second,
		workerCount:  5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type upsertJob struct {
	sourceType string
	items      []database.FeedItem
}

// RefreshAll fetches all enabled sources in parallel and returns a per-source
// status map plus the merged, paginated feed. A single failing source never
// fails the call; partial success is the normal case. It returns an error
// only when the persistence layer itself is unreachable.
func (s *Service) RefreshAll(ctx context.Context, opts ListOptions) (*RefreshResult, error) {
	opts = opts.Normalize()

	configs, err := s.configs.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read source configs: %w", err)
	}

	statuses := make(map[string]string, len(configs))
	var statusMu sync.Mutex
	setStatus := func(sourceType, status string) {
		statusMu.Lock()
		statuses[sourceType] = status
		statusMu.Unlock()
	}

	jobs := make(chan upsertJob)
	var poolWG sync.WaitGroup
	for i := 0; i < s.workerCount; i++ {
		poolWG.Add(1)
		go s.upsertWorker(ctx, jobs, &poolWG)
	}

	var enabledTypes []string
	var fetchWG sync.WaitGroup
	for _, config := range configs {
		if !config.Enabled {
			setStatus(config.SourceType, StatusDisabled)
			continue
		}

		source, ok := s.registry.Get(config.SourceType)
		if !ok {
			err := fmt.Errorf("no source registered for type '%s'", config.SourceType)
			setStatus(config.SourceType, StatusError(err))
			s.recordRefreshResult(ctx, config.SourceType, err)
			continue
		}

		enabledTypes = append(enabledTypes, config.SourceType)
		fetchWG.Add(1)
		go func(config database.SourceConfig, source sources.Source) {
			defer fetchWG.Done()
			s.refreshSource(ctx, config, source, jobs, setStatus)
		}(config, source)
	}

	fetchWG.Wait()
	close(jobs)
	poolWG.Wait()

	result := &RefreshResult{
		Statuses: statuses,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	}

	listTypes := enabledTypes
	if opts.SourceType != "" {
		listTypes = nil
		if slices.Contains(enabledTypes, opts.SourceType) {
			listTypes = []string{opts.SourceType}
		}
	}
	if len(listTypes) == 0 {
		// nothing enabled (or the requested source is disabled): an
		// empty-result condition, not an error
		return result, nil
	}

	filter := database.ItemFilter{
		SourceTypes: listTypes,
		Keyword:     opts.Keyword,
		Limit:       opts.PageSize,
		Offset:      opts.Offset(),
	}

	items, err := s.items.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to read merged feed: %w", err)
	}
	total, err := s.items.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count merged feed: %w", err)
	}

	result.Items = items
	result.Total = total
	return result, nil
}

// refreshSource runs the fetch for one source with retry and a per-attempt
// deadline, then hands validated items to the shared upsert pool.
func (s *Service) refreshSource(ctx context.Context, config database.SourceConfig,
	source sources.Source, jobs chan<- upsertJob, setStatus func(sourceType, status string)) {

	started := time.Now()

	var raw []sources.RawItem
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()

		var fetchErr error
		raw, fetchErr = source.FetchItems(attemptCtx, config.Settings)
		return fetchErr
	})
	if err != nil {
		slog.Error("Source refresh failed", "source", config.SourceType,
			"duration", time.Since(started), "error", err)
		setStatus(config.SourceType, StatusError(err))
		s.recordRefreshResult(ctx, config.SourceType, err)
		return
	}

	now := time.Now().UTC()
	items := s.normalize(config.SourceType, raw, now)

	for start := 0; start < len(items); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(items))
		select {
		case jobs <- upsertJob{sourceType: config.SourceType, items: items[start:end]}:
		case <-ctx.Done():
			setStatus(config.SourceType, StatusError(ctx.Err()))
			s.recordRefreshResult(ctx, config.SourceType, ctx.Err())
			return
		}
	}

	slog.Info("Source refresh completed", "source", config.SourceType,
		"items", len(items), "dropped", len(raw)-len(items),
		"duration", time.Since(started))
	setStatus(config.SourceType, StatusOK)
	s.recordRefreshResult(ctx, config.SourceType, nil)
}

// upsertWorker persists item batches, retrying transient persistence errors.
// Batches that still fail are dropped from this cycle and logged with enough
// identity to retry later, never silently lost.
func (s *Service) upsertWorker(ctx context.Context, jobs <-chan upsertJob, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range jobs {
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			_, upsertErr := s.items.Upsert(ctx, job.items)
			return upsertErr
		})
		if err != nil {
			ids := make([]string, len(job.items))
			for i, item := range job.items {
				ids[i] = item.ID
			}
			slog.Error("Failed to persist items, dropped from this cycle",
				"source", job.sourceType, "count", len(job.items),
				"ids", strings.Join(ids, ","), "error", err)
		}
	}
}

func (s *Service) recordRefreshResult(ctx context.Context, sourceType string, refreshErr error) {
	errMsg := ""
	if refreshErr != nil {
		errMsg = refreshErr.Error()
	}
	if err := s.configs.UpdateRefreshResult(ctx, sourceType, time.Now().UTC(), errMsg); err != nil {
		slog.Warn("Failed to record refresh result", "source", sourceType, "error", err)
	}
}

// normalize validates raw items and stamps content-addressed IDs. Invalid
// items are dropped with a log line, not an error: one bad entry must not
// sink its source.
func (s *Service) normalize(sourceType string, raw []sources.RawItem, fetchedAt time.Time) []database.FeedItem {
	items := make([]database.FeedItem, 0, len(raw))
	for _, r := range raw {
		if err := validateRawItem(r); err != nil {
			slog.Warn("Dropping invalid item", "source", sourceType, "title", r.Title, "error", err)
			continue
		}

		sourceID := GenerateSourceID(r.Title, r.Date.UTC().Format(DateLayout))
		items = append(items, database.FeedItem{
			ID:         sourceType + ":" + sourceID,
			SourceType: sourceType,
			SourceID:   sourceID,
			Title:      strings.TrimSpace(r.Title),
			Date:       r.Date.UTC(),
			Summary:    r.Summary,
			Link:       r.Link,
			Metadata:   r.Metadata,
			FetchedAt:  fetchedAt,
		})
	}
	return items
}

func validateRawItem(r sources.RawItem) error {
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if r.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "must be set"}
	}
	return nil
}
