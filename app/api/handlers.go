package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedloom/feedloom/app/database"
	"github.com/feedloom/feedloom/app/feed"
	"github.com/feedloom/feedloom/app/sources"
)

type Handler struct {
	service    *feed.Service
	registry   *sources.Registry
	itemRepo   *database.ItemRepository
	sourceRepo *database.SourceRepository
	emailRepo  *database.EmailRepository
	db         *database.DB
	startedAt  time.Time
}

func NewHandler(service *feed.Service, registry *sources.Registry,
	itemRepo *database.ItemRepository, sourceRepo *database.SourceRepository,
	emailRepo *database.EmailRepository, db *database.DB) *Handler {
	return &Handler{
		service:    service,
		registry:   registry,
		itemRepo:   itemRepo,
		sourceRepo: sourceRepo,
		emailRepo:  emailRepo,
		db:         db,
		startedAt:  time.Now(),
	}
}

// Refresh triggers the "refresh all enabled sources" operation and returns a
// per-source status map plus the merged, paginated feed.
func (h *Handler) Refresh(c *gin.Context) {
	opts := listOptionsFromQuery(c)

	result, err := h.service.RefreshAll(c.Request.Context(), opts)
	if err != nil {
		slog.Error("Refresh failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}

	items := make([]itemResponse, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, toItemResponse(item))
	}

	c.JSON(http.StatusOK, refreshResponse{
		SourceStatus: result.Statuses,
		Items:        items,
		Total:        result.Total,
		Page:         result.Page,
		PageSize:     result.PageSize,
	})
}

// ListItems reads the persisted feed without fetching.
func (h *Handler) ListItems(c *gin.Context) {
	opts := listOptionsFromQuery(c).Normalize()

	filter := database.ItemFilter{
		Keyword: opts.Keyword,
		Limit:   opts.PageSize,
		Offset:  opts.Offset(),
	}
	if opts.SourceType != "" {
		filter.SourceTypes = []string{opts.SourceType}
	}
	if from, ok := parseTimeParam(c, "from"); ok {
		filter.From = &from
	}
	if to, ok := parseTimeParam(c, "to"); ok {
		filter.To = &to
	}

	items, err := h.itemRepo.List(c.Request.Context(), filter)
	if err != nil {
		slog.Error("Database error", "operation", "list_items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list items"})
		return
	}

	total, err := h.itemRepo.Count(c.Request.Context(), filter)
	if err != nil {
		slog.Error("Database error", "operation", "count_items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count items"})
		return
	}

	responses := make([]itemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, toItemResponse(item))
	}

	c.JSON(http.StatusOK, listResponse{
		Items:    responses,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
	})
}

func (h *Handler) ListSources(c *gin.Context) {
	configs, err := h.sourceRepo.GetAll(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "list_sources", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sources"})
		return
	}

	configByType := make(map[string]database.SourceConfig, len(configs))
	for _, config := range configs {
		configByType[config.SourceType] = config
	}

	responses := make([]sourceResponse, 0, h.registry.Count())
	for _, sourceType := range h.registry.Types() {
		source, _ := h.registry.Get(sourceType)
		response := sourceResponse{
			SourceType: sourceType,
			Settings:   map[string]string{},
			Schema:     source.ConfigSchema(),
		}
		if config, ok := configByType[sourceType]; ok {
			response.Enabled = config.Enabled
			response.LastRefresh = config.LastRefresh
			response.LastError = config.LastError
			if config.Settings != nil {
				response.Settings = config.Settings
			}
		}
		responses = append(responses, response)
	}

	c.JSON(http.StatusOK, gin.H{"sources": responses})
}

func (h *Handler) GetSource(c *gin.Context) {
	sourceType := c.Param("type")

	source, ok := h.registry.Get(sourceType)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown source type '%s'", sourceType)})
		return
	}

	config, err := h.sourceRepo.Get(c.Request.Context(), sourceType)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source", sourceType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get source"})
		return
	}

	response := sourceResponse{
		SourceType: sourceType,
		Settings:   map[string]string{},
		Schema:     source.ConfigSchema(),
	}
	if config != nil {
		response.Enabled = config.Enabled
		response.LastRefresh = config.LastRefresh
		response.LastError = config.LastError
		if config.Settings != nil {
			response.Settings = config.Settings
		}
	}

	c.JSON(http.StatusOK, response)
}

// SaveSource updates a source configuration after validating the settings
// against the source's schema descriptor.
func (h *Handler) SaveSource(c *gin.Context) {
	sourceType := c.Param("type")

	source, ok := h.registry.Get(sourceType)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown source type '%s'", sourceType)})
		return
	}

	var req saveSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	existing, err := h.sourceRepo.Get(c.Request.Context(), sourceType)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "source", sourceType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get source"})
		return
	}

	config := database.SourceConfig{SourceType: sourceType, Settings: map[string]string{}}
	if existing != nil {
		config.Enabled = existing.Enabled
		if existing.Settings != nil {
			config.Settings = existing.Settings
		}
	}
	if req.Enabled != nil {
		config.Enabled = *req.Enabled
	}
	if req.Settings != nil {
		config.Settings = req.Settings
	}

	if err := validateSettings(source.ConfigSchema(), config.Settings, config.Enabled); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sourceRepo.Save(c.Request.Context(), config); err != nil {
		slog.Error("Database error", "operation", "save_source", "source", sourceType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save source"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"source_type": sourceType, "saved": true})
}

// ApplyRetention deletes the oldest rows of the given entity kind beyond
// keep_count.
func (h *Handler) ApplyRetention(c *gin.Context) {
	var req retentionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if req.KeepCount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "keep_count must be non-negative"})
		return
	}

	var deleted int
	var err error
	switch req.EntityKind {
	case "feed_items":
		deleted, err = h.itemRepo.ApplyRetention(c.Request.Context(), req.KeepCount)
	case "processed_emails":
		deleted, err = h.emailRepo.ApplyRetention(c.Request.Context(), req.KeepCount)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown entity kind '%s'", req.EntityKind)})
		return
	}
	if err != nil {
		slog.Error("Retention failed", "entity_kind", req.EntityKind, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retention failed"})
		return
	}

	c.JSON(http.StatusOK, retentionResponse{EntityKind: req.EntityKind, Deleted: deleted})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"uptime":    time.Since(h.startedAt).String(),
	}

	if count, err := h.itemRepo.Count(c.Request.Context(), database.ItemFilter{}); err == nil {
		health["items"] = count
	}
	health["registered_sources"] = h.registry.Count()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := gin.H{}

	if total, err := h.itemRepo.Count(c.Request.Context(), database.ItemFilter{}); err == nil {
		stats["total_items"] = total
	}

	perSource := gin.H{}
	for _, sourceType := range h.registry.Types() {
		filter := database.ItemFilter{SourceTypes: []string{sourceType}}
		if count, err := h.itemRepo.Count(c.Request.Context(), filter); err == nil {
			perSource[sourceType] = count
		}
	}
	stats["items_by_source"] = perSource

	if emails, err := h.emailRepo.Count(c.Request.Context()); err == nil {
		stats["processed_emails"] = emails
	}

	poolStats := h.db.Stats()
	stats["pool"] = gin.H{
		"open":    poolStats.OpenConnections,
		"in_use":  poolStats.InUse,
		"idle":    poolStats.Idle,
		"waiting": poolStats.WaitCount,
	}

	c.JSON(http.StatusOK, stats)
}

func listOptionsFromQuery(c *gin.Context) feed.ListOptions {
	opts := feed.ListOptions{
		SourceType: c.Query("source"),
		Keyword:    c.Query("q"),
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		opts.Page = page
	}
	if pageSize, err := strconv.Atoi(c.Query("page_size")); err == nil {
		opts.PageSize = pageSize
	}
	return opts
}

func parseTimeParam(c *gin.Context, name string) (time.Time, bool) {
	value := c.Query(name)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// validateSettings checks saved settings against the source's schema. Missing
// required fields only block enabling a source, so operators can stage
// partial configuration while it stays disabled.
func validateSettings(schema sources.SchemaDescriptor, settings map[string]string, enabled bool) error {
	for name := range settings {
		if schema.Field(name) == nil {
			return fmt.Errorf("unknown setting '%s'", name)
		}
	}

	if enabled {
		var missing []string
		for _, field := range schema.Fields {
			if field.Required && strings.TrimSpace(settings[field.Name]) == "" {
				missing = append(missing, field.Name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
		}
	}

	return nil
}
