// Package models caches the upstream model catalog and renders the
// "available models" blocks appended to tool descriptions.
package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"deapi-mcp/internal/deapi"
	"deapi-mcp/pkg/logging"
)

// CatalogSource fetches the model catalog. *deapi.Client satisfies it.
type CatalogSource interface {
	Models(ctx context.Context) ([]deapi.Model, error)
}

// toolsByInferenceType maps an upstream inference type to the tools whose
// descriptions list that type's models.
var toolsByInferenceType = map[string][]string{
	"txt2img":       {"text_to_image", "text_to_image_price"},
	"img2img":       {"image_to_image", "image_to_image_price"},
	"img2txt":       {"image_to_text", "image_to_text_price"},
	"img-rmbg":      {"image_remove_background", "image_remove_background_price"},
	"img-upscale":   {"image_upscale", "image_upscale_price"},
	"txt2video":     {"text_to_video", "text_to_video_price"},
	"img2video":     {"image_to_video", "image_to_video_price"},
	"vid-rmbg":      {"video_remove_background", "video_remove_background_price"},
	"vid-upscale":   {"video_upscale", "video_upscale_price"},
	"txt2audio":     {"text_to_audio", "text_to_audio_price"},
	"audiofile2txt": {"audio_transcription", "audio_transcription_price", "audio_url_transcription", "audio_url_transcription_price", "video_file_transcription", "video_file_transcription_price", "video_url_transcription", "video_url_transcription_price"},
	"txt2embedding": {"text_to_embedding", "text_to_embedding_price"},
}

// Cache holds the model catalog for a bounded time. Refreshes use
// double-checked locking so concurrent callers trigger at most one upstream
// fetch; a failed refresh also stamps the time, so errors are not retried
// until the TTL passes again.
type Cache struct {
	source CatalogSource
	ttl    time.Duration

	mu        sync.Mutex
	models    []deapi.Model
	fetchedAt time.Time

	now func() time.Time
}

// NewCache creates a cache over the given catalog source.
func NewCache(source CatalogSource, ttl time.Duration) *Cache {
	return &Cache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Models returns the cached catalog, refreshing it when stale. A refresh
// failure returns the previous catalog when one exists.
func (c *Cache) Models(ctx context.Context) ([]deapi.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.models, nil
	}

	models, err := c.source.Models(ctx)
	c.fetchedAt = c.now()
	if err != nil {
		logging.Warn("Models", "Catalog refresh failed: %v", err)
		if c.models != nil {
			return c.models, nil
		}
		return nil, fmt.Errorf("failed to fetch model catalog: %w", err)
	}
	c.models = models
	logging.Debug("Models", "Catalog refreshed, %d models", len(models))
	return c.models, nil
}

// DescriptionBlocks renders one enrichment block per tool name, derived
// from the current catalog. Tools whose inference type has no models get no
// entry.
func (c *Cache) DescriptionBlocks(ctx context.Context) (map[string]string, error) {
	models, err := c.Models(ctx)
	if err != nil {
		return nil, err
	}

	namesByType := make(map[string][]string)
	for _, model := range models {
		namesByType[model.Type] = append(namesByType[model.Type], model.Name)
	}

	blocks := make(map[string]string)
	for inferenceType, tools := range toolsByInferenceType {
		names := namesByType[inferenceType]
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)
		block := "\n\nAvailable models: " + strings.Join(names, ", ")
		for _, tool := range tools {
			blocks[tool] = block
		}
	}
	return blocks, nil
}
