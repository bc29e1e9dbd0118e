package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/docscan/internal/ingest"
	"github.com/spherical-ai/docscan/internal/observability"
	"github.com/spherical-ai/docscan/internal/storage"
)

// DocumentKey is the cache key of one user's document view.
func DocumentKey(userID, documentID uuid.UUID) string {
	return CacheKey("doc", userID.String(), documentID.String())
}

func userPrefix(userID uuid.UUID) string {
	return CacheKey("doc", userID.String()) + ":"
}

// cachedDocument carries the fields Document hides from JSON.
type cachedDocument struct {
	Document *storage.Document `json:"document"`
	Tags     string            `json:"tags"`
}

// DocumentCache caches document views. Cache failures are logged and
// treated as misses; the database stays authoritative.
type DocumentCache struct {
	client Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewDocumentCache creates a document cache over client.
func NewDocumentCache(client Client, ttl time.Duration, logger *observability.Logger) *DocumentCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &DocumentCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached view of a document.
func (c *DocumentCache) Get(ctx context.Context, userID, documentID uuid.UUID) (*storage.Document, bool) {
	data, err := c.client.Get(ctx, DocumentKey(userID, documentID))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn().Err(err).Msg("Document cache read failed")
		}
		return nil, false
	}
	var entry cachedDocument
	if err := json.Unmarshal(data, &entry); err != nil || entry.Document == nil {
		c.logger.Warn().Err(err).Msg("Discarding undecodable cache entry")
		_ = c.client.Delete(ctx, DocumentKey(userID, documentID))
		return nil, false
	}
	entry.Document.Tags = entry.Tags
	return entry.Document, true
}

// Set caches a document view. Documents still being processed are not
// cached since their status is about to change.
func (c *DocumentCache) Set(ctx context.Context, doc *storage.Document) {
	if doc == nil || doc.OCRStatus == storage.OCRStatusProcessing {
		return
	}
	data, err := json.Marshal(cachedDocument{Document: doc, Tags: doc.Tags})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to encode document for cache")
		return
	}
	if err := c.client.Set(ctx, DocumentKey(doc.UserID, doc.ID), data, c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("Document cache write failed")
	}
}

// Invalidate drops the cached view of one document.
func (c *DocumentCache) Invalidate(ctx context.Context, userID, documentID uuid.UUID) {
	if err := c.client.Delete(ctx, DocumentKey(userID, documentID)); err != nil {
		c.logger.Warn().Err(err).Msg("Document cache invalidation failed")
	}
}

// InvalidateUser drops every cached document of a user, used after bulk
// changes such as folder deletion.
func (c *DocumentCache) InvalidateUser(ctx context.Context, userID uuid.UUID) {
	if err := c.client.DeleteByPrefix(ctx, userPrefix(userID)); err != nil {
		c.logger.Warn().Err(err).Msg("Document cache invalidation failed")
	}
}

// Notify invalidates the document an ingestion event refers to.
func (c *DocumentCache) Notify(ctx context.Context, ev ingest.Event) {
	c.Invalidate(ctx, ev.UserID, ev.DocumentID)
}

// StatusPublisher forwards ingestion events to a pub/sub channel.
type StatusPublisher struct {
	publisher Publisher
	channel   string
	logger    *observability.Logger
}

// NewStatusPublisher creates a publisher for channel.
func NewStatusPublisher(p Publisher, channel string, logger *observability.Logger) *StatusPublisher {
	if channel == "" {
		channel = "document.status"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &StatusPublisher{publisher: p, channel: channel, logger: logger}
}

// Notify publishes ev. Failures are logged, never returned.
func (s *StatusPublisher) Notify(ctx context.Context, ev ingest.Event) {
	if err := s.publisher.Publish(ctx, s.channel, ev); err != nil {
		s.logger.Warn().Err(err).Str("channel", s.channel).Msg("Failed to publish status event")
	}
}
