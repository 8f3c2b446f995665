package knowledge

import (
	"context"

	"leadgate_backend/platform/logger"
	"leadgate_backend/platform/qdrant"
)

// Embedder turns text into a vector. Satisfied by the platform NLP client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher finds stored knowledge snippets near a query vector. Satisfied by
// the qdrant client.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit int) ([]qdrant.SearchResult, error)
}

// Service fronts the embedder with the bounded cache. Used by conversation
// processing for knowledge retrieval lookups.
type Service struct {
	cache    *Cache
	embedder Embedder
	searcher Searcher // nil when no vector store is configured
	log      *logger.Logger
}

// NewService creates a knowledge retrieval service.
func NewService(cache *Cache, embedder Embedder, searcher Searcher, log *logger.Logger) *Service {
	return &Service{cache: cache, embedder: embedder, searcher: searcher, log: log}
}

// EmbedQuery returns the embedding for the query text, consulting the cache
// first. Fresh embeddings are cached under the normalized query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := s.cache.Get(text); ok {
		return vector, nil
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	s.cache.Set(text, vector)
	return vector, nil
}

// RetrieveContext embeds the query and returns the text of the nearest
// stored knowledge snippets. Without a configured vector store it returns
// nothing; retrieval only ever enriches a reply, it never blocks one.
func (s *Service) RetrieveContext(ctx context.Context, text string, limit int) ([]string, error) {
	vector, err := s.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if s.searcher == nil {
		return nil, nil
	}

	results, err := s.searcher.Search(ctx, vector, limit)
	if err != nil {
		return nil, err
	}

	snippets := make([]string, 0, len(results))
	for _, r := range results {
		if content, ok := r.Payload["content"].(string); ok && content != "" {
			snippets = append(snippets, content)
		}
	}
	return snippets, nil
}

// Stats exposes cache statistics for diagnostics endpoints.
func (s *Service) Stats() Stats {
	return s.cache.GetStats()
}

// Reset clears the cache. Safe at any time: the cache is rebuildable.
func (s *Service) Reset() {
	s.cache.Clear()
}
