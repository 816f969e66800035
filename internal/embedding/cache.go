package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"craftbot/internal/logging"
	"craftbot/internal/repository"
)

// Store persists computed embeddings. The SQLite repository implements it
// natively; AuxStore adapts the file backends.
type Store interface {
	GetEmbedding(provider, el string) ([]float32, bool, error)
	PutEmbedding(provider, el string, vec []float32) error
}

// AuxStore keeps embeddings as a JSON aux artifact in the repository,
// one file per provider. Writes accumulate in memory; Flush persists.
type AuxStore struct {
	repo repository.Repository

	mu     sync.Mutex
	loaded map[string]map[string][]float32 // provider -> element -> vector
	dirty  map[string]bool
}

// NewAuxStore creates a store backed by the repository's aux storage.
func NewAuxStore(repo repository.Repository) *AuxStore {
	return &AuxStore{
		repo:   repo,
		loaded: make(map[string]map[string][]float32),
		dirty:  make(map[string]bool),
	}
}

// auxName flattens the provider name into a file-safe aux path.
func auxName(provider string) string {
	safe := strings.NewReplacer(":", "_", "/", "_").Replace(provider)
	return "embeddings/" + safe + ".json"
}

func (s *AuxStore) load(provider string) (map[string][]float32, error) {
	if vectors, ok := s.loaded[provider]; ok {
		return vectors, nil
	}
	vectors := make(map[string][]float32)
	data, err := s.repo.LoadAux(auxName(provider))
	switch {
	case errors.Is(err, repository.ErrAuxNotFound):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, &vectors); err != nil {
			return nil, fmt.Errorf("parse embedding cache %s: %w", auxName(provider), err)
		}
	}
	s.loaded[provider] = vectors
	return vectors, nil
}

func (s *AuxStore) GetEmbedding(provider, el string) ([]float32, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vectors, err := s.load(provider)
	if err != nil {
		return nil, false, err
	}
	vec, ok := vectors[el]
	return vec, ok, nil
}

func (s *AuxStore) PutEmbedding(provider, el string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vectors, err := s.load(provider)
	if err != nil {
		return err
	}
	vectors[el] = vec
	s.dirty[provider] = true
	return nil
}

// Flush writes every modified provider cache back to the repository.
func (s *AuxStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for provider := range s.dirty {
		data, err := json.Marshal(s.loaded[provider])
		if err != nil {
			return err
		}
		if err := s.repo.SaveAux(auxName(provider), data); err != nil {
			return err
		}
		delete(s.dirty, provider)
		logging.EmbeddingDebug("flushed %d cached embeddings for %s", len(s.loaded[provider]), provider)
	}
	return nil
}

// CachedEngine wraps an Engine with a persistent cache. Element names are
// embedded at most once per provider.
type CachedEngine struct {
	engine Engine
	store  Store
}

// NewCachedEngine wraps engine with store.
func NewCachedEngine(engine Engine, store Store) *CachedEngine {
	return &CachedEngine{engine: engine, store: store}
}

func (c *CachedEngine) Name() string { return c.engine.Name() }

func (c *CachedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok, err := c.store.GetEmbedding(c.engine.Name(), text); err != nil {
		return nil, err
	} else if ok {
		return vec, nil
	}

	vec, err := c.engine.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.PutEmbedding(c.engine.Name(), text, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch embeds only the cache misses, then reassembles the full result.
func (c *CachedEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		vec, ok, err := c.store.GetEmbedding(c.engine.Name(), text)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = vec
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}

	if len(missing) > 0 {
		logging.Embedding("embedding %d new texts (%d cached)", len(missing), len(texts)-len(missing))
		vecs, err := c.engine.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}
		for k, vec := range vecs {
			out[missingIdx[k]] = vec
			if err := c.store.PutEmbedding(c.engine.Name(), missing[k], vec); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
