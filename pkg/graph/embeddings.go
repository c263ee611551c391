package graph

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	"time"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// EmbeddingMatch is one search hit with its cosine similarity.
type EmbeddingMatch struct {
	Embedding *types.Embedding `json:"embedding"`
	Score     float64          `json:"score"`
}

// PutEmbedding stores a vector for an entity. The record is keyed by the
// entity id plus the vector digest, so re-putting an unchanged vector is
// idempotent and a changed vector lands beside the old one.
func (g *Graph) PutEmbedding(ctx context.Context, entityID string, vector []float32, modelID string) (*types.Embedding, error) {
	if entityID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "entityId is required")
	}
	if len(vector) == 0 {
		return nil, errdefs.New(errdefs.KindInvalidInput, "vector is required")
	}

	hash := VectorHash(vector)
	if existing, err := g.meta.GetEmbedding(entityID, hash); err == nil {
		return existing, nil
	} else if !errdefs.Is(err, errdefs.KindNotFound) {
		return nil, err
	}

	emb := &types.Embedding{
		EntityID:  entityID,
		ModelID:   modelID,
		Vector:    append([]float32(nil), vector...),
		Hash:      hash,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.meta.PutEmbedding(emb); err != nil {
		return nil, err
	}
	return emb, nil
}

// DeleteEmbeddings removes all vectors stored for an entity.
func (g *Graph) DeleteEmbeddings(ctx context.Context, entityID string) error {
	return g.meta.DeleteEmbeddings(entityID)
}

// SearchEmbeddings ranks stored vectors by cosine similarity to the query.
// modelID narrows the candidate set when non-empty. Results come back
// highest score first; equal scores order by more recent createdAt.
func (g *Graph) SearchEmbeddings(ctx context.Context, query []float32, limit int, modelID string) ([]EmbeddingMatch, error) {
	if len(query) == 0 {
		return nil, errdefs.New(errdefs.KindInvalidInput, "query vector is required")
	}
	if limit <= 0 {
		limit = 10
	}

	candidates, err := g.meta.ListEmbeddings(modelID)
	if err != nil {
		return nil, err
	}

	matches := make([]EmbeddingMatch, 0, len(candidates))
	for _, emb := range candidates {
		score := CosineSimilarity(query, emb.Vector)
		matches = append(matches, EmbeddingMatch{Embedding: emb, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Embedding.CreatedAt.After(matches[j].Embedding.CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// VectorHash returns the hex digest of a vector's little-endian bytes.
func VectorHash(vector []float32) string {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
