package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinrag/clinrag/internal/models"
	"github.com/clinrag/clinrag/pkg/store"
)

func record(id, patientID, document string, embedding []float32) models.ChunkRecord {
	return models.ChunkRecord{
		DocumentChunk: models.DocumentChunk{
			ID:           id,
			Text:         "content of " + id,
			PatientID:    patientID,
			DocumentName: document,
			CreatedAt:    time.Now().UTC(),
		},
		Embedding: embedding,
	}
}

func TestMemoryStorePatientIsolation(t *testing.T) {
	s := store.NewMemoryStore(3)
	ctx := context.Background()

	err := s.Upsert(ctx, []models.ChunkRecord{
		record("p1-notes-0", "p1", "notes", []float32{1, 0, 0}),
		record("p1-notes-1", "p1", "notes", []float32{0.9, 0.1, 0}),
		record("p1-labs-0", "p1", "labs", []float32{0.8, 0.2, 0}),
		record("p2-notes-0", "p2", "notes", []float32{1, 0, 0}),
		record("p2-notes-1", "p2", "notes", []float32{0.95, 0, 0.05}),
		record("p2-labs-0", "p2", "labs", []float32{0.99, 0.01, 0}),
	})
	require.NoError(t, err)

	matches, err := s.Query(ctx, []float32{1, 0, 0}, 10, "p1")
	require.NoError(t, err)
	require.Len(t, matches, 3)
	for _, m := range matches {
		assert.Equal(t, "p1", m.PatientID)
	}
}

func TestMemoryStoreDescendingScores(t *testing.T) {
	s := store.NewMemoryStore(3)
	ctx := context.Background()

	err := s.Upsert(ctx, []models.ChunkRecord{
		record("p1-d-0", "p1", "d", []float32{1, 0, 0}),
		record("p1-d-1", "p1", "d", []float32{0, 1, 0}),
		record("p1-d-2", "p1", "d", []float32{0.7, 0.7, 0}),
	})
	require.NoError(t, err)

	matches, err := s.Query(ctx, []float32{1, 0, 0}, 3, "p1")
	require.NoError(t, err)
	require.Len(t, matches, 3)

	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
	assert.Equal(t, "p1-d-0", matches[0].ChunkID)
}

func TestMemoryStoreIdempotentUpsert(t *testing.T) {
	s := store.NewMemoryStore(3)
	ctx := context.Background()

	batch := []models.ChunkRecord{
		record("p1-d-0", "p1", "d", []float32{1, 0, 0}),
		record("p1-d-1", "p1", "d", []float32{0, 1, 0}),
	}
	require.NoError(t, s.Upsert(ctx, batch))
	require.NoError(t, s.Upsert(ctx, batch))

	stats, err := s.Stats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ChunkCount)
	assert.Equal(t, 1, stats.DocumentCount)
}

func TestMemoryStoreDimensionMismatch(t *testing.T) {
	s := store.NewMemoryStore(4)
	ctx := context.Background()

	err := s.Upsert(ctx, []models.ChunkRecord{record("p1-d-0", "p1", "d", []float32{1, 0})})
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)

	_, err = s.Query(ctx, []float32{1, 0}, 3, "p1")
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
}

func TestMemoryStoreDeleteByPatient(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{
		record("p1-d-0", "p1", "d", []float32{1, 0}),
		record("p2-d-0", "p2", "d", []float32{0, 1}),
	}))

	require.NoError(t, s.DeleteByPatient(ctx, "p1"))

	p1Stats, err := s.Stats(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, p1Stats.ChunkCount)

	p2Stats, err := s.Stats(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, 1, p2Stats.ChunkCount)
}

func TestMemoryStoreTopKLimit(t *testing.T) {
	s := store.NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []models.ChunkRecord{
		record("p1-d-0", "p1", "d", []float32{1, 0}),
		record("p1-d-1", "p1", "d", []float32{0.9, 0.1}),
		record("p1-d-2", "p1", "d", []float32{0.8, 0.2}),
	}))

	matches, err := s.Query(ctx, []float32{1, 0}, 2, "p1")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}
