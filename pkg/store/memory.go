package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/clinrag/clinrag/internal/models"
)

// MemoryStore is a brute-force cosine index over an in-process map. It
// honors the same contract as the pgvector store, including server-side
// patient filtering, and backs tests and database-less deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]models.ChunkRecord
}

func NewMemoryStore(dimension int) *MemoryStore {
	if dimension <= 0 {
		dimension = 1024
	}
	return &MemoryStore{
		dimension: dimension,
		records:   make(map[string]models.ChunkRecord),
	}
}

func (s *MemoryStore) Available() bool { return true }

func (s *MemoryStore) Upsert(_ context.Context, records []models.ChunkRecord) error {
	for _, record := range records {
		if len(record.Embedding) != s.dimension {
			return fmt.Errorf("%w: got %d, index expects %d",
				ErrDimensionMismatch, len(record.Embedding), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.records[record.ID] = record
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, vector []float32, topK int, patientID string) ([]models.RetrievalMatch, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, index expects %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []models.RetrievalMatch
	for _, record := range s.records {
		if record.PatientID != patientID {
			continue
		}
		matches = append(matches, models.RetrievalMatch{
			ChunkID:      record.ID,
			Score:        float32(cosineSimilarity(vector, record.Embedding)),
			Content:      record.Text,
			DocumentName: record.DocumentName,
			PatientID:    record.PatientID,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) DeleteByPatient(_ context.Context, patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, record := range s.records {
		if record.PatientID == patientID {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *MemoryStore) Stats(_ context.Context, patientID string) (models.PatientStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	documents := make(map[string]struct{})
	var stats models.PatientStats
	for _, record := range s.records {
		if record.PatientID != patientID {
			continue
		}
		stats.ChunkCount++
		documents[record.DocumentName] = struct{}{}
	}
	stats.DocumentCount = len(documents)
	return stats, nil
}

func (s *MemoryStore) Close() {}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
