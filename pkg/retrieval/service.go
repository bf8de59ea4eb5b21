package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clinrag/clinrag/internal/logging"
	"github.com/clinrag/clinrag/internal/models"
	"github.com/clinrag/clinrag/internal/types"
	"github.com/clinrag/clinrag/pkg/chunker"
)

// ErrInvalidRequest covers missing identifiers on a core operation.
var ErrInvalidRequest = errors.New("invalid retrieval request")

type ServiceConfig struct {
	TopK      int
	BatchSize int // chunks embedded concurrently per batch
}

// Service orchestrates chunking, embedding and storage per patient.
// Ingestion and query are stateless request-scoped operations; the only
// shared state lives in the injected index.
type Service struct {
	config   ServiceConfig
	chunker  chunker.Chunker
	embedder types.Embedder
	index    types.VectorIndex
}

func New(c chunker.Chunker, embedder types.Embedder, index types.VectorIndex, config ServiceConfig) *Service {
	if config.TopK == 0 {
		config.TopK = 5
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	return &Service{
		config:   config,
		chunker:  c,
		embedder: embedder,
		index:    index,
	}
}

// AddDocument chunks and embeds content, then upserts everything under
// the patient's namespace. Chunk ids derive from (patient, document,
// index), so re-ingesting a document overwrites its previous chunks.
// Batches that fail to store are logged and skipped; whatever succeeded
// stays committed and is reflected in ChunksStored.
func (s *Service) AddDocument(ctx context.Context, patientID, documentName, content string) (models.IngestResult, error) {
	if strings.TrimSpace(patientID) == "" {
		return models.IngestResult{}, fmt.Errorf("%w: patient id required", ErrInvalidRequest)
	}
	if strings.TrimSpace(documentName) == "" {
		return models.IngestResult{}, fmt.Errorf("%w: document name required", ErrInvalidRequest)
	}

	chunks, err := s.chunker.Chunk(content)
	if err != nil {
		return models.IngestResult{}, err
	}
	if len(chunks) == 0 {
		logging.Logger().Warn("retrieval: document produced no usable chunks",
			"patient", patientID, "document", documentName)
		return models.IngestResult{}, nil
	}

	result := models.IngestResult{ChunksTotal: len(chunks)}
	createdAt := time.Now().UTC()

	for start := 0; start < len(chunks); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		records := make([]models.ChunkRecord, end-start)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				records[i-start] = models.ChunkRecord{
					DocumentChunk: models.DocumentChunk{
						ID:           models.ChunkID(patientID, documentName, i),
						Text:         chunks[i],
						PatientID:    patientID,
						DocumentName: documentName,
						ChunkIndex:   i,
						TotalChunks:  len(chunks),
						CreatedAt:    createdAt,
					},
					Embedding: s.embedder.Embed(ctx, chunks[i]),
				}
			}(i)
		}
		wg.Wait()

		if err := s.index.Upsert(ctx, records); err != nil {
			logging.Logger().Warn("retrieval: failed to store chunk batch",
				"patient", patientID, "document", documentName,
				"batch_start", start, "error", err)
			continue
		}
		if s.index.Available() {
			result.ChunksStored += len(records)
		}
	}

	result.Success = result.ChunksStored > 0
	return result, nil
}

// QueryRelevantContent embeds the query and searches the patient's
// namespace. It never returns an error: no relevant content and an
// unavailable backend both come back as an empty result, and callers
// are expected to treat them identically.
func (s *Service) QueryRelevantContent(ctx context.Context, patientID, query string, topK int) []models.RetrievalMatch {
	if strings.TrimSpace(patientID) == "" || strings.TrimSpace(query) == "" {
		return nil
	}
	if topK <= 0 {
		topK = s.config.TopK
	}

	vector := s.embedder.Embed(ctx, query)
	matches, err := s.index.Query(ctx, vector, topK, patientID)
	if err != nil {
		logging.Logger().Warn("retrieval: query failed, returning no matches",
			"patient", patientID, "error", err)
		return nil
	}
	return matches
}

// RemovePatientDocuments deletes everything stored for the patient.
func (s *Service) RemovePatientDocuments(ctx context.Context, patientID string) bool {
	if strings.TrimSpace(patientID) == "" {
		return false
	}
	if err := s.index.DeleteByPatient(ctx, patientID); err != nil {
		logging.Logger().Warn("retrieval: failed to remove patient documents",
			"patient", patientID, "error", err)
		return false
	}
	return true
}

// GetStats reports how many chunks and distinct documents are stored
// for the patient.
func (s *Service) GetStats(ctx context.Context, patientID string) models.PatientStats {
	if strings.TrimSpace(patientID) == "" {
		return models.PatientStats{}
	}
	stats, err := s.index.Stats(ctx, patientID)
	if err != nil {
		logging.Logger().Warn("retrieval: failed to read stats",
			"patient", patientID, "error", err)
		return models.PatientStats{}
	}
	return stats
}
