package types

import (
	"context"

	"github.com/clinrag/clinrag/internal/models"
)

// VectorIndex is a namespace-partitioned similarity index. Every stored
// record is tagged with a patient id and every query is filtered by one;
// implementations must apply the filter inside the index, never by
// post-filtering an unfiltered result set.
type VectorIndex interface {
	// Upsert stores records, replacing any existing record with the same id.
	Upsert(ctx context.Context, records []models.ChunkRecord) error
	// Query returns up to topK matches for the patient, best first.
	Query(ctx context.Context, vector []float32, topK int, patientID string) ([]models.RetrievalMatch, error)
	// DeleteByPatient removes everything stored for the patient.
	DeleteByPatient(ctx context.Context, patientID string) error
	// Stats counts stored chunks and distinct documents for the patient.
	Stats(ctx context.Context, patientID string) (models.PatientStats, error)
	// Available reports whether the backing index is reachable.
	Available() bool
	Close()
}

// Embedder turns text into a fixed-dimension vector. It never fails;
// the embedding chain degrades to a local generator instead.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
	TargetDim() int
}

// TextExtractor produces plain text from an uploaded file.
type TextExtractor interface {
	Extract(filename string, data []byte) (string, error)
}
