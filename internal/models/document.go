package models

import (
	"fmt"
	"time"
)

// DocumentChunk is one bounded segment of an ingested patient document.
// The ID is derived from (patient, document, index) so re-ingesting the
// same document overwrites instead of duplicating.
type DocumentChunk struct {
	ID           string
	Text         string
	PatientID    string
	DocumentName string
	ChunkIndex   int
	TotalChunks  int
	CreatedAt    time.Time
}

// ChunkRecord pairs a chunk with its embedding for storage.
type ChunkRecord struct {
	DocumentChunk
	Embedding []float32
}

// RetrievalMatch is a scored chunk returned by a similarity query.
// Scores are cosine similarity, higher is better.
type RetrievalMatch struct {
	ChunkID      string
	Score        float32
	Content      string
	DocumentName string
	PatientID    string
}

// PatientStats summarizes what is stored for a single patient.
type PatientStats struct {
	DocumentCount int `json:"documentCount"`
	ChunkCount    int `json:"chunkCount"`
}

// IngestResult reports the outcome of a document ingestion. Partial
// failures show up as ChunksStored < ChunksTotal, not as an error.
type IngestResult struct {
	Success      bool `json:"success"`
	ChunksStored int  `json:"chunksStored"`
	ChunksTotal  int  `json:"chunksTotal"`
}

// ChunkID builds the deterministic id for one chunk of a patient document.
func ChunkID(patientID, documentName string, index int) string {
	return fmt.Sprintf("%s-%s-%d", patientID, documentName, index)
}
