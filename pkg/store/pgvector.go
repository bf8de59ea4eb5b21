package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/clinrag/clinrag/internal/logging"
	"github.com/clinrag/clinrag/internal/models"
)

// ErrDimensionMismatch means a vector reached the store with the wrong
// length. Reconciliation happens in the embedding chain; hitting this
// here is a bug, not an operational failure.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

type VectorStoreConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	SearchLimit int
}

// VectorStore is the pgvector-backed patient-partitioned index. When the
// database is unreachable it stays constructible and degrades every
// operation to a logged no-op, so the surrounding chat feature keeps
// working without retrieval augmentation.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool

	mu    sync.Mutex
	ready bool
}

func NewWithConfig(config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "patient_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1024
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}

	vs := &VectorStore{config: config}

	if config.ConnString == "" {
		logging.Logger().Warn("store: no database URL configured, vector search disabled")
		return vs, nil
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	vs.pool = pool

	if err := vs.ensureReady(context.Background()); err != nil {
		logging.Logger().Warn("store: vector backend unavailable, continuing degraded", "error", err)
	}

	return vs, nil
}

// ensureReady initializes the schema once. Safe to call concurrently and
// repeatedly; racing CREATE ... IF NOT EXISTS statements count as success.
func (vs *VectorStore) ensureReady(ctx context.Context) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.ready {
		return nil
	}
	if vs.pool == nil {
		return errors.New("no database configured")
	}

	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			document_name TEXT NOT NULL,
			chunk_index INTEGER,
			total_chunks INTEGER,
			content TEXT,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.config.TableName, vs.config.VectorDim)

	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	createPatientIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_patient_idx
		ON %s (patient_id)`,
		vs.config.TableName, vs.config.TableName)

	if _, err := vs.pool.Exec(ctx, createPatientIndex); err != nil {
		return fmt.Errorf("failed to create patient index: %v", err)
	}

	createVectorIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	if _, err := vs.pool.Exec(ctx, createVectorIndex); err != nil {
		return fmt.Errorf("failed to create vector index: %v", err)
	}

	vs.ready = true
	return nil
}

func (vs *VectorStore) Available() bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.ready
}

// Upsert stores records transactionally, replacing rows with the same id.
func (vs *VectorStore) Upsert(ctx context.Context, records []models.ChunkRecord) error {
	for _, record := range records {
		if len(record.Embedding) != vs.config.VectorDim {
			return fmt.Errorf("%w: got %d, index expects %d",
				ErrDimensionMismatch, len(record.Embedding), vs.config.VectorDim)
		}
	}

	if err := vs.ensureReady(ctx); err != nil {
		logging.Logger().Warn("store: skipping upsert, vector backend unavailable", "error", err)
		return nil
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, patient_id, document_name, chunk_index, total_chunks, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			chunk_index = EXCLUDED.chunk_index,
			total_chunks = EXCLUDED.total_chunks,
			created_at = EXCLUDED.created_at`,
		vs.config.TableName)

	for _, record := range records {
		_, err = tx.Exec(ctx, stmt,
			record.ID,
			record.PatientID,
			record.DocumentName,
			record.ChunkIndex,
			record.TotalChunks,
			sanitizeUTF8(record.Text),
			pgvector.NewVector(record.Embedding),
			record.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %s: %v", record.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %v", err)
	}

	return nil
}

// Query returns the topK most similar chunks for the patient, best
// first. The patient filter is applied in the WHERE clause, never by
// post-filtering, so sparse patients cannot be starved by other tenants.
func (vs *VectorStore) Query(ctx context.Context, vector []float32, topK int, patientID string) ([]models.RetrievalMatch, error) {
	if len(vector) != vs.config.VectorDim {
		return nil, fmt.Errorf("%w: got %d, index expects %d",
			ErrDimensionMismatch, len(vector), vs.config.VectorDim)
	}
	if topK <= 0 {
		topK = vs.config.SearchLimit
	}

	if err := vs.ensureReady(ctx); err != nil {
		logging.Logger().Warn("store: skipping query, vector backend unavailable", "error", err)
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, patient_id, document_name, content, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE patient_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vector), patientID, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %v", err)
	}
	defer rows.Close()

	var matches []models.RetrievalMatch
	for rows.Next() {
		var m models.RetrievalMatch
		var score float64
		if err := rows.Scan(&m.ChunkID, &m.PatientID, &m.DocumentName, &m.Content, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}

	return matches, rows.Err()
}

// DeleteByPatient removes every chunk stored for the patient.
func (vs *VectorStore) DeleteByPatient(ctx context.Context, patientID string) error {
	if err := vs.ensureReady(ctx); err != nil {
		logging.Logger().Warn("store: skipping delete, vector backend unavailable", "error", err)
		return nil
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE patient_id = $1", vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, stmt, patientID); err != nil {
		return fmt.Errorf("failed to delete patient chunks: %v", err)
	}
	return nil
}

// Stats counts stored chunks and distinct documents for the patient.
func (vs *VectorStore) Stats(ctx context.Context, patientID string) (models.PatientStats, error) {
	var stats models.PatientStats

	if err := vs.ensureReady(ctx); err != nil {
		logging.Logger().Warn("store: skipping stats, vector backend unavailable", "error", err)
		return stats, nil
	}

	query := fmt.Sprintf(`
		SELECT COUNT(*), COUNT(DISTINCT document_name)
		FROM %s
		WHERE patient_id = $1`,
		vs.config.TableName)

	row := vs.pool.QueryRow(ctx, query, patientID)
	if err := row.Scan(&stats.ChunkCount, &stats.DocumentCount); err != nil {
		return models.PatientStats{}, fmt.Errorf("failed to count chunks: %v", err)
	}

	return stats, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
