// Package metastore persists dataset and batch-summary metadata after a
// parse. The ingestion core never imports it; callers decide what survives a
// restart, the pipeline itself does not require a database.
package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/minsukang/datapilot/stream"
)

// Dataset is one parsed file's metadata record.
type Dataset struct {
	ID           uuid.UUID
	FileName     string
	FilePath     string
	TotalRows    int64
	TotalBatches int
	RaggedRows   int64
	CreatedAt    time.Time
}

type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// Connect opens the pool with retries and ensures the metadata tables exist.
func Connect(ctx context.Context) (*pgxpool.Pool, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	var pool *pgxpool.Pool
	var err error
	maxRetries := 10
	retryDelay := time.Second * 10

	for i := 0; i < maxRetries; i++ {
		cfg, perr := pgxpool.ParseConfig(dbURL)
		if perr != nil {
			return nil, fmt.Errorf("unable to parse DATABASE_URL: %v", perr)
		}

		pool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err == nil {
			err = pool.Ping(ctx)
			if err == nil {
				log.Println("Successfully connected to the database")
				break
			}
		}

		log.Printf("Failed to connect to the database (attempt %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Printf("Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the database after %d attempts: %v", maxRetries, err)
	}

	if err := migrate(ctx, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS datasets (
			id UUID PRIMARY KEY,
			file_name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			total_rows BIGINT NOT NULL,
			total_batches INT NOT NULL,
			ragged_rows BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS batch_summaries (
			dataset_id UUID NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			batch_index INT NOT NULL,
			row_count INT NOT NULL,
			summary JSONB NOT NULL,
			PRIMARY KEY (dataset_id, batch_index)
		)`)
	if err != nil {
		return fmt.Errorf("unable to create metadata tables: %v", err)
	}
	return nil
}

func NewStore(db *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// SaveDataset records a parsed file under the caller-assigned id.
func (s *Store) SaveDataset(ctx context.Context, id uuid.UUID, fileName, filePath string, result stream.ParseResult) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO datasets (id, file_name, file_path, total_rows, total_batches, ragged_rows)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, fileName, filePath, result.TotalRows, result.TotalBatches, result.RaggedRows)
	if err != nil {
		return fmt.Errorf("failed to store dataset: %w", err)
	}
	return nil
}

// SaveBatchSummary persists one batch's summary as JSON.
func (s *Store) SaveBatchSummary(ctx context.Context, datasetID uuid.UUID, b *stream.Batch) error {
	payload, err := json.Marshal(b.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode batch summary: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO batch_summaries (dataset_id, batch_index, row_count, summary)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset_id, batch_index) DO UPDATE SET row_count = $3, summary = $4`,
		datasetID, b.Index, len(b.Rows), payload)
	if err != nil {
		return fmt.Errorf("failed to store batch summary: %w", err)
	}
	return nil
}

// GetDataset fetches one dataset record.
func (s *Store) GetDataset(ctx context.Context, id uuid.UUID) (*Dataset, error) {
	var d Dataset
	err := s.db.QueryRow(ctx, `
		SELECT id, file_name, file_path, total_rows, total_batches, ragged_rows, created_at
		FROM datasets WHERE id = $1`, id).
		Scan(&d.ID, &d.FileName, &d.FilePath, &d.TotalRows, &d.TotalBatches, &d.RaggedRows, &d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", id, err)
	}
	return &d, nil
}
