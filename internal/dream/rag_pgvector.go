package dream

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

// pgxQuerier is the subset of pgxpool.Pool used by the knowledge index.
// Narrow so tests can substitute pgxmock.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGVectorKnowledgeStore persists embeddings in Postgres and retrieves by
// cosine distance. It backs the same Retriever/Ingestor pair as the memory
// store, so the pipeline does not care which one is wired.
type PGVectorKnowledgeStore struct {
	db     pgxQuerier
	client embeddingClient
	model  string
	logger *logging.Logger
}

// NewPGVectorKnowledgeStore creates a Postgres-backed store. The
// dream_knowledge table is created by migrations, not here.
func NewPGVectorKnowledgeStore(db pgxQuerier, client embeddingClient, model string, logger *logging.Logger) *PGVectorKnowledgeStore {
	if db == nil {
		panic("dream: database handle cannot be nil")
	}
	if client == nil {
		panic("dream: embedding client cannot be nil")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PGVectorKnowledgeStore{
		db:     db,
		client: client,
		model:  model,
		logger: logger,
	}
}

// AddDocuments embeds the passages and inserts them into dream_knowledge.
func (s *PGVectorKnowledgeStore) AddDocuments(ctx context.Context, contents []string) error {
	if len(contents) == 0 {
		return nil
	}

	req := &openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.model),
		Input: contents,
	}
	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return fmt.Errorf("dream: failed to embed documents: %w", err)
	}
	if len(resp.Data) != len(contents) {
		return errors.New("dream: embedding response size mismatch")
	}

	for i, item := range resp.Data {
		_, err := s.db.Exec(ctx,
			`INSERT INTO dream_knowledge (content, embedding) VALUES ($1, $2)`,
			contents[i], pgvector.NewVector(item.Embedding),
		)
		if err != nil {
			return fmt.Errorf("dream: failed to insert knowledge document: %w", err)
		}
	}

	s.logger.Info("knowledge documents indexed", "count", len(contents))
	return nil
}

// Retrieve returns the topK passages nearest to the query by cosine distance.
func (s *PGVectorKnowledgeStore) Retrieve(ctx context.Context, query string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = 3
	}

	req := &openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.model),
		Input: []string{query},
	}
	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("dream: failed to embed query: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT content FROM dream_knowledge ORDER BY embedding <=> $1 LIMIT $2`,
		pgvector.NewVector(resp.Data[0].Embedding), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("dream: knowledge query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("dream: failed to scan knowledge row: %w", err)
		}
		out = append(out, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dream: knowledge row iteration failed: %w", err)
	}
	return out, nil
}
