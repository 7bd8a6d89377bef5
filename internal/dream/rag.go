package dream

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, request openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Retriever exposes the query capability the report generator needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]string, error)
}

// Ingestor describes how dream-psychology knowledge is ingested.
type Ingestor interface {
	AddDocuments(ctx context.Context, contents []string) error
}

// MemoryKnowledgeStore keeps embeddings in memory and supports simple cosine
// retrieval. It is the fallback when no Postgres index is configured.
type MemoryKnowledgeStore struct {
	client embeddingClient
	model  string
	logger *logging.Logger

	mu        sync.RWMutex
	documents []knowledgeDocument
}

type knowledgeDocument struct {
	content   string
	embedding []float32
}

// NewMemoryKnowledgeStore creates an in-memory store.
func NewMemoryKnowledgeStore(client embeddingClient, model string, logger *logging.Logger) *MemoryKnowledgeStore {
	if client == nil {
		panic("dream: embedding client cannot be nil")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &MemoryKnowledgeStore{
		client: client,
		model:  model,
		logger: logger,
	}
}

// AddDocuments embeds and stores the provided passages.
func (s *MemoryKnowledgeStore) AddDocuments(ctx context.Context, contents []string) error {
	if len(contents) == 0 {
		return nil
	}

	req := &openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.model),
		Input: contents,
	}

	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return err
	}
	if len(resp.Data) != len(contents) {
		return errors.New("dream: embedding response size mismatch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range resp.Data {
		s.documents = append(s.documents, knowledgeDocument{
			content:   contents[i],
			embedding: item.Embedding,
		})
	}
	return nil
}

// Retrieve returns the topK passages most similar to the query.
func (s *MemoryKnowledgeStore) Retrieve(ctx context.Context, query string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = 3
	}
	req := &openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.model),
		Input: []string{query},
	}
	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}

	queryVec := resp.Data[0].Embedding

	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.documents) == 0 {
		return nil, nil
	}

	type scored struct {
		score   float64
		content string
	}
	results := make([]scored, 0, len(s.documents))
	for _, doc := range s.documents {
		results = append(results, scored{
			score:   cosineSimilarity(queryVec, doc.embedding),
			content: doc.content,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	limit := topK
	if len(results) < limit {
		limit = len(results)
	}

	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = results[i].content
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	var normA float64
	var normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
