package dream

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// stubEmbeddingClient returns fixed embeddings keyed by input text.
type stubEmbeddingClient struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbeddingClient) CreateEmbeddings(_ context.Context, request openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	if s.err != nil {
		return openai.EmbeddingResponse{}, s.err
	}

	req, ok := request.(*openai.EmbeddingRequest)
	if !ok {
		return openai.EmbeddingResponse{}, errors.New("unexpected request type")
	}
	inputs, ok := req.Input.([]string)
	if !ok {
		return openai.EmbeddingResponse{}, errors.New("unexpected input type")
	}

	resp := openai.EmbeddingResponse{}
	for _, in := range inputs {
		vec, ok := s.vectors[in]
		if !ok {
			vec = []float32{0, 0, 1}
		}
		resp.Data = append(resp.Data, openai.Embedding{Embedding: vec})
	}
	return resp, nil
}

func TestMemoryKnowledgeStoreRetrievesBySimilarity(t *testing.T) {
	client := &stubEmbeddingClient{vectors: map[string][]float32{
		"악몽과 추격":  {1, 0, 0},
		"수면과 호흡":  {0, 1, 0},
		"추격당하는 꿈": {0.9, 0.1, 0},
	}}
	store := NewMemoryKnowledgeStore(client, "", nil)
	ctx := context.Background()

	if err := store.AddDocuments(ctx, []string{"악몽과 추격", "수면과 호흡"}); err != nil {
		t.Fatalf("AddDocuments returned error: %v", err)
	}

	got, err := store.Retrieve(ctx, "추격당하는 꿈", 1)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(got) != 1 || got[0] != "악몽과 추격" {
		t.Fatalf("expected the chase passage first, got %v", got)
	}
}

func TestMemoryKnowledgeStoreEmptyIndex(t *testing.T) {
	store := NewMemoryKnowledgeStore(&stubEmbeddingClient{}, "", nil)
	got, err := store.Retrieve(context.Background(), "아무 질의", 3)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no results from an empty index, got %v", got)
	}
}

func TestMemoryKnowledgeStoreTopKBounds(t *testing.T) {
	client := &stubEmbeddingClient{vectors: map[string][]float32{}}
	store := NewMemoryKnowledgeStore(client, "", nil)
	ctx := context.Background()

	if err := store.AddDocuments(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("AddDocuments returned error: %v", err)
	}
	got, err := store.Retrieve(ctx, "query", 10)
	if err != nil {
		t.Fatalf("Retrieve returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected all 2 documents, got %d", len(got))
	}
}

func TestMemoryKnowledgeStoreEmbeddingFailure(t *testing.T) {
	store := NewMemoryKnowledgeStore(&stubEmbeddingClient{err: errors.New("quota exceeded")}, "", nil)
	if err := store.AddDocuments(context.Background(), []string{"doc"}); err == nil {
		t.Fatal("expected an error from a failed embedding call")
	}
	if _, err := store.Retrieve(context.Background(), "query", 3); err == nil {
		t.Fatal("expected an error from a failed query embedding")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Fatalf("expected identical vectors to score 1, got %v", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Fatalf("expected orthogonal vectors to score 0, got %v", got)
	}
	if got := cosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Fatalf("expected mismatched dimensions to score 0, got %v", got)
	}
}
