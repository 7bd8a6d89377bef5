// Command indexer ingests dream-psychology reference texts into the pgvector
// knowledge index. It reads .txt and .md files from a directory, chunks them
// on paragraph boundaries, and embeds each chunk.
package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"

	appconfig "github.com/boyeodream/dream-pipeline/internal/config"
	"github.com/boyeodream/dream-pipeline/internal/dream"
	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

const maxChunkChars = 1000

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if len(os.Args) < 2 {
		logger.Error("usage: indexer <directory>")
		os.Exit(1)
	}
	dir := os.Args[1]

	if cfg.OpenAIAPIKey == "" {
		logger.Error("OPENAI_API_KEY is required")
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	client := openai.NewClient(cfg.OpenAIAPIKey)
	store := dream.NewPGVectorKnowledgeStore(pool, client, cfg.OpenAIEmbeddingModel, logger)

	chunks, files, err := collectChunks(dir)
	if err != nil {
		logger.Error("failed to read source directory", "error", err)
		os.Exit(1)
	}
	if len(chunks) == 0 {
		logger.Warn("no indexable content found", "dir", dir)
		return
	}

	logger.Info("indexing knowledge documents", "files", files, "chunks", len(chunks))
	if err := store.AddDocuments(ctx, chunks); err != nil {
		logger.Error("indexing failed", "error", err)
		os.Exit(1)
	}
	logger.Info("indexing complete")
}

func collectChunks(dir string) ([]string, int, error) {
	var chunks []string
	files := 0

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files++
		chunks = append(chunks, chunkText(string(data))...)
		return nil
	})
	return chunks, files, err
}

// chunkText splits text into chunks of up to maxChunkChars, preferring
// paragraph boundaries so retrieved passages stay coherent.
func chunkText(text string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		if chunk := strings.TrimSpace(current.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(para) > maxChunkChars {
			flush()
		}
		// A single oversized paragraph is split hard.
		for len(para) > maxChunkChars {
			flush()
			current.WriteString(para[:maxChunkChars])
			flush()
			para = para[maxChunkChars:]
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}
