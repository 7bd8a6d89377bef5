package dream

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"

	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

var transcriberTracer = otel.Tracer("boyeodream.internal.dream.transcriber")

const defaultTranscriptionTimeout = 60 * time.Second

type transcriptionClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// Transcriber converts spoken dream recordings to text via the Whisper API.
// Failures are returned as errors, never as transcript text.
type Transcriber struct {
	client  transcriptionClient
	model   string
	timeout time.Duration
	logger  *logging.Logger
}

// NewTranscriber returns a Whisper-backed transcriber.
func NewTranscriber(client transcriptionClient, logger *logging.Logger) *Transcriber {
	if client == nil {
		panic("dream: transcription client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Transcriber{
		client:  client,
		model:   openai.Whisper1,
		timeout: defaultTranscriptionTimeout,
		logger:  logger,
	}
}

// Transcribe sends the audio payload to the STT API and returns the recognized
// text. filenameHint carries the original upload name so the API can infer the
// container format; it is never read from disk.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filenameHint string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyInput
	}
	if strings.TrimSpace(filenameHint) == "" {
		filenameHint = "recording.m4a"
	}

	ctx, span := transcriberTracer.Start(ctx, "dream.transcribe")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.client.CreateTranscription(callCtx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filenameHint,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("dream: transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("dream: transcription returned no text")
	}

	t.logger.Debug("transcription complete", "chars", len(text))
	return text, nil
}
