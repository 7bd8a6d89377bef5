package dream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

var synthTracer = otel.Tracer("boyeodream.internal.dream.synthesizer")

// Synthesizer turns a transcript plus its report into the two image prompts:
// the metaphorical rendering of the nightmare itself, and the positively
// reconstructed counterpart with its keyword mappings.
type Synthesizer struct {
	llm       LLMClient
	templates *TemplateRegistry
	logger    *logging.Logger
}

// NewSynthesizer builds a synthesizer over the given LLM client.
func NewSynthesizer(llm LLMClient, templates *TemplateRegistry, logger *logging.Logger) *Synthesizer {
	if llm == nil {
		panic("dream: llm client cannot be nil")
	}
	if templates == nil {
		templates = DefaultTemplates()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Synthesizer{
		llm:       llm,
		templates: templates,
		logger:    logger,
	}
}

// NightmarePrompt produces the safe, metaphorical image prompt for the
// original nightmare. The deterministic neutralization pass runs on the model
// output, so the returned prompt never contains the listed sensitive terms.
func (s *Synthesizer) NightmarePrompt(ctx context.Context, transcript string, report Report) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", ErrEmptyInput
	}

	ctx, span := synthTracer.Start(ctx, "dream.synthesize_nightmare_prompt")
	defer span.End()

	tmpl, err := s.templates.Lookup(StageNightmarePrompt)
	if err != nil {
		return "", err
	}
	prompt := renderTemplate(tmpl, map[string]string{
		"dream_text": transcript,
		"keywords":   strings.Join(report.Keywords, ", "),
		"emotions":   formatEmotions(report.Emotions),
	})

	resp, err := s.llm.Complete(ctx, CompletionRequest{
		User:        prompt,
		Temperature: 0.7,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("dream: nightmare prompt synthesis failed: %w", err)
	}

	out := strings.TrimSpace(resp.Text)
	if out == "" {
		return "", fmt.Errorf("dream: nightmare prompt synthesis returned empty text")
	}
	return NeutralizeSensitiveTerms(out), nil
}

// ReconstructedPrompt produces the positively reframed image prompt, the
// Korean transformation summary, and the keyword mappings in a single call.
// Mappings whose original does not appear among the report keywords are
// dropped rather than surfaced.
func (s *Synthesizer) ReconstructedPrompt(ctx context.Context, transcript string, report Report) (ReconstructionResult, error) {
	if strings.TrimSpace(transcript) == "" {
		return ReconstructionResult{}, ErrEmptyInput
	}

	ctx, span := synthTracer.Start(ctx, "dream.synthesize_reconstruction")
	defer span.End()

	tmpl, err := s.templates.Lookup(StageReconstruction)
	if err != nil {
		return ReconstructionResult{}, err
	}
	prompt := renderTemplate(tmpl, map[string]string{
		"dream_text": transcript,
		"keywords":   strings.Join(report.Keywords, ", "),
		"emotions":   formatEmotions(report.Emotions),
	})

	resp, err := s.llm.Complete(ctx, CompletionRequest{
		User:        prompt,
		JSONMode:    true,
		Temperature: 0.7,
	})
	if err != nil {
		span.RecordError(err)
		return ReconstructionResult{}, fmt.Errorf("dream: reconstruction synthesis failed: %w", err)
	}

	result, parseErr := parseReconstruction(resp.Text)
	if parseErr != nil {
		s.logger.Warn("reconstruction output unparseable, attempting repair", "error", parseErr.Error())
		result, err = s.repairReconstruction(ctx, transcript, report, resp.Text, parseErr)
		if err != nil {
			span.RecordError(err)
			return ReconstructionResult{}, err
		}
	}

	result.Prompt = NeutralizeSensitiveTerms(result.Prompt)
	result.Mappings = filterMappings(result.Mappings, report.Keywords)
	return result, nil
}

func (s *Synthesizer) repairReconstruction(ctx context.Context, transcript string, report Report, previous string, parseErr error) (ReconstructionResult, error) {
	tmpl, err := s.templates.Lookup(StageReconstructionRepair)
	if err != nil {
		return ReconstructionResult{}, err
	}
	prompt := renderTemplate(tmpl, map[string]string{
		"parse_error":     parseErr.Error(),
		"previous_output": previous,
		"dream_text":      transcript,
		"keywords":        strings.Join(report.Keywords, ", "),
	})

	resp, err := s.llm.Complete(ctx, CompletionRequest{
		User:        prompt,
		JSONMode:    true,
		Temperature: 0,
	})
	if err != nil {
		return ReconstructionResult{}, fmt.Errorf("dream: reconstruction repair failed: %w", err)
	}
	return parseReconstruction(resp.Text)
}

func parseReconstruction(raw string) (ReconstructionResult, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return ReconstructionResult{}, fmt.Errorf("dream: no JSON object in model output")
	}

	var result ReconstructionResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return ReconstructionResult{}, fmt.Errorf("dream: reconstruction decode failed: %w", err)
	}
	if strings.TrimSpace(result.Prompt) == "" {
		return ReconstructionResult{}, fmt.Errorf("dream: reconstruction has no prompt")
	}
	if strings.TrimSpace(result.Summary) == "" {
		return ReconstructionResult{}, fmt.Errorf("dream: reconstruction has no summary")
	}
	return result, nil
}

// filterMappings keeps only mappings whose original appears among the report
// keywords, matching case-insensitively in either direction so partial
// keyword phrases still count.
func filterMappings(mappings []KeywordMapping, keywords []string) []KeywordMapping {
	if len(mappings) == 0 || len(keywords) == 0 {
		return nil
	}
	out := make([]KeywordMapping, 0, len(mappings))
	for _, m := range mappings {
		original := strings.ToLower(strings.TrimSpace(m.Original))
		if original == "" || strings.TrimSpace(m.Transformed) == "" {
			continue
		}
		for _, kw := range keywords {
			k := strings.ToLower(strings.TrimSpace(kw))
			if k == "" {
				continue
			}
			if strings.Contains(k, original) || strings.Contains(original, k) {
				out = append(out, m)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func formatEmotions(emotions []Emotion) string {
	if len(emotions) == 0 {
		return "(none identified)"
	}
	parts := make([]string, 0, len(emotions))
	for _, e := range emotions {
		parts = append(parts, fmt.Sprintf("%s (%.2f)", e.Emotion, e.Score))
	}
	return strings.Join(parts, ", ")
}
