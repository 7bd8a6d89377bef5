package dream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

var reportTracer = otel.Tracer("boyeodream.internal.dream.report")

// sentinelReport is returned when analysis cannot produce a valid report even
// after a repair attempt. The pipeline continues with it rather than aborting.
func sentinelReport() Report {
	return Report{
		Emotions:        []Emotion{{Emotion: "알 수 없음", Score: 0}},
		Keywords:        []string{},
		AnalysisSummary: "꿈 분석 중 오류가 발생하여 결과를 생성하지 못했습니다.",
		Failed:          true,
	}
}

// ReportGenerator turns a screened transcript into an emotion and keyword
// report. When a retriever is wired, retrieved passages ground the summary;
// when retrieval fails the analysis proceeds without it.
type ReportGenerator struct {
	llm       LLMClient
	retriever Retriever
	templates *TemplateRegistry
	topK      int
	logger    *logging.Logger
}

// NewReportGenerator builds a generator. retriever may be nil to disable
// retrieval entirely.
func NewReportGenerator(llm LLMClient, retriever Retriever, templates *TemplateRegistry, topK int, logger *logging.Logger) *ReportGenerator {
	if llm == nil {
		panic("dream: llm client cannot be nil")
	}
	if templates == nil {
		templates = DefaultTemplates()
	}
	if topK <= 0 {
		topK = 3
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReportGenerator{
		llm:       llm,
		retriever: retriever,
		templates: templates,
		topK:      topK,
		logger:    logger,
	}
}

// Generate produces a report for the transcript. It never returns an error for
// model-output problems: after one repair attempt it falls back to a sentinel
// report so the pipeline can continue. Only an empty transcript is an error.
func (g *ReportGenerator) Generate(ctx context.Context, transcript string) (Report, error) {
	if strings.TrimSpace(transcript) == "" {
		return Report{}, ErrEmptyInput
	}

	ctx, span := reportTracer.Start(ctx, "dream.generate_report")
	defer span.End()

	contextBlock := g.retrieveContext(ctx, transcript)

	tmpl, err := g.templates.Lookup(StageReport)
	if err != nil {
		return Report{}, err
	}
	prompt := renderTemplate(tmpl, map[string]string{
		"context":    contextBlock,
		"dream_text": transcript,
	})

	resp, err := g.llm.Complete(ctx, CompletionRequest{
		User:        prompt,
		JSONMode:    true,
		Temperature: 0.3,
	})
	if err != nil {
		span.RecordError(err)
		g.logger.Error("report completion failed", "error", err.Error())
		return sentinelReport(), nil
	}

	report, parseErr := parseReport(resp.Text)
	if parseErr == nil {
		return report, nil
	}

	g.logger.Warn("report output unparseable, attempting repair", "error", parseErr.Error())
	report, repairErr := g.repair(ctx, transcript, resp.Text, parseErr)
	if repairErr != nil {
		span.RecordError(repairErr)
		g.logger.Error("report repair failed, using sentinel", "error", repairErr.Error())
		return sentinelReport(), nil
	}
	return report, nil
}

// repair feeds the broken output and the parse error back to the model for
// one corrective attempt.
func (g *ReportGenerator) repair(ctx context.Context, transcript, previous string, parseErr error) (Report, error) {
	tmpl, err := g.templates.Lookup(StageReportRepair)
	if err != nil {
		return Report{}, err
	}
	prompt := renderTemplate(tmpl, map[string]string{
		"parse_error":     parseErr.Error(),
		"previous_output": previous,
		"dream_text":      transcript,
	})

	resp, err := g.llm.Complete(ctx, CompletionRequest{
		User:        prompt,
		JSONMode:    true,
		Temperature: 0,
	})
	if err != nil {
		return Report{}, fmt.Errorf("dream: repair completion failed: %w", err)
	}
	return parseReport(resp.Text)
}

func (g *ReportGenerator) retrieveContext(ctx context.Context, transcript string) string {
	if g.retriever == nil {
		return "(no professional knowledge available)"
	}
	passages, err := g.retriever.Retrieve(ctx, transcript, g.topK)
	if err != nil {
		g.logger.Warn("knowledge retrieval failed, continuing without context", "error", err.Error())
		return "(no professional knowledge available)"
	}
	if len(passages) == 0 {
		return "(no professional knowledge available)"
	}
	return strings.Join(passages, "\n\n---\n\n")
}

// parseReport decodes model output into a Report, enforcing the schema and
// normalizing emotion scores onto [0,1].
func parseReport(raw string) (Report, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return Report{}, fmt.Errorf("dream: no JSON object in model output")
	}

	var report Report
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&report); err != nil {
		return Report{}, fmt.Errorf("dream: report decode failed: %w", err)
	}

	if len(report.Emotions) == 0 {
		return Report{}, fmt.Errorf("dream: report has no emotions")
	}
	if strings.TrimSpace(report.AnalysisSummary) == "" {
		return Report{}, fmt.Errorf("dream: report has no analysis summary")
	}
	for _, e := range report.Emotions {
		if strings.TrimSpace(e.Emotion) == "" {
			return Report{}, fmt.Errorf("dream: report has an unnamed emotion")
		}
	}
	if report.Keywords == nil {
		report.Keywords = []string{}
	}

	normalizeScores(&report)
	return report, nil
}

// normalizeScores converts percentage-style scores onto the canonical [0,1]
// scale and clamps the result. Models occasionally emit 0-100 despite
// instructions; the rest of the system only ever sees [0,1].
func normalizeScores(report *Report) {
	for i, e := range report.Emotions {
		score := e.Score
		if score > 1 {
			score = score / 100
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		report.Emotions[i].Score = score
	}
}

// extractJSON pulls the outermost JSON object out of model output, tolerating
// markdown code fences and surrounding prose.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
