package dream

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// scriptedLLM returns canned responses in order, recording each request.
type scriptedLLM struct {
	responses []CompletionResponse
	errs      []error
	requests  []CompletionRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	i := len(s.requests)
	s.requests = append(s.requests, req)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var resp CompletionResponse
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

type stubRetriever struct {
	passages []string
	err      error
	queries  []string
}

func (s *stubRetriever) Retrieve(_ context.Context, query string, _ int) ([]string, error) {
	s.queries = append(s.queries, query)
	return s.passages, s.err
}

const validReportJSON = `{"emotions": [{"emotion": "두려움", "score": 0.8}, {"emotion": "불안", "score": 0.6}], "keywords": ["군인", "추격"], "analysis_summary": "추격당하는 강한 두려움이 나타납니다."}`

func TestGenerateParsesReport(t *testing.T) {
	llm := &scriptedLLM{responses: []CompletionResponse{{Text: validReportJSON}}}
	gen := NewReportGenerator(llm, nil, nil, 3, nil)

	report, err := gen.Generate(context.Background(), "군인들이 저를 쫓아왔어요")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if report.Failed {
		t.Fatal("expected a successful report")
	}
	if len(report.Emotions) != 2 || report.Emotions[0].Emotion != "두려움" {
		t.Fatalf("unexpected emotions: %+v", report.Emotions)
	}
	if len(report.Keywords) != 2 {
		t.Fatalf("unexpected keywords: %v", report.Keywords)
	}
	if !llm.requests[0].JSONMode {
		t.Fatal("expected JSON mode on the report request")
	}
}

func TestGenerateGroundsPromptInRetrievedPassages(t *testing.T) {
	llm := &scriptedLLM{responses: []CompletionResponse{{Text: validReportJSON}}}
	retriever := &stubRetriever{passages: []string{"IRT 문헌 구절"}}
	gen := NewReportGenerator(llm, retriever, nil, 3, nil)

	if _, err := gen.Generate(context.Background(), "꿈 내용"); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if len(retriever.queries) != 1 {
		t.Fatalf("expected one retrieval, got %d", len(retriever.queries))
	}
	if !strings.Contains(llm.requests[0].User, "IRT 문헌 구절") {
		t.Fatal("expected retrieved passage in the prompt")
	}
}

func TestGenerateContinuesWhenRetrievalFails(t *testing.T) {
	llm := &scriptedLLM{responses: []CompletionResponse{{Text: validReportJSON}}}
	retriever := &stubRetriever{err: errors.New("pgvector down")}
	gen := NewReportGenerator(llm, retriever, nil, 3, nil)

	report, err := gen.Generate(context.Background(), "꿈 내용")
	if err != nil {
		t.Fatalf("expected analysis to continue without retrieval, got %v", err)
	}
	if report.Failed {
		t.Fatal("expected a successful report despite retrieval failure")
	}
}

func TestGenerateRepairsBrokenOutput(t *testing.T) {
	llm := &scriptedLLM{responses: []CompletionResponse{
		{Text: "Here is the analysis: not json at all"},
		{Text: validReportJSON},
	}}
	gen := NewReportGenerator(llm, nil, nil, 3, nil)

	report, err := gen.Generate(context.Background(), "꿈 내용")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if report.Failed {
		t.Fatal("expected repair to produce a valid report")
	}
	if len(llm.requests) != 2 {
		t.Fatalf("expected exactly one repair attempt, got %d requests", len(llm.requests))
	}
	if !strings.Contains(llm.requests[1].User, "not json at all") {
		t.Fatal("expected the broken output to be fed back for repair")
	}
}

func TestGenerateSentinelAfterRepairFails(t *testing.T) {
	llm := &scriptedLLM{responses: []CompletionResponse{
		{Text: "garbage"},
		{Text: "still garbage"},
	}}
	gen := NewReportGenerator(llm, nil, nil, 3, nil)

	report, err := gen.Generate(context.Background(), "꿈 내용")
	if err != nil {
		t.Fatalf("expected sentinel instead of error, got %v", err)
	}
	if !report.Failed {
		t.Fatal("expected the sentinel report to be marked failed")
	}
	if report.AnalysisSummary == "" {
		t.Fatal("expected the sentinel report to carry a summary")
	}
	if len(llm.requests) != 2 {
		t.Fatalf("expected repair to stop after one retry, got %d requests", len(llm.requests))
	}
}

func TestGenerateSentinelOnCompletionError(t *testing.T) {
	llm := &scriptedLLM{errs: []error{errors.New("upstream 500")}}
	gen := NewReportGenerator(llm, nil, nil, 3, nil)

	report, err := gen.Generate(context.Background(), "꿈 내용")
	if err != nil {
		t.Fatalf("expected sentinel instead of error, got %v", err)
	}
	if !report.Failed {
		t.Fatal("expected sentinel report on completion failure")
	}
}

func TestGenerateEmptyTranscript(t *testing.T) {
	gen := NewReportGenerator(&scriptedLLM{}, nil, nil, 3, nil)
	if _, err := gen.Generate(context.Background(), "  "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestParseReportStripsCodeFences(t *testing.T) {
	fenced := "```json\n" + validReportJSON + "\n```"
	report, err := parseReport(fenced)
	if err != nil {
		t.Fatalf("parseReport returned error: %v", err)
	}
	if len(report.Emotions) != 2 {
		t.Fatalf("unexpected emotions: %+v", report.Emotions)
	}
}

func TestNormalizeScoresPercentScale(t *testing.T) {
	raw := `{"emotions": [{"emotion": "두려움", "score": 80}, {"emotion": "불안", "score": 0.6}, {"emotion": "슬픔", "score": -3}], "keywords": [], "analysis_summary": "요약"}`
	report, err := parseReport(raw)
	if err != nil {
		t.Fatalf("parseReport returned error: %v", err)
	}
	if report.Emotions[0].Score != 0.8 {
		t.Fatalf("expected 80 -> 0.8, got %v", report.Emotions[0].Score)
	}
	if report.Emotions[1].Score != 0.6 {
		t.Fatalf("expected 0.6 untouched, got %v", report.Emotions[1].Score)
	}
	if report.Emotions[2].Score != 0 {
		t.Fatalf("expected negative score clamped to 0, got %v", report.Emotions[2].Score)
	}
}

func TestParseReportRejectsMissingSummary(t *testing.T) {
	raw := `{"emotions": [{"emotion": "두려움", "score": 0.8}], "keywords": [], "analysis_summary": ""}`
	if _, err := parseReport(raw); err == nil {
		t.Fatal("expected an error for a missing summary")
	}
}
