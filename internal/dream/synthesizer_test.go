package dream

import (
	"context"
	"errors"
	"strings"
	"testing"
)

var testReport = Report{
	Emotions: []Emotion{{Emotion: "두려움", Score: 0.8}, {Emotion: "무력감", Score: 0.5}},
	Keywords: []string{"군인", "추격", "어두운 숲"},
}

func TestNightmarePromptNeutralizesModelOutput(t *testing.T) {
	llm := &scriptedLLM{responses: []CompletionResponse{
		{Text: "A soldier chases through a dark forest, blood on the ground"},
	}}
	syn := NewSynthesizer(llm, nil, nil)

	prompt, err := syn.NightmarePrompt(context.Background(), "군인이 쫓아오는 꿈", testReport)
	if err != nil {
		t.Fatalf("NightmarePrompt returned error: %v", err)
	}
	lower := strings.ToLower(prompt)
	if strings.Contains(lower, "soldier") {
		t.Fatalf("expected soldier to be neutralized, got %q", prompt)
	}
	if strings.Contains(lower, "blood") {
		t.Fatalf("expected blood to be neutralized, got %q", prompt)
	}
	if !strings.Contains(prompt, "a figure") {
		t.Fatalf("expected the neutral replacement, got %q", prompt)
	}
}

func TestNightmarePromptIncludesAnalysis(t *testing.T) {
	llm := &scriptedLLM{responses: []CompletionResponse{{Text: "a misty landscape"}}}
	syn := NewSynthesizer(llm, nil, nil)

	if _, err := syn.NightmarePrompt(context.Background(), "꿈 내용", testReport); err != nil {
		t.Fatalf("NightmarePrompt returned error: %v", err)
	}
	sent := llm.requests[0].User
	if !strings.Contains(sent, "군인, 추격, 어두운 숲") {
		t.Fatal("expected keywords in the synthesis prompt")
	}
	if !strings.Contains(sent, "두려움") {
		t.Fatal("expected emotions in the synthesis prompt")
	}
}

func TestNightmarePromptPropagatesError(t *testing.T) {
	llm := &scriptedLLM{errs: []error{errors.New("upstream 500")}}
	syn := NewSynthesizer(llm, nil, nil)

	if _, err := syn.NightmarePrompt(context.Background(), "꿈 내용", testReport); err == nil {
		t.Fatal("expected an error")
	}
}

const validReconstructionJSON = `{"reconstructed_prompt": "A serene forest where figures walk together in warm light, 지배 replaced by 화합", "transformation_summary": "어두운 추격의 이미지가 함께 걷는 평화로운 장면으로 바뀌었습니다.", "keyword_mappings": [{"original": "군인", "transformed": "한 사람"}, {"original": "용", "transformed": "바람"}]}`

func TestReconstructedPromptParsesAndFilters(t *testing.T) {
	llm := &scriptedLLM{responses: []CompletionResponse{{Text: validReconstructionJSON}}}
	syn := NewSynthesizer(llm, nil, nil)

	result, err := syn.ReconstructedPrompt(context.Background(), "군인이 쫓아오는 꿈", testReport)
	if err != nil {
		t.Fatalf("ReconstructedPrompt returned error: %v", err)
	}
	if result.Summary == "" {
		t.Fatal("expected a transformation summary")
	}
	// "용" is not among the report keywords so its mapping is dropped.
	if len(result.Mappings) != 1 || result.Mappings[0].Original != "군인" {
		t.Fatalf("expected only keyword-backed mappings, got %+v", result.Mappings)
	}
	if !llm.requests[0].JSONMode {
		t.Fatal("expected JSON mode on the reconstruction request")
	}
}

func TestReconstructedPromptAppliesNeutralization(t *testing.T) {
	raw := `{"reconstructed_prompt": "A soldier rests under 지배 of the moon", "transformation_summary": "요약입니다.", "keyword_mappings": []}`
	llm := &scriptedLLM{responses: []CompletionResponse{{Text: raw}}}
	syn := NewSynthesizer(llm, nil, nil)

	result, err := syn.ReconstructedPrompt(context.Background(), "꿈 내용", testReport)
	if err != nil {
		t.Fatalf("ReconstructedPrompt returned error: %v", err)
	}
	if strings.Contains(strings.ToLower(result.Prompt), "soldier") {
		t.Fatalf("expected soldier neutralized, got %q", result.Prompt)
	}
	if strings.Contains(result.Prompt, "지배") {
		t.Fatalf("expected 지배 neutralized, got %q", result.Prompt)
	}
	if !strings.Contains(result.Prompt, "화합") {
		t.Fatalf("expected 화합 substitution, got %q", result.Prompt)
	}
}

func TestReconstructedPromptRepairsBrokenOutput(t *testing.T) {
	llm := &scriptedLLM{responses: []CompletionResponse{
		{Text: "not json"},
		{Text: validReconstructionJSON},
	}}
	syn := NewSynthesizer(llm, nil, nil)

	result, err := syn.ReconstructedPrompt(context.Background(), "꿈 내용", testReport)
	if err != nil {
		t.Fatalf("ReconstructedPrompt returned error: %v", err)
	}
	if result.Prompt == "" {
		t.Fatal("expected the repaired prompt")
	}
	if len(llm.requests) != 2 {
		t.Fatalf("expected exactly one repair attempt, got %d requests", len(llm.requests))
	}
}

func TestReconstructedPromptFailsAfterRepair(t *testing.T) {
	llm := &scriptedLLM{responses: []CompletionResponse{
		{Text: "garbage"},
		{Text: "still garbage"},
	}}
	syn := NewSynthesizer(llm, nil, nil)

	if _, err := syn.ReconstructedPrompt(context.Background(), "꿈 내용", testReport); err == nil {
		t.Fatal("expected an error after a failed repair")
	}
	if len(llm.requests) != 2 {
		t.Fatalf("expected repair to stop after one retry, got %d requests", len(llm.requests))
	}
}

func TestReconstructedPromptEmptyTranscript(t *testing.T) {
	syn := NewSynthesizer(&scriptedLLM{}, nil, nil)
	if _, err := syn.ReconstructedPrompt(context.Background(), " ", testReport); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}
