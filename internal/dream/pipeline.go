package dream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/boyeodream/dream-pipeline/internal/observability/metrics"
	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

// Stage names used in failure records and metrics labels.
const (
	stageTranscription = "transcription"
	stageScreening     = "screening"
	stageAnalysis      = "analysis"
	stageSynthesis     = "synthesis"
	stageRendering     = "rendering"

	statusOK      = "ok"
	statusFailed  = "failed"
	statusBlocked = "blocked"
)

// Submission is one user input: an audio recording, plain text, or both.
// When both are present the text wins and transcription is skipped.
type Submission struct {
	Audio    []byte
	Filename string
	Text     string
}

// Empty reports whether the submission carries no usable input.
func (s Submission) Empty() bool {
	return len(s.Audio) == 0 && strings.TrimSpace(s.Text) == ""
}

type transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filenameHint string) (string, error)
}

type screener interface {
	Check(ctx context.Context, text string) (Verdict, error)
}

type reportGenerator interface {
	Generate(ctx context.Context, transcript string) (Report, error)
}

type promptSynthesizer interface {
	NightmarePrompt(ctx context.Context, transcript string, report Report) (string, error)
	ReconstructedPrompt(ctx context.Context, transcript string, report Report) (ReconstructionResult, error)
}

type imageRenderer interface {
	Render(ctx context.Context, variant Variant, prompt string) ImageResult
}

// Pipeline drives one session through the full stage sequence. All stage
// transitions go through the session guard table; the pipeline never writes
// State directly.
type Pipeline struct {
	transcriber transcriber
	screener    screener
	reports     reportGenerator
	synthesizer promptSynthesizer
	renderer    imageRenderer
	store       SessionStore
	metrics     *metrics.PipelineMetrics
	logger      *logging.Logger
	tracer      trace.Tracer
}

// NewPipeline wires the stage implementations together. metrics may be nil.
func NewPipeline(
	t transcriber,
	sc screener,
	rg reportGenerator,
	sy promptSynthesizer,
	rd imageRenderer,
	store SessionStore,
	m *metrics.PipelineMetrics,
	logger *logging.Logger,
) *Pipeline {
	if t == nil {
		panic("dream: transcriber cannot be nil")
	}
	if sc == nil {
		panic("dream: screener cannot be nil")
	}
	if rg == nil {
		panic("dream: report generator cannot be nil")
	}
	if sy == nil {
		panic("dream: synthesizer cannot be nil")
	}
	if rd == nil {
		panic("dream: renderer cannot be nil")
	}
	if store == nil {
		panic("dream: session store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		transcriber: t,
		screener:    sc,
		reports:     rg,
		synthesizer: sy,
		renderer:    rd,
		store:       store,
		metrics:     m,
		logger:      logger,
		tracer:      otel.Tracer("boyeodream.internal.dream.pipeline"),
	}
}

// Store exposes the session store for read paths (status endpoint).
func (p *Pipeline) Store() SessionStore {
	return p.store
}

// Run executes the full stage sequence for a session. It returns an error
// only for stage failures; a blocked verdict is a normal terminal outcome and
// returns nil. On failure the session is reset to idle with the failing stage
// recorded, and no downstream stage runs.
func (p *Pipeline) Run(ctx context.Context, session *DreamSession, input Submission) error {
	if session == nil {
		return ErrSessionNotFound
	}
	if input.Empty() {
		return ErrEmptyInput
	}

	ctx, span := p.tracer.Start(ctx, "dream.pipeline_run")
	defer span.End()

	transcript, err := p.obtainTranscript(ctx, session, input)
	if err != nil {
		return err
	}

	blocked, err := p.screen(ctx, session, transcript)
	if err != nil || blocked {
		return err
	}

	report, err := p.analyze(ctx, session, transcript)
	if err != nil {
		return err
	}

	if err := p.synthesize(ctx, session, transcript, report); err != nil {
		return err
	}

	p.render(ctx, session)

	if err := session.Advance(StateDone); err != nil {
		return p.fail(ctx, session, stageRendering, err)
	}
	if err := p.store.Save(ctx, session); err != nil {
		return fmt.Errorf("dream: failed to persist finished session: %w", err)
	}

	p.logger.Info("pipeline run complete",
		"session_id", session.ID,
		"nightmare_ok", session.NightmareImage.OK(),
		"reconstructed_ok", session.ReconstructedImage.OK(),
	)
	return nil
}

// obtainTranscript either transcribes the audio or adopts the submitted text.
func (p *Pipeline) obtainTranscript(ctx context.Context, session *DreamSession, input Submission) (string, error) {
	if text := strings.TrimSpace(input.Text); text != "" {
		session.Transcript = text
		return text, nil
	}

	if err := session.Advance(StateTranscribing); err != nil {
		return "", p.fail(ctx, session, stageTranscription, err)
	}
	p.saveProgress(ctx, session)

	start := time.Now()
	transcript, err := p.transcriber.Transcribe(ctx, input.Audio, input.Filename)
	if err != nil {
		p.metrics.ObserveStage(stageTranscription, statusFailed, time.Since(start))
		return "", p.fail(ctx, session, stageTranscription, err)
	}
	p.metrics.ObserveStage(stageTranscription, statusOK, time.Since(start))

	session.Transcript = transcript
	return transcript, nil
}

// screen runs moderation. A flagged verdict parks the session in the blocked
// state and returns blocked=true with a nil error.
func (p *Pipeline) screen(ctx context.Context, session *DreamSession, transcript string) (bool, error) {
	if err := session.Advance(StateScreening); err != nil {
		return false, p.fail(ctx, session, stageScreening, err)
	}
	p.saveProgress(ctx, session)

	start := time.Now()
	verdict, err := p.screener.Check(ctx, transcript)
	if err != nil {
		p.metrics.ObserveStage(stageScreening, statusFailed, time.Since(start))
		return false, p.fail(ctx, session, stageScreening, err)
	}
	session.Verdict = &verdict

	if verdict.Flagged {
		p.metrics.ObserveStage(stageScreening, statusBlocked, time.Since(start))
		p.metrics.ObserveBlock()
		if err := session.Advance(StateBlocked); err != nil {
			return false, p.fail(ctx, session, stageScreening, err)
		}
		if err := p.store.Save(ctx, session); err != nil {
			return false, fmt.Errorf("dream: failed to persist blocked session: %w", err)
		}
		p.logger.Warn("submission blocked by safety screening",
			"session_id", session.ID,
			"categories", strings.Join(verdict.Categories, ","),
		)
		return true, nil
	}

	p.metrics.ObserveStage(stageScreening, statusOK, time.Since(start))
	return false, nil
}

func (p *Pipeline) analyze(ctx context.Context, session *DreamSession, transcript string) (Report, error) {
	if err := session.Advance(StateAnalyzing); err != nil {
		return Report{}, p.fail(ctx, session, stageAnalysis, err)
	}
	p.saveProgress(ctx, session)

	start := time.Now()
	report, err := p.reports.Generate(ctx, transcript)
	if err != nil {
		p.metrics.ObserveStage(stageAnalysis, statusFailed, time.Since(start))
		return Report{}, p.fail(ctx, session, stageAnalysis, err)
	}
	p.metrics.ObserveStage(stageAnalysis, statusOK, time.Since(start))

	if err := session.Advance(StateReporting); err != nil {
		return Report{}, p.fail(ctx, session, stageAnalysis, err)
	}
	session.Report = &report
	p.saveProgress(ctx, session)
	return report, nil
}

// synthesize runs the two prompt syntheses concurrently. Both must succeed;
// half a prompt pair is not a renderable session.
func (p *Pipeline) synthesize(ctx context.Context, session *DreamSession, transcript string, report Report) error {
	if err := session.Advance(StateSynthesizing); err != nil {
		return p.fail(ctx, session, stageSynthesis, err)
	}
	p.saveProgress(ctx, session)

	start := time.Now()

	var (
		wg             sync.WaitGroup
		nightmare      string
		nightmareErr   error
		reconstruction ReconstructionResult
		reconErr       error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		nightmare, nightmareErr = p.synthesizer.NightmarePrompt(ctx, transcript, report)
	}()
	go func() {
		defer wg.Done()
		reconstruction, reconErr = p.synthesizer.ReconstructedPrompt(ctx, transcript, report)
	}()
	wg.Wait()

	if nightmareErr != nil {
		p.metrics.ObserveStage(stageSynthesis, statusFailed, time.Since(start))
		return p.fail(ctx, session, stageSynthesis, nightmareErr)
	}
	if reconErr != nil {
		p.metrics.ObserveStage(stageSynthesis, statusFailed, time.Since(start))
		return p.fail(ctx, session, stageSynthesis, reconErr)
	}
	p.metrics.ObserveStage(stageSynthesis, statusOK, time.Since(start))

	session.NightmarePrompt = nightmare
	session.ReconstructedPrompt = reconstruction.Prompt
	session.TransformationSummary = reconstruction.Summary
	session.KeywordMappings = reconstruction.Mappings
	return nil
}

// render produces both images concurrently. Each render reports its own
// outcome inside ImageResult; one failing never blocks the other.
func (p *Pipeline) render(ctx context.Context, session *DreamSession) {
	if err := session.Advance(StateRendering); err != nil {
		session.NightmareImage = ImageResult{Err: "이미지 생성 단계로 진행할 수 없습니다."}
		session.ReconstructedImage = ImageResult{Err: "이미지 생성 단계로 진행할 수 없습니다."}
		return
	}
	p.saveProgress(ctx, session)

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		session.NightmareImage = p.renderer.Render(ctx, VariantNightmare, session.NightmarePrompt)
	}()
	go func() {
		defer wg.Done()
		session.ReconstructedImage = p.renderer.Render(ctx, VariantReconstructed, session.ReconstructedPrompt)
	}()
	wg.Wait()

	p.observeRender(VariantNightmare, session.NightmareImage)
	p.observeRender(VariantReconstructed, session.ReconstructedImage)
	p.metrics.ObserveStage(stageRendering, statusOK, time.Since(start))
}

// Resume re-runs a failed session from its retained transcript. Completed
// stages are not repeated: transcription never runs again, and screening is
// skipped when a passing verdict is already stored. Skipped stages still pass
// through their states so the guard table holds.
func (p *Pipeline) Resume(ctx context.Context, sessionID string) (*DreamSession, error) {
	session, err := p.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != StateIdle {
		return nil, fmt.Errorf("dream: session %s is %s, resume requires an idle session", sessionID, session.State)
	}
	transcript := strings.TrimSpace(session.Transcript)
	if transcript == "" {
		return nil, ErrEmptyInput
	}
	session.FailedStage = ""
	session.FailureMessage = ""

	if session.Verdict != nil && !session.Verdict.Flagged {
		if err := session.Advance(StateScreening); err != nil {
			return nil, p.fail(ctx, session, stageScreening, err)
		}
	} else {
		blocked, err := p.screen(ctx, session, transcript)
		if err != nil {
			return nil, err
		}
		if blocked {
			return session, nil
		}
	}

	var report Report
	if session.Report != nil {
		report = *session.Report
		if err := session.Advance(StateAnalyzing); err != nil {
			return nil, p.fail(ctx, session, stageAnalysis, err)
		}
		if err := session.Advance(StateReporting); err != nil {
			return nil, p.fail(ctx, session, stageAnalysis, err)
		}
	} else {
		report, err = p.analyze(ctx, session, transcript)
		if err != nil {
			return nil, err
		}
	}

	if err := p.synthesize(ctx, session, transcript, report); err != nil {
		return nil, err
	}
	p.render(ctx, session)

	if err := session.Advance(StateDone); err != nil {
		return nil, p.fail(ctx, session, stageRendering, err)
	}
	if err := p.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("dream: failed to persist resumed session: %w", err)
	}
	return session, nil
}

// RenderVariant re-renders a single image for a finished session. The session
// briefly re-enters the rendering state and returns to done regardless of the
// render outcome; the outcome lives in the ImageResult.
func (p *Pipeline) RenderVariant(ctx context.Context, sessionID string, variant Variant) (*DreamSession, error) {
	session, err := p.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != StateDone {
		return nil, fmt.Errorf("dream: session %s is %s, re-render requires a finished session", sessionID, session.State)
	}

	var prompt string
	switch variant {
	case VariantNightmare:
		prompt = session.NightmarePrompt
	case VariantReconstructed:
		prompt = session.ReconstructedPrompt
	default:
		return nil, fmt.Errorf("dream: unknown image variant %q", variant)
	}

	if err := session.Advance(StateRendering); err != nil {
		return nil, err
	}
	result := p.renderer.Render(ctx, variant, prompt)
	p.observeRender(variant, result)

	switch variant {
	case VariantNightmare:
		session.NightmareImage = result
	case VariantReconstructed:
		session.ReconstructedImage = result
	}

	if err := session.Advance(StateDone); err != nil {
		return nil, err
	}
	if err := p.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("dream: failed to persist re-rendered session: %w", err)
	}
	return session, nil
}

// fail records the stage failure on the session, persists it, and returns a
// stage-named error. The transcript survives so the user can retry without
// repeating transcription.
func (p *Pipeline) fail(ctx context.Context, session *DreamSession, stage string, cause error) error {
	session.Fail(stage, cause)
	if err := p.store.Save(ctx, session); err != nil {
		p.logger.Error("failed to persist failed session", "session_id", session.ID, "error", err.Error())
	}
	p.logger.Error("pipeline stage failed",
		"session_id", session.ID,
		"stage", stage,
		"error", cause.Error(),
	)
	return fmt.Errorf("dream: %s failed: %w", stage, cause)
}

// saveProgress persists intermediate state so the status endpoint reflects
// the live stage. Persistence errors here are logged, not fatal; the final
// save at the end of the run is the one that matters.
func (p *Pipeline) saveProgress(ctx context.Context, session *DreamSession) {
	if err := p.store.Save(ctx, session); err != nil {
		p.logger.Warn("failed to persist session progress", "session_id", session.ID, "error", err.Error())
	}
}

func (p *Pipeline) observeRender(variant Variant, result ImageResult) {
	status := statusOK
	if !result.OK() {
		status = statusFailed
	}
	p.metrics.ObserveImageRender(string(variant), status)
}
