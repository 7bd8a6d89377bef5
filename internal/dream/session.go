package dream

import (
	"errors"
	"fmt"
	"time"
)

// State identifies where a session is inside the pipeline. A session holds
// exactly one state at a time; there are no auxiliary progress flags.
type State string

const (
	StateIdle         State = "idle"
	StateTranscribing State = "transcribing"
	StateScreening    State = "screening"
	StateBlocked      State = "blocked"
	StateAnalyzing    State = "analyzing"
	StateReporting    State = "reporting"
	StateSynthesizing State = "synthesizing"
	StateRendering    State = "rendering"
	StateDone         State = "done"
)

var (
	// ErrEmptyInput is returned when a submission carries neither audio nor text.
	ErrEmptyInput = errors.New("dream: empty input")
	// ErrSessionNotFound is returned by session stores for unknown IDs.
	ErrSessionNotFound = errors.New("dream: session not found")
)

// allowedTransitions is the guard table for the pipeline state machine.
// A reset to StateIdle is always allowed and therefore not listed.
var allowedTransitions = map[State][]State{
	StateIdle:         {StateTranscribing, StateScreening},
	StateTranscribing: {StateScreening},
	StateScreening:    {StateBlocked, StateAnalyzing},
	StateAnalyzing:    {StateReporting},
	StateReporting:    {StateSynthesizing},
	StateSynthesizing: {StateRendering},
	StateRendering:    {StateDone},
	StateDone:         {StateRendering}, // per-image re-render
}

func canTransition(from, to State) bool {
	if to == StateIdle {
		return true
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Emotion is one detected emotion with its intensity on a [0,1] scale.
type Emotion struct {
	Emotion string  `json:"emotion"`
	Score   float64 `json:"score"`
}

// Report is the structured analysis of a transcript. It is produced at most
// once per session and never mutated afterwards.
type Report struct {
	Emotions        []Emotion `json:"emotions"`
	Keywords        []string  `json:"keywords"`
	AnalysisSummary string    `json:"analysis_summary"`
	Failed          bool      `json:"failed,omitempty"`
}

// KeywordMapping links an original dream concept to its positively
// transformed counterpart. Used for display only.
type KeywordMapping struct {
	Original    string `json:"original"`
	Transformed string `json:"transformed"`
}

// Verdict is the outcome of a safety screening call.
type Verdict struct {
	Flagged    bool     `json:"flagged"`
	Reason     string   `json:"reason"`
	Categories []string `json:"categories,omitempty"`
}

// ImageResult carries either a rendered image URL or a human-readable error.
// The two are lexically distinguishable: URL always starts with a scheme,
// Err never does.
type ImageResult struct {
	URL string `json:"url,omitempty"`
	Err string `json:"error,omitempty"`
}

// OK reports whether the render produced a usable image reference.
func (r ImageResult) OK() bool {
	return r.URL != ""
}

// ReconstructionResult bundles the outputs of the reconstruction synthesis.
type ReconstructionResult struct {
	Prompt   string           `json:"reconstructed_prompt"`
	Summary  string           `json:"transformation_summary"`
	Mappings []KeywordMapping `json:"keyword_mappings"`
}

// Variant names one of the two image branches.
type Variant string

const (
	VariantNightmare     Variant = "nightmare"
	VariantReconstructed Variant = "reconstructed"
)

// DreamSession is the unit of work for one user submission. It moves strictly
// forward through the pipeline; a new submission for the same caller replaces
// it entirely rather than mutating it in place.
type DreamSession struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Transcript string   `json:"transcript,omitempty"`
	Verdict    *Verdict `json:"verdict,omitempty"`
	Report     *Report  `json:"report,omitempty"`

	NightmarePrompt       string           `json:"nightmarePrompt,omitempty"`
	ReconstructedPrompt   string           `json:"reconstructedPrompt,omitempty"`
	TransformationSummary string           `json:"transformationSummary,omitempty"`
	KeywordMappings       []KeywordMapping `json:"keywordMappings,omitempty"`

	NightmareImage     ImageResult `json:"nightmareImage,omitzero"`
	ReconstructedImage ImageResult `json:"reconstructedImage,omitzero"`

	// FailedStage and FailureMessage record the last failure that reset the
	// session. They name the stage so the caller can surface "transcription
	// failed" rather than a bare error.
	FailedStage    string `json:"failedStage,omitempty"`
	FailureMessage string `json:"failureMessage,omitempty"`
}

// NewDreamSession returns an idle session with the given ID.
func NewDreamSession(id string) *DreamSession {
	now := time.Now().UTC()
	return &DreamSession{
		ID:        id,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the session to the next state, enforcing the guard table.
func (s *DreamSession) Advance(to State) error {
	if !canTransition(s.State, to) {
		return fmt.Errorf("dream: illegal transition %s -> %s", s.State, to)
	}
	s.State = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail records a stage failure and resets the session to idle. The transcript
// is retained so the user can resubmit without repeating transcription.
func (s *DreamSession) Fail(stage string, err error) {
	s.FailedStage = stage
	s.FailureMessage = fmt.Sprintf("%s failed: %v", stage, err)
	s.State = StateIdle
	s.UpdatedAt = time.Now().UTC()
}

// Reset clears all accumulated results. Used when new input arrives while a
// previous run's results are still attached to the session.
func (s *DreamSession) Reset() {
	now := time.Now().UTC()
	*s = DreamSession{
		ID:        s.ID,
		State:     StateIdle,
		CreatedAt: s.CreatedAt,
		UpdatedAt: now,
	}
}
