package dream

import (
	"context"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"

	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

var screenerTracer = otel.Tracer("boyeodream.internal.dream.screener")

const (
	defaultModerationTimeout = 30 * time.Second

	// blockedReason is what callers see when moderation flags the content.
	blockedReason = "입력하신 내용에 부적절한 표현이 포함되어 있어 처리할 수 없습니다."
	// unavailableReason is the fail-closed verdict used when the moderation
	// service itself cannot be reached.
	unavailableReason = "안전 점검 서비스를 이용할 수 없어 요청을 처리할 수 없습니다. 잠시 후 다시 시도해 주세요."
)

type moderationClient interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
}

// Screener runs text through the moderation API before it reaches any
// downstream model. It fails closed: if the check cannot be completed, the
// verdict is flagged.
type Screener struct {
	client  moderationClient
	timeout time.Duration
	logger  *logging.Logger
}

// NewScreener returns a moderation-backed screener.
func NewScreener(client moderationClient, logger *logging.Logger) *Screener {
	if client == nil {
		panic("dream: moderation client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Screener{
		client:  client,
		timeout: defaultModerationTimeout,
		logger:  logger,
	}
}

// Check screens text and returns a verdict. Transport failures are folded
// into a flagged verdict with a nil error so every caller takes the same
// blocked path; Check never lets unscreened text through.
func (s *Screener) Check(ctx context.Context, text string) (Verdict, error) {
	if strings.TrimSpace(text) == "" {
		return Verdict{Flagged: false}, nil
	}

	ctx, span := screenerTracer.Start(ctx, "dream.moderation_check")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Moderations(callCtx, openai.ModerationRequest{
		Model: openai.ModerationOmniLatest,
		Input: text,
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("moderation request failed, failing closed", "error", err.Error())
		return Verdict{Flagged: true, Reason: unavailableReason}, nil
	}
	if len(resp.Results) == 0 {
		s.logger.Error("moderation returned no results, failing closed")
		return Verdict{Flagged: true, Reason: unavailableReason}, nil
	}

	result := resp.Results[0]
	if !result.Flagged {
		return Verdict{Flagged: false}, nil
	}

	categories := flaggedCategories(result.Categories)
	s.logger.Warn("content flagged by moderation", "categories", strings.Join(categories, ","))
	return Verdict{
		Flagged:    true,
		Reason:     blockedReason,
		Categories: categories,
	}, nil
}

func flaggedCategories(c openai.ResultCategories) []string {
	var out []string
	add := func(name string, flagged bool) {
		if flagged {
			out = append(out, name)
		}
	}
	add("hate", c.Hate)
	add("hate/threatening", c.HateThreatening)
	add("harassment", c.Harassment)
	add("harassment/threatening", c.HarassmentThreatening)
	add("self-harm", c.SelfHarm)
	add("self-harm/intent", c.SelfHarmIntent)
	add("self-harm/instructions", c.SelfHarmInstructions)
	add("sexual", c.Sexual)
	add("sexual/minors", c.SexualMinors)
	add("violence", c.Violence)
	add("violence/graphic", c.ViolenceGraphic)
	return out
}
