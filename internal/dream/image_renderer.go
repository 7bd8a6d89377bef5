package dream

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"

	"github.com/boyeodream/dream-pipeline/pkg/logging"
)

var rendererTracer = otel.Tracer("boyeodream.internal.dream.renderer")

const defaultRenderTimeout = 60 * time.Second

type imageClient interface {
	CreateImage(ctx context.Context, request openai.ImageRequest) (openai.ImageResponse, error)
}

// promptScreener is the slice of Screener the renderer needs. Image prompts
// are themselves model output, so they are screened like user input before
// they reach the image API.
type promptScreener interface {
	Check(ctx context.Context, text string) (Verdict, error)
}

// ImageRenderer turns a finished prompt into an image URL. Render never
// returns a Go error for per-image failures; the failure travels inside
// ImageResult so one variant failing does not abort the other.
type ImageRenderer struct {
	client   imageClient
	screener promptScreener
	model    string
	size     string
	quality  string
	timeout  time.Duration
	logger   *logging.Logger
}

// NewImageRenderer builds a renderer. screener may be nil to skip prompt
// re-screening (tests only; production always wires one).
func NewImageRenderer(client imageClient, screener promptScreener, model, size, quality string, logger *logging.Logger) *ImageRenderer {
	if client == nil {
		panic("dream: image client cannot be nil")
	}
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}
	if quality == "" {
		quality = openai.CreateImageQualityStandard
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ImageRenderer{
		client:   client,
		screener: screener,
		model:    model,
		size:     size,
		quality:  quality,
		timeout:  defaultRenderTimeout,
		logger:   logger,
	}
}

// Render produces an image for the prompt. The result is either a URL (always
// starting with a scheme) or an error message that never looks like a URL, so
// the two are distinguishable without extra flags.
func (r *ImageRenderer) Render(ctx context.Context, variant Variant, prompt string) ImageResult {
	if strings.TrimSpace(prompt) == "" {
		return ImageResult{Err: "이미지 생성에 사용할 프롬프트가 비어 있습니다."}
	}

	ctx, span := rendererTracer.Start(ctx, "dream.render_image")
	defer span.End()

	if r.screener != nil {
		verdict, err := r.screener.Check(ctx, prompt)
		if err != nil || verdict.Flagged {
			r.logger.Warn("image prompt rejected by safety screening", "variant", string(variant))
			return ImageResult{Err: "이미지 프롬프트가 안전 기준을 통과하지 못해 이미지를 생성하지 못했습니다."}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.CreateImage(callCtx, openai.ImageRequest{
		Model:   r.model,
		Prompt:  prompt,
		N:       1,
		Size:    r.size,
		Quality: r.quality,
	})
	if err != nil {
		span.RecordError(err)
		r.logger.Error("image render failed", "variant", string(variant), "error", err.Error())
		return ImageResult{Err: fmt.Sprintf("%s 이미지 생성 중 오류가 발생했습니다.", variantLabel(variant))}
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		r.logger.Error("image render returned no data", "variant", string(variant))
		return ImageResult{Err: fmt.Sprintf("%s 이미지 생성 결과가 비어 있습니다.", variantLabel(variant))}
	}

	return ImageResult{URL: resp.Data[0].URL}
}

func variantLabel(v Variant) string {
	switch v {
	case VariantNightmare:
		return "악몽"
	case VariantReconstructed:
		return "재구성"
	default:
		return "요청한"
	}
}
