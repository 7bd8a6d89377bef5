package dream

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Stage names for the prompt template registry. The pipeline treats template
// text as opaque configuration: it substitutes placeholders and never branches
// on template content.
const (
	StageReport               = "report"
	StageReportRepair         = "report_repair"
	StageNightmarePrompt      = "nightmare_prompt"
	StageReconstruction       = "reconstruction"
	StageReconstructionRepair = "reconstruction_repair"
)

const defaultTemplateVersion = "v1"

// TemplateRegistry maps pipeline stages to prompt templates. Templates use
// {placeholder} substitution; overrides can be loaded from a directory of
// <stage>.txt files so prompt revisions do not require a rebuild.
type TemplateRegistry struct {
	mu        sync.RWMutex
	version   string
	templates map[string]string
}

// DefaultTemplates returns the registry preloaded with the built-in prompts.
func DefaultTemplates() *TemplateRegistry {
	return &TemplateRegistry{
		version: defaultTemplateVersion,
		templates: map[string]string{
			StageReport:               reportTemplate,
			StageReportRepair:         reportRepairTemplate,
			StageNightmarePrompt:      nightmareTemplate,
			StageReconstruction:       reconstructionTemplate,
			StageReconstructionRepair: reconstructionRepairTemplate,
		},
	}
}

// Version identifies the loaded template set.
func (r *TemplateRegistry) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Lookup returns the template for a stage.
func (r *TemplateRegistry) Lookup(stage string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[stage]
	if !ok {
		return "", fmt.Errorf("dream: no template for stage %q", stage)
	}
	return tmpl, nil
}

// LoadOverrides replaces templates from <dir>/<stage>.txt files. Stages
// without an override keep the built-in template.
func (r *TemplateRegistry) LoadOverrides(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for stage := range r.templates {
		path := filepath.Join(dir, stage+".txt")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("dream: failed to read template override %s: %w", path, err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			r.templates[stage] = text
			loaded++
		}
	}
	if loaded > 0 {
		r.version = defaultTemplateVersion + "+overrides"
	}
	return nil
}

// renderTemplate substitutes {name} placeholders. Unknown placeholders are
// left untouched so a template typo is visible in the outbound prompt.
func renderTemplate(tmpl string, vars map[string]string) string {
	out := tmpl
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}

const reportTemplate = `You are an AI dream analyst who is an expert in Imagery Rehearsal Therapy (IRT) and dream symbolism.
Analyze the user's dream text to identify core emotions and key elements.
When [Professional Knowledge] passages are provided, the analysis_summary MUST be grounded in them.
Provide:
1. A list of dominant emotions, each with a score between 0.0 and 1.0. Emotion names in Korean.
2. A list of key keywords (nouns, verbs, adjectives central to the dream). Keywords in Korean.
3. A brief (2-4 sentences) analysis summary of the dream's emotional tone and themes, in Korean.
Respond strictly as a single JSON object with keys "emotions", "keywords", "analysis_summary" and nothing else.

Example:
{"emotions": [{"emotion": "두려움", "score": 0.8}, {"emotion": "불안", "score": 0.6}], "keywords": ["어두운 숲", "추격"], "analysis_summary": "꿈은 압도적인 환경 속에서 추격당하는 강한 두려움과 불안감을 나타냅니다."}

[Professional Knowledge]
{context}

[User's Dream Text]
{dream_text}`

const reportRepairTemplate = `Your previous response could not be parsed as the required JSON object.

Parse error: {parse_error}

Previous response:
{previous_output}

Return ONLY a corrected JSON object with keys "emotions" (list of {"emotion", "score"} with score in [0,1]), "keywords" (list of strings), and "analysis_summary" (string). No markdown, no commentary.

[User's Dream Text]
{dream_text}`

const nightmareTemplate = `You are a 'Safety-First Prompt Artist' for a text-to-image generator. Transform the user's nightmare description (in Korean) into a safe, metaphorical, visually rich image prompt (in English).

Work in two steps:
1. Analyze & De-risk: identify themes that could violate content policy (self-harm, hopelessness, violence).
2. Abstract & Create: write a prompt that renders the *emotion* and *symbolism* of the dream, never the literal events. Convert sensitive content into safe, abstract, artistic metaphors.

Strict rules:
- Themes of giving up, sinking, or paralysis must be represented symbolically (e.g. "a lone figure wrapped in heavy grey fabric, partially submerged in a misty, still landscape").
- NEVER depict literal self-harm, suicide, or violence.
- Real-world sensitive roles (for example a soldier) must be replaced with neutral figures.
- Output a single paragraph in English, with no text, letters, or words inside the image.
- Incorporate a surreal, dark fantasy Korean aesthetic.

Dream keywords: {keywords}
Emotion breakdown: {emotions}

User's nightmare description (Korean): {dream_text}`

const reconstructionTemplate = `You are a wise and empathetic dream therapist AI. Based on the user's nightmare and its analysis, perform three tasks at once.

Analysis data:
- Original nightmare text (Korean): {dream_text}
- Identified keywords: {keywords}
- Emotion breakdown: {emotions}

Tasks:
1. Reconstructed prompt: an English image prompt that reframes the nightmare into a scene of peace, healing, and hope. Transform negative elements into positive, safe, metaphorical counterparts. Mandatory rule 1: the keyword '지배' (domination) MUST become '화합' (harmony). Mandatory rule 2: real-world roles such as 'soldier' MUST be replaced with neutral terms like 'a figure' or 'a young person'. Single paragraph, no text or writing in the image, positive modern Korean aesthetic.
2. Transformation summary: 2-3 sentences in Korean explaining how the key negative elements were positively transformed. Focus on the change.
3. Keyword mappings: 3-5 concepts from the original nightmare that were significantly transformed. Each "original" MUST be one of the identified keywords above.

Respond strictly as a single JSON object:
{"reconstructed_prompt": "...", "transformation_summary": "...", "keyword_mappings": [{"original": "...", "transformed": "..."}]}`

const reconstructionRepairTemplate = `Your previous response could not be parsed as the required JSON object.

Parse error: {parse_error}

Previous response:
{previous_output}

Return ONLY a corrected JSON object with keys "reconstructed_prompt" (string), "transformation_summary" (string, Korean), and "keyword_mappings" (list of {"original", "transformed"}). No markdown, no commentary.

Original nightmare text (Korean): {dream_text}
Identified keywords: {keywords}`
