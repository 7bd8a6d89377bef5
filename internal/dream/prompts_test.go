package dream

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplatesCoverAllStages(t *testing.T) {
	reg := DefaultTemplates()
	for _, stage := range []string{
		StageReport,
		StageReportRepair,
		StageNightmarePrompt,
		StageReconstruction,
		StageReconstructionRepair,
	} {
		tmpl, err := reg.Lookup(stage)
		require.NoError(t, err, "Lookup(%s)", stage)
		assert.NotEmpty(t, strings.TrimSpace(tmpl), "stage %s has an empty template", stage)
	}
}

func TestLookupUnknownStage(t *testing.T) {
	_, err := DefaultTemplates().Lookup("nonexistent")
	assert.Error(t, err)
}

func TestRenderTemplateSubstitutesPlaceholders(t *testing.T) {
	out := renderTemplate("dream: {dream_text}, context: {context}", map[string]string{
		"dream_text": "어두운 숲",
		"context":    "문헌 구절",
	})
	assert.Equal(t, "dream: 어두운 숲, context: 문헌 구절", out)
}

func TestRenderTemplateLeavesUnknownPlaceholders(t *testing.T) {
	out := renderTemplate("{known} and {unknown}", map[string]string{"known": "x"})
	assert.Contains(t, out, "{unknown}")
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	override := "custom report template for {dream_text}"
	require.NoError(t, os.WriteFile(filepath.Join(dir, StageReport+".txt"), []byte(override), 0o600))

	reg := DefaultTemplates()
	require.NoError(t, reg.LoadOverrides(dir))

	tmpl, err := reg.Lookup(StageReport)
	require.NoError(t, err)
	assert.Equal(t, override, tmpl)

	// A stage without an override keeps the built-in template.
	_, err = reg.Lookup(StageNightmarePrompt)
	assert.NoError(t, err)
	assert.Contains(t, reg.Version(), "overrides")
}

func TestLoadOverridesEmptyDir(t *testing.T) {
	reg := DefaultTemplates()
	require.NoError(t, reg.LoadOverrides(""))
	assert.Equal(t, defaultTemplateVersion, reg.Version())
}

func TestDefaultReportTemplateMentionsSchema(t *testing.T) {
	tmpl, err := DefaultTemplates().Lookup(StageReport)
	require.NoError(t, err)
	for _, key := range []string{"emotions", "keywords", "analysis_summary", "{dream_text}", "{context}"} {
		assert.Contains(t, tmpl, key)
	}
}
