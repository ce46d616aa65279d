package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "Atlas", settings.AgentName)
	assert.Equal(t, "default_user", settings.UserID)
	assert.Equal(t, "gpt-5", settings.Agent.ModelName)
	assert.Equal(t, 1.0, settings.Agent.Temperature)
	assert.Equal(t, 32, settings.Agent.MaxTurns)
	assert.Equal(t, "medium", settings.Agent.ReasoningEffort)
	assert.Equal(t, "auto", settings.Agent.ReasoningSummary)
	assert.Equal(t, "low", settings.Agent.TextVerbosity)
	assert.True(t, settings.Agent.StreamResponses)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent_name: Edna
agent:
  model_name: gpt-4o
  max_turns: 5
`), 0o644))

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Edna", settings.AgentName)
	assert.Equal(t, "gpt-4o", settings.Agent.ModelName)
	assert.Equal(t, 5, settings.Agent.MaxTurns)
	// untouched keys keep their defaults
	assert.Equal(t, 1.0, settings.Agent.Temperature)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:8080/v1")

	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", settings.APIKey)
	assert.Equal(t, "http://localhost:8080/v1", settings.BaseURL)
}

func TestSaveExcludesAPIKey(t *testing.T) {
	settings := Default()
	settings.APIKey = "sk-secret"
	settings.AgentName = "Edna"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, Save(settings, path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "sk-secret")
	assert.Contains(t, string(b), "agent_name: Edna")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Edna", loaded.AgentName)
}

func TestCloneIsIndependent(t *testing.T) {
	settings := Default()
	copied := settings.Clone()
	copied.Agent.ModelName = "gpt-4o"
	copied.Tools.EnabledTools[0] = "changed"

	assert.Equal(t, "gpt-5", settings.Agent.ModelName)
	assert.Equal(t, "todos", settings.Tools.EnabledTools[0])
}

func TestTurnControls(t *testing.T) {
	settings := Default()
	settings.UserID = "user-42"

	controls := settings.TurnControls()
	assert.Equal(t, "gpt-5", controls.Model)
	require.NotNil(t, controls.Temperature)
	assert.Equal(t, 1.0, *controls.Temperature)
	assert.Equal(t, "auto", controls.ToolChoice)
	require.NotNil(t, controls.Reasoning)
	assert.Equal(t, "medium", controls.Reasoning.Effort)
	assert.Equal(t, []string{"reasoning.encrypted_content"}, controls.Include)
	assert.False(t, controls.Store)
	assert.True(t, controls.Stream)
	assert.Equal(t, "user-42", controls.PromptCacheKey)
}

func TestSystemPromptDefaultTemplate(t *testing.T) {
	settings := Default()
	now := time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC)

	prompt, err := settings.SystemPrompt(now, []string{"prefers short answers"})
	require.NoError(t, err)

	assert.Contains(t, prompt, "You are Atlas")
	assert.Contains(t, prompt, "Friday, August 21, 2026")
	assert.Contains(t, prompt, "- prefers short answers")
}

func TestSystemPromptCustomTemplate(t *testing.T) {
	settings := Default()
	settings.Agent.CustomSystemPrompt = "Hi, I'm {{ .AgentName | upper }}."

	prompt, err := settings.SystemPrompt(time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi, I'm ATLAS.", prompt)
}

func TestSystemPromptOmitsEmptyMemories(t *testing.T) {
	settings := Default()
	prompt, err := settings.SystemPrompt(time.Now(), nil)
	require.NoError(t, err)
	assert.NotContains(t, prompt, "Things you remember")
}
