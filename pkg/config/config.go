package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
)

const AppName = "mangiafuoco"

// AgentSettings hold the model and turn-loop parameters.
type AgentSettings struct {
	ModelName          string  `mapstructure:"model_name" yaml:"model_name"`
	Temperature        float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTurns           int     `mapstructure:"max_turns" yaml:"max_turns"`
	ReasoningEffort    string  `mapstructure:"reasoning_effort" yaml:"reasoning_effort"`
	ReasoningSummary   string  `mapstructure:"reasoning_summary" yaml:"reasoning_summary"`
	TextVerbosity      string  `mapstructure:"text_verbosity" yaml:"text_verbosity"`
	StreamResponses    bool    `mapstructure:"stream_responses" yaml:"stream_responses"`
	CustomSystemPrompt string  `mapstructure:"custom_system_prompt" yaml:"custom_system_prompt,omitempty"`
}

// ToolSettings control which tools are registered for a run.
type ToolSettings struct {
	EnabledTools []string `mapstructure:"enabled_tools" yaml:"enabled_tools"`
	ProjectRoot  string   `mapstructure:"project_root" yaml:"project_root,omitempty"`
}

// Settings is the persisted application configuration. The API key is
// never written to the config file; it comes from the environment or the
// system keyring.
type Settings struct {
	AgentName string `mapstructure:"agent_name" yaml:"agent_name"`
	UserID    string `mapstructure:"user_id" yaml:"user_id"`
	APIKey    string `mapstructure:"api_key" yaml:"-"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url,omitempty"`

	Agent AgentSettings `mapstructure:"agent" yaml:"agent"`
	Tools ToolSettings  `mapstructure:"tools" yaml:"tools"`
}

func Default() *Settings {
	return &Settings{
		AgentName: "Atlas",
		UserID:    "default_user",
		Agent: AgentSettings{
			ModelName:        "gpt-5",
			Temperature:      1.0,
			MaxTurns:         32,
			ReasoningEffort:  "medium",
			ReasoningSummary: "auto",
			TextVerbosity:    "low",
			StreamResponses:  true,
		},
		Tools: ToolSettings{
			EnabledTools: []string{"todos", "memories", "web", "time"},
		},
	}
}

// AppDataDir returns (and creates) the per-user data directory,
// $XDG_CONFIG_HOME/mangiafuoco or ~/.config/mangiafuoco.
func AppDataDir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "could not determine home directory")
		}
		base = filepath.Join(home, ".config")
	}
	dir := filepath.Join(base, AppName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "could not create %s", dir)
	}
	return dir, nil
}

// ConfigPath prefers a config.yaml in the working directory, falling back
// to the app data directory.
func ConfigPath() (string, error) {
	local := "config.yaml"
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	dir, err := AppDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads settings from the given file (missing file means defaults)
// and applies environment overrides: MANGIAFUOCO_* for any field plus
// OPENAI_API_KEY and OPENAI_BASE_URL for the client.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("api_key", "OPENAI_API_KEY"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("base_url", "OPENAI_BASE_URL"); err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrapf(err, "could not read config file %s", path)
			}
		} else {
			log.Debug().Str("path", path).Msg("no config file, using defaults")
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.Wrap(err, "could not unmarshal settings")
	}
	return settings, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("agent_name", d.AgentName)
	v.SetDefault("user_id", d.UserID)
	v.SetDefault("agent.model_name", d.Agent.ModelName)
	v.SetDefault("agent.temperature", d.Agent.Temperature)
	v.SetDefault("agent.max_turns", d.Agent.MaxTurns)
	v.SetDefault("agent.reasoning_effort", d.Agent.ReasoningEffort)
	v.SetDefault("agent.reasoning_summary", d.Agent.ReasoningSummary)
	v.SetDefault("agent.text_verbosity", d.Agent.TextVerbosity)
	v.SetDefault("agent.stream_responses", d.Agent.StreamResponses)
	v.SetDefault("tools.enabled_tools", d.Tools.EnabledTools)
}

// Save writes the settings as YAML. The API key is excluded.
func Save(settings *Settings, path string) error {
	b, err := yaml.Marshal(settings)
	if err != nil {
		return errors.Wrap(err, "could not marshal settings")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "could not create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrapf(err, "could not write %s", path)
	}
	return nil
}

// Clone returns a deep copy, so callers can tweak per-run settings
// without touching the loaded configuration.
func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// TurnControls maps the settings onto per-turn backend controls.
func (s *Settings) TurnControls() backend.TurnControls {
	temperature := s.Agent.Temperature
	return backend.TurnControls{
		Model:       s.Agent.ModelName,
		Temperature: &temperature,
		ToolChoice:  "auto",
		Reasoning: &backend.ReasoningControls{
			Effort:  s.Agent.ReasoningEffort,
			Summary: s.Agent.ReasoningSummary,
		},
		TextVerbosity:  s.Agent.TextVerbosity,
		Include:        []string{"reasoning.encrypted_content"},
		Store:          false,
		Stream:         s.Agent.StreamResponses,
		PromptCacheKey: s.UserID,
	}
}
