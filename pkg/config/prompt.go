package config

import (
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

const defaultSystemPrompt = `You are {{ .AgentName }}, a personal assistant running on the user's machine.
Today is {{ .Date | date "Monday, January 2, 2006" }}.

Be direct and concise. Use the available tools to manage the user's todos and
memories and to look things up. Always call get_todos before creating or
modifying todo items. When a tool returns an error, tell the user what went
wrong instead of guessing.
{{- if .Memories }}

Things you remember about the user:
{{- range .Memories }}
- {{ . }}
{{- end }}
{{- end }}
`

type promptData struct {
	AgentName string
	Date      time.Time
	Memories  []string
}

// SystemPrompt renders the agent instructions. A custom template from the
// settings replaces the built-in one; both get the agent name, the current
// date, and the remembered facts.
func (s *Settings) SystemPrompt(now time.Time, memories []string) (string, error) {
	text := s.Agent.CustomSystemPrompt
	if strings.TrimSpace(text) == "" {
		text = defaultSystemPrompt
	}

	tmpl, err := template.New("system-prompt").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return "", errors.Wrap(err, "could not parse system prompt template")
	}

	var sb strings.Builder
	err = tmpl.Execute(&sb, promptData{
		AgentName: s.AgentName,
		Date:      now,
		Memories:  memories,
	})
	if err != nil {
		return "", errors.Wrap(err, "could not render system prompt")
	}
	return sb.String(), nil
}
