// Package toolbox provides the built-in tools the agent can call: todo
// and memory management, page fetching, clock access, and read-only
// project file access. Every tool closes over an injected store or
// client; the package has no globals, so two agents never share state.
package toolbox

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/store"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// Options carries the collaborators the tool categories close over.
type Options struct {
	Todos       *store.TodoStore
	Memories    *store.MemoryStore
	HTTPClient  *http.Client
	ProjectRoot string
}

// Register adds the tools of the named categories to the registry.
// Categories whose collaborator is missing are skipped with a warning,
// so a config listing "files" without a project root still starts.
func Register(registry tools.Registry, categories []string, opts Options) error {
	for _, category := range categories {
		defs, err := definitionsFor(category, opts)
		if err != nil {
			return err
		}
		for _, def := range defs {
			if err := registry.Register(def); err != nil {
				return err
			}
		}
	}
	return nil
}

func definitionsFor(category string, opts Options) ([]*tools.Definition, error) {
	switch category {
	case "todos":
		if opts.Todos == nil {
			log.Warn().Msg("todos tools enabled without a todo store, skipping")
			return nil, nil
		}
		return NewTodoTools(opts.Todos).Definitions()
	case "memories":
		if opts.Memories == nil {
			log.Warn().Msg("memory tools enabled without a memory store, skipping")
			return nil, nil
		}
		return NewMemoryTools(opts.Memories).Definitions()
	case "web":
		return NewWebTools(opts.HTTPClient).Definitions()
	case "time":
		return NewTimeTools().Definitions()
	case "files":
		if opts.ProjectRoot == "" {
			log.Warn().Msg("file tools enabled without a project root, skipping")
			return nil, nil
		}
		return NewFileTools(opts.ProjectRoot).Definitions()
	default:
		return nil, errors.Errorf("unknown tool category %q", category)
	}
}

func errorResult(message string) map[string]any {
	return map[string]any{"status": "error", "message": message}
}
