// Package cmds implements the mangiafuoco CLI commands. Every command
// composes the same pieces: settings, the persistence stores, the tool
// registry, a backend stream client, and an agent publishing into a
// watermill event router.
package cmds

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/mangiafuoco/pkg/agent"
	"github.com/go-go-golems/mangiafuoco/pkg/backend"
	"github.com/go-go-golems/mangiafuoco/pkg/backend/ollama"
	"github.com/go-go-golems/mangiafuoco/pkg/backend/openaichat"
	"github.com/go-go-golems/mangiafuoco/pkg/backend/responses"
	"github.com/go-go-golems/mangiafuoco/pkg/config"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
	"github.com/go-go-golems/mangiafuoco/pkg/store"
	"github.com/go-go-golems/mangiafuoco/pkg/toolbox"
	"github.com/go-go-golems/mangiafuoco/pkg/tools"
)

// eventTopic is the watermill topic every run publishes to.
const eventTopic = "chat"

func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return config.Load(path)
}

// stores is the persistence stack behind a CLI invocation. The age
// identity lives in the OS keyring; the transcript and memories are
// encrypted with it; todos stay a plain file.
type stores struct {
	dir      string
	secrets  *store.Secrets
	history  *store.FileHistoryStore
	todos    *store.TodoStore
	memories *store.MemoryStore
}

func openStores() (*stores, error) {
	dir, err := config.AppDataDir()
	if err != nil {
		return nil, err
	}

	secrets := store.NewSecrets(config.AppName)
	codec, err := store.KeyringAgeCodec(secrets)
	if err != nil {
		return nil, errors.Wrap(err, "could not load the data key from the system keyring")
	}

	historyStore, err := store.NewFileHistoryStore(filepath.Join(dir, "chat_history.enc"), codec)
	if err != nil {
		return nil, err
	}
	todoStore, err := store.NewTodoStore(filepath.Join(dir, "todos.json"))
	if err != nil {
		return nil, err
	}
	memoryStore, err := store.NewMemoryStore(filepath.Join(dir, "memories.enc"), codec)
	if err != nil {
		return nil, err
	}

	return &stores{
		dir:      dir,
		secrets:  secrets,
		history:  historyStore,
		todos:    todoStore,
		memories: memoryStore,
	}, nil
}

func buildRegistry(settings *config.Settings, st *stores) (tools.Registry, error) {
	registry := tools.NewInMemoryRegistry()
	err := toolbox.Register(registry, settings.Tools.EnabledTools, toolbox.Options{
		Todos:       st.todos,
		Memories:    st.memories,
		ProjectRoot: settings.Tools.ProjectRoot,
	})
	if err != nil {
		return nil, err
	}
	return registry, nil
}

func resolveAPIKey(settings *config.Settings, secrets *store.Secrets) (string, error) {
	if settings.APIKey != "" {
		return settings.APIKey, nil
	}
	key, err := secrets.Get(store.APIKeyName)
	if err == nil {
		return key, nil
	}
	if errors.Is(err, store.ErrSecretNotFound) {
		return "", errors.New("no API key configured: set OPENAI_API_KEY or run `mangiafuoco secrets set-api-key`")
	}
	return "", err
}

// newBackend picks the stream client named by --backend. Ollama needs no
// API key; the other two resolve one from the environment or the keyring.
func newBackend(settings *config.Settings, secrets *store.Secrets, name string) (backend.Backend, error) {
	switch name {
	case "responses":
		apiKey, err := resolveAPIKey(settings, secrets)
		if err != nil {
			return nil, err
		}
		var options []responses.Option
		if settings.BaseURL != "" {
			options = append(options, responses.WithBaseURL(settings.BaseURL))
		}
		return responses.New(apiKey, options...), nil

	case "chat":
		apiKey, err := resolveAPIKey(settings, secrets)
		if err != nil {
			return nil, err
		}
		var options []openaichat.Option
		if settings.BaseURL != "" {
			options = append(options, openaichat.WithBaseURL(settings.BaseURL))
		}
		return openaichat.New(apiKey, options...), nil

	case "ollama":
		var options []ollama.Option
		if settings.BaseURL != "" {
			options = append(options, ollama.WithHost(settings.BaseURL))
		}
		return ollama.New(options...)

	default:
		return nil, errors.Errorf("unknown backend %q (expected responses, chat, or ollama)", name)
	}
}

func newAgent(settings *config.Settings, be backend.Backend, registry tools.Registry, memories []string, sink events.Sink) (*agent.Agent, error) {
	instructions, err := settings.SystemPrompt(time.Now(), memories)
	if err != nil {
		return nil, err
	}
	return agent.New(
		agent.WithName(settings.AgentName),
		agent.WithBackend(be),
		agent.WithRegistry(registry),
		agent.WithControls(settings.TurnControls()),
		agent.WithInstructions(instructions),
		agent.WithMaxTurns(settings.Agent.MaxTurns),
		agent.WithSink(sink),
	), nil
}

// newEventRouter builds the in-process router with a printer handler on
// the run topic, or a raw JSON dump when --dump-raw-events is set.
// Watermill's own logging follows the global log level.
func newEventRouter(cmd *cobra.Command, name string) (*events.EventRouter, error) {
	var options []events.EventRouterOption
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		options = append(options, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(options...)
	if err != nil {
		return nil, err
	}
	if dumpRaw, _ := cmd.Flags().GetBool("dump-raw-events"); dumpRaw {
		router.AddHandler("raw-events-stdout", eventTopic, router.DumpRawEvents)
	} else {
		router.AddHandler("printer", eventTopic, events.PrinterFunc(name, cmd.OutOrStdout()))
	}
	return router, nil
}

// consumeRun drains one run's event channel and returns the terminal done
// event. Printing happens on the router side; the channel only paces the
// run and carries the done payload back.
func consumeRun(ctx context.Context, ag *agent.Agent, req agent.RunRequest) (*events.EventRunDone, error) {
	ch, err := ag.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	var done *events.EventRunDone
	for ev := range ch {
		if d, ok := events.ToTypedEvent[events.EventRunDone](ev); ok {
			done = d
		}
	}
	if done == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New("run ended without a done event")
	}
	return done, nil
}

// watchInterrupts turns the first Ctrl-C into a graceful stop request and
// the second into a hard context cancel.
func watchInterrupts(ctx context.Context, cancel context.CancelFunc, ag *agent.Agent) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	go func() {
		defer signal.Stop(sigCh)
		interrupts := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				interrupts++
				if interrupts == 1 {
					fmt.Fprintln(os.Stderr, "\nstopping after the current step (interrupt again to abort)")
					ag.Stop()
					continue
				}
				cancel()
				return
			}
		}
	}()
}

var imageMediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// loadAttachment sniffs the attachment type from the file extension:
// images are inlined as base64, everything else is attached as a file
// path and read when the user entry is built.
func loadAttachment(path string) (history.Attachment, error) {
	mediaType, isImage := imageMediaTypes[strings.ToLower(filepath.Ext(path))]
	if !isImage {
		return history.Attachment{FilePath: path}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return history.Attachment{}, errors.Wrapf(err, "could not read attachment %s", path)
	}
	return history.Attachment{
		ImageB64:  base64.StdEncoding.EncodeToString(raw),
		MediaType: mediaType,
	}, nil
}
