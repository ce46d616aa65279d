package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/mangiafuoco/pkg/agent"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
	"github.com/go-go-golems/mangiafuoco/pkg/history"
	"github.com/go-go-golems/mangiafuoco/pkg/parse"
)

func NewRunCommand() *cobra.Command {
	var (
		backendName string
		model       string
		maxTurns    int
		resume      bool
		noSave      bool
		codeOut     string
		attachments []string
	)

	cmd := &cobra.Command{
		Use:   "run [message]",
		Short: "Run the agent once on a message and stream the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if model != "" {
				settings.Agent.ModelName = model
			}

			st, err := openStores()
			if err != nil {
				return err
			}
			registry, err := buildRegistry(settings, st)
			if err != nil {
				return err
			}
			be, err := newBackend(settings, st.secrets, backendName)
			if err != nil {
				return err
			}

			router, err := newEventRouter(cmd, settings.AgentName)
			if err != nil {
				return err
			}
			defer func() { _ = router.Close() }()

			sink := events.NewWatermillSink(router.Publisher, eventTopic)
			ag, err := newAgent(settings, be, registry, st.memories.Texts(), sink)
			if err != nil {
				return err
			}

			req := agent.RunRequest{Message: args[0], MaxTurns: maxTurns}
			for _, path := range attachments {
				attachment, err := loadAttachment(path)
				if err != nil {
					return err
				}
				req.Attachments = append(req.Attachments, attachment)
			}
			if resume {
				prior, err := st.history.Load()
				if err != nil {
					return err
				}
				req.Prior = prior
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			watchInterrupts(ctx, cancel, ag)

			eg := errgroup.Group{}
			eg.Go(func() error {
				return router.Run(ctx)
			})
			eg.Go(func() error {
				defer cancel()
				<-router.Running()

				done, err := consumeRun(ctx, ag, req)
				if err != nil {
					return err
				}
				if !noSave {
					if _, err := st.history.Append(done.History); err != nil {
						return err
					}
					if err := st.history.AppendImages(done.ProducedImages); err != nil {
						return err
					}
				}
				if codeOut != "" {
					return writeCodeBlocks(cmd.OutOrStdout(), codeOut, done.History)
				}
				return nil
			})
			return eg.Wait()
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", "responses", "Stream client: responses, chat, or ollama")
	cmd.Flags().StringVar(&model, "model", "", "Override the configured model")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Override the configured turn ceiling")
	cmd.Flags().BoolVar(&resume, "resume", false, "Send the stored transcript as prior context")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not persist this run's entries")
	cmd.Flags().StringVar(&codeOut, "code-out", "", "Write fenced code blocks from the final reply into this directory")
	cmd.Flags().StringArrayVar(&attachments, "attach", nil, "Attach a file or image (repeatable)")

	return cmd
}

// codeExtensions maps fence languages onto file extensions. Unknown
// languages fall back to .txt.
var codeExtensions = map[string]string{
	"python":     ".py",
	"py":         ".py",
	"go":         ".go",
	"golang":     ".go",
	"bash":       ".sh",
	"sh":         ".sh",
	"shell":      ".sh",
	"javascript": ".js",
	"js":         ".js",
	"typescript": ".ts",
	"ts":         ".ts",
	"yaml":       ".yaml",
	"yml":        ".yaml",
	"json":       ".json",
	"sql":        ".sql",
	"rust":       ".rs",
	"html":       ".html",
	"css":        ".css",
}

// writeCodeBlocks pulls every fenced code block out of the run's final
// assistant reply and writes each one to its own file under dir.
func writeCodeBlocks(w io.Writer, dir string, entries []history.Entry) error {
	var reply string
	for _, e := range entries {
		if e.Kind == history.KindAssistantMessage {
			reply = history.ItemText(e.Content)
		}
	}
	blocks, err := parse.ExtractCodeBlocks(reply)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		fmt.Fprintln(w, "No code blocks in the final reply.")
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "could not create %s", dir)
	}
	for i, block := range blocks {
		ext, ok := codeExtensions[strings.ToLower(block.Language)]
		if !ok {
			ext = ".txt"
		}
		name := filepath.Join(dir, fmt.Sprintf("block-%02d%s", i+1, ext))
		if err := os.WriteFile(name, []byte(block.Code), 0o644); err != nil {
			return errors.Wrapf(err, "could not write %s", name)
		}
		fmt.Fprintf(w, "Wrote %s\n", name)
	}
	return nil
}
