package cmds

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/mangiafuoco/pkg/agent"
	"github.com/go-go-golems/mangiafuoco/pkg/events"
)

func NewChatCommand() *cobra.Command {
	var (
		backendName string
		model       string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent; the transcript persists between runs",
		Args:  cobra.NoArgs,
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

			prior, err := st.history.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			watchInterrupts(ctx, cancel, ag)

			ui := &input.UI{Writer: os.Stdout, Reader: os.Stdin}

			eg := errgroup.Group{}
			eg.Go(func() error {
				return router.Run(ctx)
			})
			eg.Go(func() error {
				defer cancel()
				<-router.Running()

				fmt.Fprintf(cmd.OutOrStdout(),
					"Chatting with %s (%s, %d stored entries). Type exit to leave.\n",
					settings.AgentName, settings.Agent.ModelName, len(prior))

				for {
					if ctx.Err() != nil {
						return nil
					}

					line, err := ui.Ask("You", &input.Options{
						Required: true,
						Loop:     true,
					})
					if err != nil {
						log.Debug().Err(err).Msg("input closed, leaving chat")
						return nil
					}
					message := strings.TrimSpace(line)
					if message == "exit" || message == "quit" {
						return nil
					}

					done, err := consumeRun(ctx, ag, agent.RunRequest{
						Message: message,
						Prior:   prior,
					})
					if err != nil {
						return err
					}

					if _, err := st.history.Append(done.History); err != nil {
						return err
					}
					if err := st.history.AppendImages(done.ProducedImages); err != nil {
						return err
					}
					prior = append(prior, done.History...)

					if done.Stopped {
						return nil
					}
				}
			})
			return eg.Wait()
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", "responses", "Stream client: responses, chat, or ollama")
	cmd.Flags().StringVar(&model, "model", "", "Override the configured model")

	return cmd
}
