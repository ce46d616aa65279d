package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

// PrinterFunc returns a watermill handler that renders the event stream as
// readable terminal output: reasoning and answer deltas are printed as they
// arrive, tool calls as small YAML documents, and the run-done message as a
// trailer.
func PrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	isFirst := true

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := UnmarshalWire(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventReasoningStarted:
			if _, err := fmt.Fprintf(w, "\n--- Thinking ---\n"); err != nil {
				return err
			}

		case *EventReasoningDelta:
			if _, err := fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}

		case *EventReasoningDone:
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}

		case *EventTextStarted:
			if isFirst && name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "\n%s: \n", name); err != nil {
					return err
				}
			}

		case *EventTextDelta:
			if _, err := fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}

		case *EventTextDone:
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}

		case *EventToolCall:
			v_, err := yaml.Marshal(p_.ToolCall)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "%s\n", v_); err != nil {
				return err
			}

		case *EventImageStarted:
			if _, err := fmt.Fprintf(w, "\n[generating image]\n"); err != nil {
				return err
			}

		case *EventImageDone:
			if _, err := fmt.Fprintf(w, "[image done]\n"); err != nil {
				return err
			}

		case *EventTurnCompleted:
			// usage totals stay out of the transcript view

		case *EventError:
			if _, err := fmt.Fprintf(w, "\nerror: %s\n", p_.ErrorString); err != nil {
				return err
			}

		case *EventRunDone:
			if _, err := fmt.Fprintf(w, "\n%s\n", p_.Message); err != nil {
				return err
			}
		}

		return nil
	}
}
