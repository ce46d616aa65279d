package responses

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mangiafuoco/pkg/backend"
)

// sseStream reads one server-sent event per Next call. An SSE event is a
// run of "event:"/"data:" lines terminated by a blank line; multi-line data
// is joined with newlines before JSON decoding.
type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func (s *sseStream) Next() (*backend.StreamEvent, error) {
	if s.done {
		return nil, io.EOF
	}

	var eventName string
	var dataBuf strings.Builder

	flush := func() (*backend.StreamEvent, error) {
		if dataBuf.Len() == 0 {
			return nil, nil
		}
		data := dataBuf.String()
		dataBuf.Reset()

		var payload map[string]any
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			log.Debug().Err(err).Str("event", eventName).Msg("Responses: skipping unparseable SSE data")
			return nil, nil
		}

		typ := eventName
		if t, ok := payload["type"].(string); ok && t != "" {
			typ = t
		}

		if err := streamError(typ, payload); err != nil {
			return nil, err
		}

		return &backend.StreamEvent{Type: typ, Payload: payload}, nil
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			s.done = true
			return nil, errors.Wrap(err, "error reading SSE stream")
		}
		atEOF := err == io.EOF

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			ev, ferr := flush()
			if ferr != nil {
				s.done = true
				return nil, ferr
			}
			if ev != nil {
				return ev, nil
			}
			eventName = ""
			if atEOF {
				s.done = true
				return nil, io.EOF
			}
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		if atEOF {
			s.done = true
			ev, ferr := flush()
			if ferr != nil {
				return nil, ferr
			}
			if ev != nil {
				return ev, nil
			}
			return nil, io.EOF
		}
	}
}

// streamError converts provider failure events into Go errors so the run
// terminates through the backend-error path.
func streamError(typ string, payload map[string]any) error {
	switch typ {
	case "error":
		msg, _ := payload["message"].(string)
		if msg == "" {
			msg = "unknown stream error"
		}
		return errors.Errorf("responses stream error: %s", msg)
	case "response.failed":
		if resp, ok := payload["response"].(map[string]any); ok {
			if e, ok := resp["error"].(map[string]any); ok {
				if msg, ok := e["message"].(string); ok && msg != "" {
					return errors.Errorf("response failed: %s", msg)
				}
			}
		}
		return errors.New("response failed")
	}
	return nil
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}

var _ backend.Stream = (*sseStream)(nil)
