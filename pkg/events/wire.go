package events

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// wireEvent is the transport artifact: {kind, agent_name, content}, plus
// the full metadata so subscribers can correlate runs and turns.
type wireEvent struct {
	Kind      Kind            `json:"kind"`
	AgentName string          `json:"agent_name"`
	Meta      Meta            `json:"meta"`
	Content   json.RawMessage `json:"content"`
}

// MarshalWire serializes an event for transport.
func MarshalWire(e Event) ([]byte, error) {
	content, err := json.Marshal(e.Content())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event content")
	}
	return json.Marshal(wireEvent{
		Kind:      e.Kind(),
		AgentName: e.Meta().AgentName,
		Meta:      e.Meta(),
		Content:   content,
	})
}

// UnmarshalWire parses a transport payload back into a typed event. The
// kind discriminator selects the concrete struct; content fields decode by
// their json tags.
func UnmarshalWire(b []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal event envelope")
	}

	impl := EventImpl{Kind_: w.Kind, Meta_: w.Meta}

	decode := func(e Event) (Event, error) {
		if len(w.Content) == 0 {
			return e, nil
		}
		if err := json.Unmarshal(w.Content, e); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal %s content", w.Kind)
		}
		return e, nil
	}

	switch w.Kind {
	case KindReasoningStarted:
		return decode(&EventReasoningStarted{EventImpl: impl})
	case KindReasoningDelta:
		return decode(&EventReasoningDelta{EventImpl: impl})
	case KindReasoningDone:
		return decode(&EventReasoningDone{EventImpl: impl})
	case KindTextStarted:
		return decode(&EventTextStarted{EventImpl: impl})
	case KindTextDelta:
		return decode(&EventTextDelta{EventImpl: impl})
	case KindTextDone:
		return decode(&EventTextDone{EventImpl: impl})
	case KindToolCall:
		return decode(&EventToolCall{EventImpl: impl})
	case KindImageStarted:
		return decode(&EventImageStarted{EventImpl: impl})
	case KindImagePartial:
		return decode(&EventImagePartial{EventImpl: impl})
	case KindImageDone:
		return decode(&EventImageDone{EventImpl: impl})
	case KindTurnCompleted:
		return decode(&EventTurnCompleted{EventImpl: impl})
	case KindRunDone:
		return decode(&EventRunDone{EventImpl: impl})
	case KindError:
		return decode(&EventError{EventImpl: impl})
	default:
		return nil, errors.Errorf("unknown event kind %q", w.Kind)
	}
}

// ToTypedEvent downcasts an Event to a concrete event struct.
func ToTypedEvent[T any](e Event) (*T, bool) {
	ev, ok := any(e).(*T)
	if !ok {
		return nil, false
	}
	return ev, true
}
