package events

// Sink is a destination for events emitted during a run. The agent
// forwards every event to its configured sinks in addition to the run's
// own channel.
type Sink interface {
	// PublishEvent publishes an event to the sink.
	// Returns an error if the event could not be published.
	PublishEvent(event Event) error
}

// NullSink discards all events. Useful for tests or when event publishing
// is not desired.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (n *NullSink) PublishEvent(event Event) error {
	return nil
}

var _ Sink = (*NullSink)(nil)
