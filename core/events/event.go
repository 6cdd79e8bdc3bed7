package events

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (gateway, indexers,
// metrics collectors).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for engines whose callers have not installed a sink.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

type multiEmitter struct {
	sinks []Emitter
}

// Multi fans every emitted event out to all provided sinks. Nil sinks are
// skipped so callers can pass optional emitters without guarding.
func Multi(sinks ...Emitter) Emitter {
	filtered := make([]Emitter, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		filtered = append(filtered, sink)
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return multiEmitter{sinks: filtered}
}

func (m multiEmitter) Emit(evt Event) {
	for _, sink := range m.sinks {
		sink.Emit(evt)
	}
}
