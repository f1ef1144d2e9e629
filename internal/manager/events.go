package manager

// Event represents a manager lifecycle event.
// Minimal and stable: name, family, bucket and optional fields.
type Event struct {
	Name   string
	Family string
	Bucket Bucket
	Fields map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// emit logs ev and hands it to the publisher.
func (m *Manager) emit(ev Event) {
	ev.Family = m.family.Name
	le := m.log.Info().Str("event", ev.Name)
	if ev.Bucket != "" {
		le = le.Str("bucket", string(ev.Bucket))
	}
	if len(ev.Fields) > 0 {
		le = le.Fields(ev.Fields)
	}
	le.Msg("manager")
	m.publisher.Publish(ev)
}
