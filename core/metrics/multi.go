package metrics

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordCommand forwards to all sinks, returning the first error encountered.
func (m *MultiSink) RecordCommand(ev CommandEvent) error {
	var first error
	for _, s := range m.Sinks {
		if err := s.RecordCommand(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RecordChat forwards chat events.
func (m *MultiSink) RecordChat(ev ChatEvent) error {
	var first error
	for _, s := range m.Sinks {
		if err := s.RecordChat(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RecordHardwareStatus forwards status transitions.
func (m *MultiSink) RecordHardwareStatus(ev StatusEvent) error {
	var first error
	for _, s := range m.Sinks {
		if err := s.RecordHardwareStatus(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RecordClients forwards the client count when supported by the sink.
func (m *MultiSink) RecordClients(n int) error {
	var first error
	for _, s := range m.Sinks {
		if cr, ok := s.(ClientsRecorder); ok {
			if err := cr.RecordClients(n); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Close closes the sinks holding resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
