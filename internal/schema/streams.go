package schema

const (
	StreamEvents     = "events"
	StreamDispatches = "dispatches"
	StreamDecisions  = "decisions"
	StreamErrors     = "errors"
)

// JournalStreams lists every stream the journal accepts.
var JournalStreams = []string{
	StreamEvents,
	StreamDispatches,
	StreamDecisions,
	StreamErrors,
}

// KnownStream reports whether stream is one of the journal streams.
func KnownStream(stream string) bool {
	for _, s := range JournalStreams {
		if s == stream {
			return true
		}
	}
	return false
}
