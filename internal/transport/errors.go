package transport

import "fmt"

// TransportError is a non-success HTTP status from a backend. It carries
// the status code and the structured error body when the backend returned
// parseable JSON (Body is nil otherwise, with the raw text in RawBody).
// Errors are surfaced to the caller unmodified and never retried.
type TransportError struct {
	Status  int
	Body    map[string]any
	RawBody string
}

func (e *TransportError) Error() string {
	if e.Body != nil {
		return fmt.Sprintf("backend error (status %d): %v", e.Status, e.Body)
	}
	return fmt.Sprintf("backend error (status %d): %s", e.Status, e.RawBody)
}

// StreamError is a failure during an open event stream: a network drop or a
// malformed event. Any partial reply accumulated before the failure is
// discarded, never returned.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "stream error: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
