package provider

import "fmt"

// TransportError means the provider could not be reached or returned a
// non-2xx status. The order should stay pending and the call may be retried.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means the provider answered but the body was not usable: bad
// JSON, a missing field, or an explicit error message from the panel.
type ParseError struct {
	Op      string
	Message string
	Body    string
}

func (e *ParseError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("provider %s: unparseable response", e.Op)
}
