package language

import "fmt"

// Error is a GraphQL-spec-shaped error value: a message plus the optional
// locations/path/extensions triple the spec's response format allows. It
// covers failures that happen outside query execution proper (body
// decoding, transport framing, request validation) where callers still want
// to produce a spec-shaped error response instead of a bare Go error.
type Error struct {
	Message    string
	Locations  []Position
	Path       []any
	Extensions map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("graphql: %s", e.Message)
}
