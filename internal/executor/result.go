package executor

import "errors"

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// ExtendedError lets a Runtime attach GraphQL error extensions (error-kind
// codes, upstream status values) to a resolver failure. Errors that
// implement it keep their extensions when folded into the errors array.
type ExtendedError interface {
	error
	GraphQLExtensions() map[string]any
}

// errorToGraphQL folds a resolver error into a located GraphQL error,
// preserving extensions from ExtendedError implementations.
func errorToGraphQL(err error, path Path) GraphQLError {
	ge := GraphQLError{Message: err.Error(), Path: path}
	var ee ExtendedError
	if errors.As(err, &ee) {
		ge.Extensions = ee.GraphQLExtensions()
	}
	return ge
}

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}
