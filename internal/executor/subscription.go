package executor

import (
	"context"
	"fmt"

	language "github.com/relaygraph/protograph/internal/language"
	schema "github.com/relaygraph/protograph/internal/schema"
)

// SourceEventStream carries the raw event values emitted by a streaming root
// field (the subscription's "source stream", per the GraphQL spec's
// CreateSourceEventStream algorithm), before completion against the query's
// selection set.
type SourceEventStream struct {
	Events <-chan any
	Errs   <-chan error
}

// SubscriptionRuntime is implemented by runtimes that can open a streaming
// root field for Subscription operations. A runtime that only implements
// Runtime causes ExecuteSubscription to fail: subscriptions are opt-in.
type SubscriptionRuntime interface {
	Runtime
	Subscribe(ctx context.Context, objectType, field string, args map[string]any) (*SourceEventStream, error)
}

// ExecuteSubscription opens the operation's single root field as an event
// stream (CreateSourceEventStream) and maps each event through the ordinary
// value-completion algorithm (MapSourceToResponseEvent), emitting one
// ExecutionResult per event on the returned channel. The channel closes when
// the source stream ends or ctx is canceled.
func (e *Executor) ExecuteSubscription(ctx context.Context, document *language.QueryDocument, operationName string, variableValues map[string]any) (<-chan *ExecutionResult, error) {
	sr, ok := e.runtime.(SubscriptionRuntime)
	if !ok {
		return nil, fmt.Errorf("runtime does not support subscriptions")
	}

	operation := getOperation(document, operationName)
	if operation == nil {
		return nil, fmt.Errorf("operation not found")
	}
	if operation.Operation != language.Subscription {
		return nil, fmt.Errorf("not a subscription operation")
	}

	rootType := e.schema.GetSubscriptionType()
	if rootType == nil {
		return nil, fmt.Errorf("schema has no subscription type")
	}

	coerced, err := coerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return nil, err
	}

	bootstrap := &executionState{
		runtime:         e.runtime,
		schema:          e.schema,
		document:        document,
		variableValues:  coerced,
		context:         ctx,
		errors:          []GraphQLError{},
		asyncTaskInfo:   make(map[NodeID]asyncTask),
		nextID:          1,
		nullifiedPrefix: make(map[string]struct{}),
	}
	grouped := collectFields(bootstrap, rootType, operation.SelectionSet)
	ordered := grouped.orderedFields()
	if len(ordered) != 1 {
		return nil, fmt.Errorf("subscription operations must select exactly one top-level field")
	}
	rootField := ordered[0]
	fieldName := rootField.Fields[0].Name
	responseName := rootField.ResponseName

	fieldDef := getFieldDefinition(rootType, fieldName)
	if fieldDef == nil {
		return nil, fmt.Errorf("unknown subscription field %q", fieldName)
	}
	args := coerceArgumentValues(fieldDef, rootField.Fields[0].Arguments, coerced, bootstrap, Path{responseName})
	if len(bootstrap.errors) > 0 {
		return nil, bootstrap.errors[0]
	}

	stream, err := sr.Subscribe(ctx, rootType.Name, fieldName, args)
	if err != nil {
		return nil, err
	}

	out := make(chan *ExecutionResult)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream.Events:
				if !ok {
					return
				}
				out <- e.mapSourceEventToResponse(ctx, document, coerced, rootField, responseName, fieldDef, ev)
			case streamErr, ok := <-stream.Errs:
				if !ok {
					// Errs channel closed without further events; keep draining Events.
					continue
				}
				if streamErr == nil {
					continue
				}
				out <- &ExecutionResult{Errors: []GraphQLError{errorToGraphQL(streamErr, Path{responseName})}}
			}
		}
	}()
	return out, nil
}

// mapSourceEventToResponse runs the standard completion algorithm for the
// subscription field's return type against a single emitted event, reusing
// the same synchronous/async machinery ExecuteRequest uses for ordinary
// root fields.
func (e *Executor) mapSourceEventToResponse(ctx context.Context, document *language.QueryDocument, variableValues map[string]any, rootField collectedField, responseName string, fieldDef *schema.Field, event any) *ExecutionResult {
	state := &executionState{
		runtime:         e.runtime,
		schema:          e.schema,
		document:        document,
		variableValues:  variableValues,
		context:         ctx,
		asyncTaskGroup:  []asyncTask{},
		errors:          []GraphQLError{},
		asyncTaskInfo:   make(map[NodeID]asyncTask),
		nextID:          1,
		nullifiedPrefix: make(map[string]struct{}),
	}
	path := Path{responseName}
	completed := completeValue(state, fieldDef.Type, rootField.Fields, event, path)
	responseRoot := map[string]any{responseName: completed}

	for len(state.asyncTaskGroup) > 0 {
		filtered, results := flushAsyncTasks(state)
		for i, r := range results {
			completeAsyncField(state, filtered[i], r, responseRoot)
		}
	}

	return &ExecutionResult{Data: responseRoot, Errors: state.errors}
}
