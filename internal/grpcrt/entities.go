package grpcrt

import (
	"context"

	"github.com/relaygraph/protograph/internal/executor"
	"google.golang.org/protobuf/types/dynamicpb"
)

// EntityLoader resolves Apollo Federation _entities representations into
// concrete values for the _Entity union, keyed by each representation's
// __typename. A representation missing from the result (or returned nil)
// becomes a null entry in the _entities response, per the federation spec's
// "skip what you can't resolve" contract.
type EntityLoader interface {
	LoadEntities(ctx context.Context, representations []map[string]any) ([]any, error)
}

// identityEntityLoader is the default "_entities" strategy used when no
// backend mapping is configured:
// it reconstructs a partial source message directly from the
// representation's own fields (its @key fields, typically) instead of
// calling out to a backend. Selection against missing fields on that
// partial message resolves to null exactly as any other sparse source.
type identityEntityLoader struct {
	reg Registry
}

func (l identityEntityLoader) LoadEntities(ctx context.Context, representations []map[string]any) ([]any, error) {
	out := make([]any, len(representations))
	for i, rep := range representations {
		typename, _ := rep["__typename"].(string)
		desc := l.reg.GetSourceMessageDescriptor(typename)
		if desc == nil {
			out[i] = nil
			continue
		}
		msg := dynamicpb.NewMessage(desc)
		fields := make(map[string]any, len(rep))
		for k, v := range rep {
			if k == "__typename" {
				continue
			}
			fields[k] = v
		}
		if err := setMessageFieldsByJSON(msg, fields); err != nil {
			out[i] = nil
			continue
		}
		out[i] = msg
	}
	return out, nil
}

// runEntitiesGroup resolves every "_entities" task by delegating to the
// installed EntityLoader, one representations list per task, preserving
// input order.
func (r *Runtime) runEntitiesGroup(ctx context.Context, tasks []executor.AsyncResolveTask, idxs []int, results []executor.AsyncResolveResult) {
	for _, idx := range idxs {
		reps, _ := tasks[idx].Args["representations"].([]any)
		converted := make([]map[string]any, len(reps))
		for i, rep := range reps {
			m, _ := rep.(map[string]any)
			converted[i] = m
		}
		values, err := r.entities.LoadEntities(ctx, converted)
		if err != nil {
			results[idx] = executor.AsyncResolveResult{Error: err}
			continue
		}
		results[idx] = executor.AsyncResolveResult{Value: values}
	}
}
