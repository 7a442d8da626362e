package grpcrt

import (
	"context"
	"fmt"

	"github.com/relaygraph/protograph/internal/executor"
	"google.golang.org/protobuf/types/dynamicpb"
)

var _ executor.SubscriptionRuntime = (*Runtime)(nil)

// Subscribe opens the backing method for a Subscription root field as a
// server-streaming gRPC call, translating each response message into the
// Go value the executor completes against. objectType is always the
// schema's subscription type name; field is the single root field name.
func (r *Runtime) Subscribe(ctx context.Context, objectType, field string, args map[string]any) (*executor.SourceEventStream, error) {
	md := r.reg.GetSingleResolverDescriptor(objectType, field)
	if md == nil {
		return nil, fmt.Errorf("no subscription method registered for %s.%s", objectType, field)
	}

	req := dynamicpb.NewMessage(md.Input())
	merged := r.mergeArgsWithSource(objectType, field, nil, args, md.Input())
	if err := setMessageFieldsByJSON(req, merged); err != nil {
		return nil, badUserInput(err)
	}

	respc, errc := r.transport.CallStream(ctx, md, req)
	pluck := r.reg.GetResponsePluck(objectType, field)

	events := make(chan any)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		// respc is drained to completion (it closes once the stream ends or
		// CallStream gives up), then the buffered terminal error, if any, is
		// read off errc. Sequencing it this way (rather than a single select
		// racing both channels) guarantees a terminal error is never dropped
		// by a same-tick close on respc.
		for resp := range respc {
			val, err := r.handleResponse(resp, pluck)
			if err != nil {
				select {
				case errs <- internalError(err):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case events <- val:
			case <-ctx.Done():
				return
			}
		}
		if err, ok := <-errc; ok && err != nil {
			select {
			case errs <- translateUpstreamError(err):
			case <-ctx.Done():
			}
		}
	}()

	return &executor.SourceEventStream{Events: events, Errs: errs}, nil
}
