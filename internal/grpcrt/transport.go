package grpcrt

import (
	"context"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Transport handles the actual gRPC communication.
// This interface allows for different transport implementations (real gRPC, mock, etc.).
// Implementations MUST be safe for concurrent use: grpcrt may invoke Call from
// multiple goroutines when executing independent groups in parallel.
//
// Provided implementations:
// - internal/grpctp.Transport: production-ready client with pooling and timeouts
// - internal/grpcrt/transport_mock.go: test fakes/mocks
type Transport interface {
	// Call executes a single gRPC method call.
	Call(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) (protoreflect.Message, error)

	// CallStream executes a server-streaming gRPC method. Responses are sent
	// on the returned channel in arrival order; it closes when the stream
	// ends. A non-nil terminal error, if any, is sent on the error channel
	// before it closes. Implementations must close both channels exactly
	// once and must stop sending when ctx is canceled.
	CallStream(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) (<-chan protoreflect.Message, <-chan error)
}
