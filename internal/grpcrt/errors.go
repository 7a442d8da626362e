package grpcrt

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Extensions codes surfaced to GraphQL clients. Client-input failures use
// BAD_USER_INPUT, transport establishment failures UPSTREAM_UNAVAILABLE,
// and backend statuses carry GRPC_STATUS alongside their code. INTERNAL
// and UNKNOWN statuses are redacted to an opaque INTERNAL_ERROR for the
// client; the full status still reaches the event bus via the transport's
// GRPCClientFinish event.
const (
	codeBadUserInput        = "BAD_USER_INPUT"
	codeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	codeInternalError       = "INTERNAL_ERROR"
)

type resolverError struct {
	message    string
	extensions map[string]any
}

func (e *resolverError) Error() string                     { return e.message }
func (e *resolverError) GraphQLExtensions() map[string]any { return e.extensions }

func badUserInput(err error) error {
	return &resolverError{
		message:    err.Error(),
		extensions: map[string]any{"code": codeBadUserInput},
	}
}

func internalError(err error) error {
	return &resolverError{
		message:    err.Error(),
		extensions: map[string]any{"code": codeInternalError},
	}
}

// translateUpstreamError maps a transport failure onto the client-facing
// error shape. Non-status errors are dial/connection failures.
func translateUpstreamError(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.Unavailable {
		ext := map[string]any{"code": codeUpstreamUnavailable}
		if ok {
			ext["GRPC_STATUS"] = int(st.Code())
		}
		return &resolverError{message: err.Error(), extensions: ext}
	}
	switch st.Code() {
	case codes.Internal, codes.Unknown:
		return &resolverError{
			message: codeInternalError,
			extensions: map[string]any{
				"code":        codeInternalError,
				"GRPC_STATUS": int(st.Code()),
			},
		}
	default:
		return &resolverError{
			message: st.Message(),
			extensions: map[string]any{
				"code":        "UPSTREAM_ERROR",
				"GRPC_STATUS": int(st.Code()),
			},
		}
	}
}
