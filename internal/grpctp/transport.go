package grpctp

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	eventbus "github.com/relaygraph/protograph/internal/eventbus"
	events "github.com/relaygraph/protograph/internal/events"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/relaygraph/protograph/internal/grpcrt"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Transport is a real gRPC transport with connection pooling and deadline
// propagation. It integrates with an EndpointProvider for service discovery.

type Transport struct {
	opts *Options

	mu     sync.RWMutex
	pools  map[string]*connPool // key: endpoint
	closed atomic.Bool
}

func New(opts ...Option) *Transport {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	if len(o.DialOptions) == 0 {
		o.DialOptions = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig}),
		}
	}
	return &Transport{
		opts:  o,
		pools: make(map[string]*connPool),
	}
}

// Ensure we satisfy grpcrt.Transport
var _ grpcrt.Transport = (*Transport)(nil)

func (t *Transport) Call(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) (resp protoreflect.Message, err error) {
	if t.closed.Load() {
		err = fmt.Errorf("grpctp: closed")
		return
	}
	if t.opts.Provider == nil {
		err = fmt.Errorf("grpctp: provider not configured")
		return
	}
	service := string(method.Parent().FullName())
	mthFull := fmt.Sprintf("/%s/%s", service, method.Name())

	// Determine deadline
	if _, ok := ctx.Deadline(); !ok {
		// apply default if provided
		if t.opts.RPCTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
			defer cancel()
		}
	}

	// simple metadata for tracing (optional)
	ctx = metadata.AppendToOutgoingContext(ctx, "x-protograph-service", service)

	// get endpoints from provider
	endpoints, err := t.opts.Provider.Endpoints(ctx, service)
	if err != nil {
		return
	}
	// pick one with shuffle
	idx := rand.Intn(len(endpoints))
	endpoint := endpoints[idx]

	cc, err := t.getConn(ctx, endpoint)
	if err != nil {
		return
	}
	defer t.returnConn(endpoint, cc)

	start := time.Now()
	eventbus.Publish(ctx, events.GRPCClientStart{Service: service, Method: string(method.Name()), Target: endpoint})
	resp, err = t.invoke(ctx, cc, mthFull, request, method)
	eventbus.Publish(ctx, events.GRPCClientFinish{
		Service:  service,
		Method:   string(method.Name()),
		Target:   endpoint,
		Code:     status.Code(err),
		Err:      err,
		Duration: time.Since(start),
	})
	return
}

// CallStream opens a server-streaming RPC and relays each response message
// onto the returned channel until the server closes the stream, ctx is
// canceled, or a terminal error occurs (sent on the error channel).
func (t *Transport) CallStream(ctx context.Context, method protoreflect.MethodDescriptor, request protoreflect.Message) (<-chan protoreflect.Message, <-chan error) {
	out := make(chan protoreflect.Message)
	errc := make(chan error, 1)

	if t.closed.Load() {
		errc <- fmt.Errorf("grpctp: closed")
		close(errc)
		close(out)
		return out, errc
	}
	if t.opts.Provider == nil {
		errc <- fmt.Errorf("grpctp: provider not configured")
		close(errc)
		close(out)
		return out, errc
	}

	service := string(method.Parent().FullName())
	fullMethod := fmt.Sprintf("/%s/%s", service, method.Name())

	go func() {
		defer close(out)
		defer close(errc)

		endpoints, err := t.opts.Provider.Endpoints(ctx, service)
		if err != nil {
			errc <- err
			return
		}
		endpoint := endpoints[rand.Intn(len(endpoints))]

		cc, err := t.getConn(ctx, endpoint)
		if err != nil {
			errc <- err
			return
		}
		defer t.returnConn(endpoint, cc)

		desc := &grpc.StreamDesc{StreamName: string(method.Name()), ServerStreams: true}
		stream, err := cc.NewStream(ctx, desc, fullMethod)
		if err != nil {
			errc <- err
			return
		}
		if err := stream.SendMsg(request); err != nil {
			errc <- err
			return
		}
		if err := stream.CloseSend(); err != nil {
			errc <- err
			return
		}
		for {
			resp := dynamicpb.NewMessage(method.Output())
			if err := stream.RecvMsg(resp); err != nil {
				if err != io.EOF {
					errc <- err
				}
				return
			}
			select {
			case out <- resp:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errc
}

// Preconnect dials every endpoint eagerly and blocks until each connection
// reports Ready; it returns an error as soon as a connection enters
// TransientFailure or Shutdown, or ctx expires, so a misconfigured backend fails at startup
// instead of on the first call. Dialed connections are parked in the
// per-endpoint pool for reuse.
func (t *Transport) Preconnect(ctx context.Context, endpoints []string) error {
	for _, ep := range endpoints {
		cc, err := t.getConn(ctx, ep)
		if err != nil {
			return fmt.Errorf("grpctp: preconnect %s: %w", ep, err)
		}
		cc.Connect()
		for {
			s := cc.GetState()
			if s == connectivity.Ready {
				break
			}
			if s == connectivity.TransientFailure || s == connectivity.Shutdown {
				t.returnConn(ep, cc)
				return fmt.Errorf("grpctp: preconnect %s: connection entered state %s", ep, s)
			}
			if !cc.WaitForStateChange(ctx, s) {
				t.returnConn(ep, cc)
				return fmt.Errorf("grpctp: preconnect %s: %w", ep, ctx.Err())
			}
		}
		t.returnConn(ep, cc)
	}
	return nil
}

func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pools {
		p.close()
	}
	t.pools = map[string]*connPool{}
	return nil
}

// ---------------- internals ----------------

type connPool struct {
	endpoint string
	opts     *Options
	conns    chan *grpc.ClientConn
	once     sync.Once
	closed   atomic.Bool
}

func newConnPool(endpoint string, opts *Options) *connPool {
	n := opts.MaxConnsPerEndpoint
	if n <= 0 {
		n = 2
	}
	return &connPool{
		endpoint: endpoint,
		opts:     opts,
		conns:    make(chan *grpc.ClientConn, n),
	}
}

func (p *connPool) get(ctx context.Context) (*grpc.ClientConn, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("grpctp: pool closed")
	}
	select {
	case cc := <-p.conns:
		return cc, nil
	default:
		// create new
		cc, err := grpc.DialContext(ctx, p.endpoint, p.opts.DialOptions...)
		if err != nil {
			return nil, err
		}
		return cc, nil
	}
}

func (p *connPool) put(cc *grpc.ClientConn) {
	if cc == nil || p.closed.Load() {
		if cc != nil {
			_ = cc.Close()
		}
		return
	}
	select {
	case p.conns <- cc:
	default:
		_ = cc.Close()
	}
}

func (p *connPool) close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.conns)
	for cc := range p.conns {
		_ = cc.Close()
	}
}

func (t *Transport) getConn(ctx context.Context, endpoint string) (*grpc.ClientConn, error) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool == nil {
		t.mu.Lock()
		pool = t.pools[endpoint]
		if pool == nil {
			pool = newConnPool(endpoint, t.opts)
			t.pools[endpoint] = pool
		}
		t.mu.Unlock()
	}
	return pool.get(ctx)
}

func (t *Transport) returnConn(endpoint string, cc *grpc.ClientConn) {
	t.mu.RLock()
	pool := t.pools[endpoint]
	t.mu.RUnlock()
	if pool != nil {
		pool.put(cc)
		return
	}
	_ = cc.Close()
}

func (t *Transport) invoke(ctx context.Context, cc *grpc.ClientConn, fullMethod string, req protoreflect.Message, md protoreflect.MethodDescriptor) (protoreflect.Message, error) {
	// Use dynamicpb to construct response
	resp := dynamicpb.NewMessage(md.Output())
	// We can use the low-level ClientConn.Invoke
	if err := cc.Invoke(ctx, fullMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
