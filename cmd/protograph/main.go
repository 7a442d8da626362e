package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/relaygraph/protograph/internal/descpool"
	"github.com/relaygraph/protograph/internal/eventbus"
	"github.com/relaygraph/protograph/internal/grpcrt"
	"github.com/relaygraph/protograph/internal/grpctp"
	"github.com/relaygraph/protograph/internal/introspection"
	"github.com/relaygraph/protograph/internal/ir"
	"github.com/relaygraph/protograph/internal/otel"
	"github.com/relaygraph/protograph/internal/protoanno"
	"github.com/relaygraph/protograph/internal/protoreg"
	"github.com/relaygraph/protograph/internal/schema"
	"github.com/relaygraph/protograph/internal/server"
)

const rootUsage = `protograph — GraphQL ↔ gRPC bridge

USAGE:
  protograph <command> [flags]

COMMANDS:
  serve            Run the HTTP/WebSocket GraphQL gateway backed by gRPC services
  compile-sdl      Translate an annotated FileDescriptorSet into GraphQL SDL
  help             Show help for any command

Starter scaffolding generation (descriptor-file compiler plugin) is not part
of this tool; bring your own annotated .proto sources.
`

const serveUsage = `serve FLAGS:
  -descriptor <file>                  Path to a binary FileDescriptorSet (required)
  -graphql.introspection <bool>       Enable GraphQL introspection (default: true)
  -graphql.federation <bool>          Enable Apollo Federation v2 (@key/_entities) (default: false)
  -federation.entity <Type=Svc/Method:key>
                                      Map a federation entity type to a batch backend
                                      method. Repeatable. Absent types fall back to the
                                      identity strategy (representation fields only).
  -server.addr <addr>                 HTTP/WS listen address (default: :8080)
  -server.pretty                      Pretty-print JSON responses
  -server.timeout <duration>          Per-request timeout, e.g. 10s (default: 10s)
  -server.metadata-header <name>      Forward HTTP header to gRPC metadata. Repeatable
  -transport.backend <Svc=host:port>  Override a service's backend_host annotation.
                                      Repeatable. Use "*=host:port" as a default.
  -transport.max-conns-per-endpoint N Max TCP conns per endpoint (default: 2)
  -transport.rpc-timeout <duration>   RPC timeout, e.g. 3s (default: 3s)
  -transport.eager                    Dial every backend at startup and fail fast
                                      if one is unreachable (default: lazy dial)
  -otel.endpoint <addr>               OTLP collector endpoint
  -otel.service <name>                OpenTelemetry service name (default: protograph)
`

const compileSDLUsage = `compile-sdl FLAGS:
  -descriptor <file>          Path to a binary FileDescriptorSet (required)
  -graphql.federation <bool>  Enable Apollo Federation v2 (default: false)
  -out <file>                 Write compiled SDL to file (default: stdout)
  (Validation always runs; exits non-zero on errors)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("protograph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "compile-sdl":
		return cmdCompileSDL(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "compile-sdl":
		fmt.Print(compileSDLUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type backendFlag struct {
	m map[string][]string
}

func (b *backendFlag) String() string { return "" }

func (b *backendFlag) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid backend %q", v)
	}
	svc := strings.TrimSpace(parts[0])
	ep := strings.TrimSpace(parts[1])
	if svc == "" || ep == "" {
		return fmt.Errorf("invalid backend %q", v)
	}
	if b.m == nil {
		b.m = map[string][]string{}
	}
	b.m[svc] = append(b.m[svc], ep)
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// entityFlag parses repeated -federation.entity Type=Service/Method:key flags.
type entityFlag struct {
	m map[string]protoreg.EntityMapping
}

func (e *entityFlag) String() string { return "" }

func (e *entityFlag) Set(v string) error {
	typeAndRest := strings.SplitN(v, "=", 2)
	if len(typeAndRest) != 2 {
		return fmt.Errorf("invalid -federation.entity %q: want Type=Service/Method:key", v)
	}
	svcAndKey := strings.SplitN(typeAndRest[1], ":", 2)
	if len(svcAndKey) != 2 {
		return fmt.Errorf("invalid -federation.entity %q: want Type=Service/Method:key", v)
	}
	svcAndMethod := strings.SplitN(svcAndKey[0], "/", 2)
	if len(svcAndMethod) != 2 {
		return fmt.Errorf("invalid -federation.entity %q: want Type=Service/Method:key", v)
	}
	if e.m == nil {
		e.m = map[string]protoreg.EntityMapping{}
	}
	e.m[typeAndRest[0]] = protoreg.EntityMapping{
		ServiceFQN: svcAndMethod[0],
		MethodName: svcAndMethod[1],
		KeyField:   svcAndKey[1],
	}
	return nil
}

func loadPool(descriptorPath string) (*descpool.Pool, error) {
	if descriptorPath == "" {
		return nil, fmt.Errorf("-descriptor is required")
	}
	raw, err := os.ReadFile(descriptorPath)
	if err != nil {
		return nil, fmt.Errorf("read descriptor set: %w", err)
	}
	pool, err := descpool.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("load descriptor set: %w", err)
	}
	return pool, nil
}

func cmdServe(args []string) error {
	descriptorPath := ""
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	maxConns := 2
	rpcTimeout := 3 * time.Second
	eagerDial := false
	enableIntrospection := true
	enableFederation := false
	otelEndpoint := ""
	otelService := "protograph"
	var metadataHeaders stringListFlag
	var bf backendFlag
	var ef entityFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&descriptorPath, "descriptor", descriptorPath, "Path to a binary FileDescriptorSet")
	fs.BoolVar(&enableIntrospection, "graphql.introspection", enableIntrospection, "Enable GraphQL introspection")
	fs.BoolVar(&enableFederation, "graphql.federation", enableFederation, "Enable Apollo Federation v2")
	fs.Var(&ef, "federation.entity", "Map a federation entity type to a backend method")
	fs.StringVar(&addr, "server.addr", addr, "HTTP/WS listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Var(&metadataHeaders, "server.metadata-header", "Forward HTTP header to gRPC metadata")
	fs.Var(&bf, "transport.backend", "Override a service's backend_host annotation")
	fs.IntVar(&maxConns, "transport.max-conns-per-endpoint", maxConns, "Max conns per endpoint")
	fs.DurationVar(&rpcTimeout, "transport.rpc-timeout", rpcTimeout, "RPC timeout")
	fs.BoolVar(&eagerDial, "transport.eager", eagerDial, "Dial every backend at startup and fail fast")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	pool, err := loadPool(descriptorPath)
	if err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	proj, err := ir.Build(pool, ir.Options{Federation: enableFederation})
	if err != nil {
		return fmt.Errorf("build schema ir: %w", err)
	}

	reg, err := protoreg.Build(pool, proj)
	if err != nil {
		return fmt.Errorf("protoreg build: %w", err)
	}

	// Resolve backend endpoints: annotation-declared backend_host first,
	// -transport.backend overrides/fills gaps, "*" sets a default.
	endpoints := map[string][]string{}
	for _, svc := range pool.Services() {
		fn := string(svc.FullName())
		if ann, ok := protoanno.ReadServiceAnnotation(svc); ok && ann.BackendHost != "" {
			endpoints[fn] = []string{ann.BackendHost}
		}
	}
	for svc, eps := range bf.m {
		if svc == "*" {
			continue
		}
		endpoints[svc] = eps
	}
	wildcard := bf.m["*"]
	for _, svc := range pool.Services() {
		fn := string(svc.FullName())
		if len(endpoints[fn]) == 0 {
			if len(wildcard) == 0 {
				return fmt.Errorf("no backend mapping for service %s (set backend_host annotation or -transport.backend)", fn)
			}
			endpoints[fn] = wildcard
		}
	}
	provider := grpctp.NewStaticEndpoints(endpoints)

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	trOpts := []grpctp.Option{grpctp.WithProvider(provider), grpctp.WithMaxConnsPerEndpoint(maxConns)}
	if rpcTimeout > 0 {
		trOpts = append(trOpts, grpctp.WithRPCTimeout(rpcTimeout))
	}
	transport := grpctp.New(trOpts...)

	if eagerDial {
		seen := map[string]bool{}
		var eps []string
		for _, svcEps := range endpoints {
			for _, ep := range svcEps {
				if !seen[ep] {
					seen[ep] = true
					eps = append(eps, ep)
				}
			}
		}
		dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := transport.Preconnect(dialCtx, eps)
		cancel()
		if err != nil {
			return fmt.Errorf("eager dial: %w", err)
		}
	}

	var rtOpts []grpcrt.Option
	if enableFederation && len(ef.m) > 0 {
		entityLoader, err := protoreg.NewEntityLoader(pool, reg, transport, ef.m)
		if err != nil {
			return fmt.Errorf("federation entity mapping: %w", err)
		}
		rtOpts = append(rtOpts, grpcrt.WithEntityLoader(entityLoader))
	}
	runtime := grpcrt.NewRuntime(reg, transport, rtOpts...)

	sch, err := schema.BuildFromIR(proj)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}

	if enableIntrospection {
		wrapper := introspection.Wrap(runtime, sch)
		runtime = wrapper.Runtime
		sch = wrapper.Schema
	}

	var sopts []server.Option
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if len(metadataHeaders) > 0 {
		sopts = append(sopts, server.WithMetadataHeaders(metadataHeaders...))
	}
	h, err := server.New(runtime, sch, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	mux.Handle("/graphql/ws", server.NewWebSocketHandler(runtime, sch, metadataHeaders))

	log.Printf("GraphQL server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func cmdCompileSDL(args []string) error {
	descriptorPath := ""
	enableFederation := false
	outFile := ""
	fs := flag.NewFlagSet("compile-sdl", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&descriptorPath, "descriptor", descriptorPath, "Path to a binary FileDescriptorSet")
	fs.BoolVar(&enableFederation, "graphql.federation", enableFederation, "Enable Apollo Federation v2")
	fs.StringVar(&outFile, "out", outFile, "Write compiled SDL to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, compileSDLUsage)
		return err
	}

	pool, err := loadPool(descriptorPath)
	if err != nil {
		fmt.Fprint(os.Stderr, compileSDLUsage)
		return err
	}

	proj, err := ir.Build(pool, ir.Options{Federation: enableFederation})
	if err != nil {
		return fmt.Errorf("build schema ir: %w", err)
	}
	sch, err := schema.BuildFromIR(proj)
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	sdl := schema.Render(sch)
	if outFile == "" {
		fmt.Print(sdl)
		return nil
	}
	return os.WriteFile(outFile, []byte(sdl), 0644)
}
