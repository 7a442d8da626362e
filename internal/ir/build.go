// Package ir holds the in-memory intermediate representation the schema
// builder consumes, and the descriptor-driven builder that produces it: a
// FileDescriptorSet annotated with graphql.* extension options in, a
// Project (types + root fields + resolver/loader wiring) out.
package ir

import (
	"fmt"
	"sort"

	"github.com/relaygraph/protograph/internal/descpool"
	"github.com/relaygraph/protograph/internal/protoanno"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Options configures the descriptor-to-IR build.
type Options struct {
	// Federation enables @key/@extends directive emission on entity objects,
	// the _Any scalar, the _Entity union and the _entities root field.
	// Field-level @external/@requires/@provides/@shareable come from field
	// annotations and are emitted whether or not this is set.
	Federation bool
}

// Build synthesizes a Project from a loaded descriptor pool. It is the
// single entry point for schema-load-time translation; any failure returns
// a ValidationError aggregating every violation found, since partial
// schemas are never exposed on error.
func Build(pool *descpool.Pool, opts Options) (*Project, error) {
	b := &builder{
		pool: pool,
		reg:  newTypeRegistry(&[]*Violation{}),
		opts: opts,
	}
	proj, err := b.build()
	if err != nil {
		return nil, err
	}
	return proj, nil
}

type builder struct {
	pool *descpool.Pool
	reg  *typeRegistry
	opts Options

	project *Project
}

func (b *builder) violations() []*Violation { return *b.reg.violations }

func (b *builder) fail(format string, args ...any) {
	b.reg.addViolation(fmt.Sprintf(format, args...), "")
}

func (b *builder) build() (*Project, error) {
	b.project = &Project{
		Services:    map[ServiceID]*Service{},
		Schema:      &Schema{QueryType: "Query"},
		Definitions: map[string]*Definition{},
		Directives:  map[string]*DirectiveDefinition{},
		Loaders:     map[LoaderID]*LoaderDefinition{},
		Resolvers:   map[ResolverID]*ResolverDefinition{},
	}

	queryFields := map[string]*FieldDefinition{}
	mutationFields := map[string]*FieldDefinition{}
	subscriptionFields := map[string]*FieldDefinition{}

	for _, svc := range b.pool.Services() {
		svcID := ServiceID(svc.FullName())
		svcAnn, _ := protoanno.ReadServiceAnnotation(svc)

		svcEntry := &Service{
			ID:          svcID,
			Name:        string(svc.Name()),
			PackagePath: []string{string(svc.ParentFile().Package())},
			FilePath:    svc.ParentFile().Path(),
		}
		b.project.Services[svcID] = svcEntry
		_ = svcAnn // consumed by the client-pool builder (cmd wiring), not the IR

		methods := svc.Methods()
		for i := 0; i < methods.Len(); i++ {
			md := methods.Get(i)
			ann, _ := protoanno.ReadMethodAnnotation(md)
			kind := protoanno.KindNone
			if ann != nil {
				kind = ann.Kind
			}
			if kind == protoanno.KindNone {
				continue
			}

			switch kind {
			case protoanno.KindQuery:
				f, resolverID := b.buildRootField(svc, md, ann, false)
				queryFields[f.Name] = f
				svcEntry.Resolvers = append(svcEntry.Resolvers, resolverID)

			case protoanno.KindMutation:
				f, resolverID := b.buildRootField(svc, md, ann, false)
				mutationFields[f.Name] = f
				svcEntry.Resolvers = append(svcEntry.Resolvers, resolverID)

			case protoanno.KindSubscription:
				if !md.IsStreamingServer() {
					b.fail("method %s is SUBSCRIPTION but is not server-streaming", md.FullName())
					continue
				}
				f, resolverID := b.buildRootField(svc, md, ann, true)
				subscriptionFields[f.Name] = f
				svcEntry.Resolvers = append(svcEntry.Resolvers, resolverID)

			case protoanno.KindResolver:
				b.buildChildResolverField(svc, md, ann)

			default:
				b.fail("method %s has unknown graphql.schema kind %d", md.FullName(), kind)
			}
		}
	}

	// Phase 2: populate every placeholder type registered while building
	// root/resolver fields above.
	b.reg.populateAll(b.lookupMessage, b.lookupEnum)

	for _, pcf := range b.reg.pendingChildFields {
		def, ok := b.reg.definitions[pcf.parentName]
		if !ok || def.Object == nil {
			b.fail("RESOLVER field %s targets unknown or non-object parent %s", pcf.field.Name, pcf.parentName)
			continue
		}
		next := 0
		for _, f := range def.Object.Fields {
			if f.Index >= next {
				next = f.Index + 1
			}
		}
		pcf.field.Index = next
		def.Object.Fields[pcf.field.Name] = pcf.field
	}

	for name, def := range b.reg.definitions {
		b.project.Definitions[name] = def
	}
	for _, s := range builtinScalarDefs() {
		if _, exists := b.project.Definitions[s.Name]; !exists {
			b.project.Definitions[s.Name] = &Definition{Scalar: s}
		}
	}

	if b.opts.Federation {
		b.installFederation(queryFields)
	}
	assignFieldIndexesByName(queryFields)
	assignFieldIndexesByName(mutationFields)
	assignFieldIndexesByName(subscriptionFields)

	b.project.Definitions["Query"] = &Definition{Object: &ObjectDefinition{Name: "Query", Fields: queryFields}}
	if len(mutationFields) > 0 {
		b.project.Definitions["Mutation"] = &Definition{Object: &ObjectDefinition{Name: "Mutation", Fields: mutationFields}}
		b.project.Schema.MutationType = "Mutation"
	}
	if len(subscriptionFields) > 0 {
		b.project.Definitions["Subscription"] = &Definition{Object: &ObjectDefinition{Name: "Subscription", Fields: subscriptionFields}}
		b.project.Schema.SubscriptionType = "Subscription"
	}

	if len(queryFields) == 0 {
		b.fail("no QUERY-kind methods found; Query type would have no fields")
	}

	if len(b.violations()) > 0 {
		return nil, ValidationError(b.violations())
	}
	return b.project, nil
}

// assignFieldIndexesByName gives a root object's fields a deterministic
// Index (sorted by name) so repeated builds of the same descriptor set
// render byte-identical SDL regardless of Go map iteration order.
func assignFieldIndexesByName(fields map[string]*FieldDefinition) {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	for i, n := range names {
		fields[n].Index = i
	}
}

func builtinScalarDefs() []*ScalarDefinition {
	return []*ScalarDefinition{StringType, IntType, FloatType, BooleanType, IDType, UploadType}
}

func (b *builder) lookupMessage(fqn protoreflect.FullName) protoreflect.MessageDescriptor {
	md, ok := b.pool.FindMessage(string(fqn))
	if !ok {
		return nil
	}
	return md
}

func (b *builder) lookupEnum(fqn protoreflect.FullName) protoreflect.EnumDescriptor {
	ed, ok := b.pool.FindEnum(string(fqn))
	if !ok {
		return nil
	}
	return ed
}
