package protoreg

import (
	"fmt"
	"strings"

	descpool "github.com/relaygraph/protograph/internal/descpool"
	ir "github.com/relaygraph/protograph/internal/ir"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Build resolves every object type's backing message, every field's source
// descriptor, and every resolver/loader's backing method against pool,
// returning the Registry the resolver runtime dispatches through.
func Build(pool *descpool.Pool, proj *ir.Project) (*Registry, error) {
	reg := newRegistry()

	for typeName, def := range proj.Definitions {
		if def.Object == nil {
			continue
		}
		var msg protoreflect.MessageDescriptor
		if def.Object.SourceMessage != "" {
			m, ok := pool.FindMessage(def.Object.SourceMessage)
			if !ok {
				return nil, fmt.Errorf("protoreg: object %s: backing message %s not found in descriptor pool", typeName, def.Object.SourceMessage)
			}
			msg = m
			reg.sourceMessages[typeName] = m
		}

		for fieldName, field := range def.Object.Fields {
			k := key{typeName, fieldName}

			if field.ResolveBySource != nil {
				if msg == nil {
					return nil, fmt.Errorf("protoreg: %s.%s resolves by source but %s has no backing message", typeName, fieldName, typeName)
				}
				fd := msg.Fields().ByName(protoreflect.Name(field.ResolveBySource.SourceField))
				if fd == nil {
					return nil, fmt.Errorf("protoreg: %s.%s: source field %q not found on %s", typeName, fieldName, field.ResolveBySource.SourceField, msg.FullName())
				}
				reg.sourceFields[k] = fd
			}

			if field.ResolveByResolver != nil && fieldName != "_entities" {
				rdef, ok := proj.Resolvers[field.ResolveByResolver.ResolverID]
				if !ok {
					return nil, fmt.Errorf("protoreg: %s.%s: resolver %q not declared", typeName, fieldName, field.ResolveByResolver.ResolverID)
				}
				md, ok := pool.FindMethod(rdef.ServiceFQN, rdef.MethodName)
				if !ok {
					return nil, fmt.Errorf("protoreg: %s.%s: method %s/%s not found in descriptor pool", typeName, fieldName, rdef.ServiceFQN, rdef.MethodName)
				}
				if rdef.Batch {
					reg.batchResolvers[k] = md
				} else {
					reg.singleResolvers[k] = md
				}
				if len(field.ResolveByResolver.With) > 0 {
					reg.requestMap[k] = field.ResolveByResolver.With
				}
				if rdef.Pluck != "" {
					reg.plucks[k] = strings.Split(rdef.Pluck, ".")
				}
			}

			if field.ResolveByLoader != nil {
				ldef, ok := proj.Loaders[field.ResolveByLoader.LoaderID]
				if !ok {
					return nil, fmt.Errorf("protoreg: %s.%s: loader %q not declared", typeName, fieldName, field.ResolveByLoader.LoaderID)
				}
				md, ok := pool.FindMethod(ldef.ServiceFQN, ldef.MethodName)
				if !ok {
					return nil, fmt.Errorf("protoreg: %s.%s: method %s/%s not found in descriptor pool", typeName, fieldName, ldef.ServiceFQN, ldef.MethodName)
				}
				if ldef.Batch {
					reg.batchLoaders[k] = md
				} else {
					reg.singleLoaders[k] = md
				}
				if len(field.ResolveByLoader.With) > 0 {
					reg.requestMap[k] = field.ResolveByLoader.With
				}
			}
		}
	}

	return reg, nil
}
