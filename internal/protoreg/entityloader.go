package protoreg

import (
	"context"
	"fmt"

	descpool "github.com/relaygraph/protograph/internal/descpool"
	grpcrt "github.com/relaygraph/protograph/internal/grpcrt"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// EntityMapping configures how a federation entity type's representations
// are batch-resolved against a real backend method. The backing method must accept
// a request with exactly one repeated field (the batch of keys) and return
// a response with exactly one repeated message field (the resolved
// entities); KeyField names the field, on both the key element and the
// result element, used to realign results back onto their representation
// (the backend is free to reorder or drop entries it can't resolve).
type EntityMapping struct {
	ServiceFQN string
	MethodName string
	KeyField   string
}

type entityMethod struct {
	md       protoreflect.MethodDescriptor
	keyField string
}

type entityLoader struct {
	reg       *Registry
	transport grpcrt.Transport
	methods   map[string]entityMethod
}

// NewEntityLoader builds a grpcrt.EntityLoader that dispatches each
// representation group (by __typename) to its configured backend mapping,
// batching every representation sharing a type into a single RPC. Types
// absent from mappings fall back to the identity strategy (the
// representation's own fields interpreted directly as the entity's source
// message), matching grpcrt.NewRuntime's default when no loader is given.
func NewEntityLoader(pool *descpool.Pool, reg *Registry, transport grpcrt.Transport, mappings map[string]EntityMapping) (grpcrt.EntityLoader, error) {
	methods := make(map[string]entityMethod, len(mappings))
	for typename, m := range mappings {
		md, ok := pool.FindMethod(m.ServiceFQN, m.MethodName)
		if !ok {
			return nil, fmt.Errorf("protoreg: entity mapping for %s: method %s/%s not found", typename, m.ServiceFQN, m.MethodName)
		}
		methods[typename] = entityMethod{md: md, keyField: m.KeyField}
	}
	return &entityLoader{reg: reg, transport: transport, methods: methods}, nil
}

func (l *entityLoader) LoadEntities(ctx context.Context, representations []map[string]any) ([]any, error) {
	out := make([]any, len(representations))
	groups := map[string][]int{}
	for i, rep := range representations {
		typename, _ := rep["__typename"].(string)
		groups[typename] = append(groups[typename], i)
	}
	for typename, idxs := range groups {
		em, configured := l.methods[typename]
		if !configured {
			l.resolveIdentity(typename, representations, idxs, out)
			continue
		}
		if err := l.resolveBatch(ctx, em, representations, idxs, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l *entityLoader) resolveIdentity(typename string, representations []map[string]any, idxs []int, out []any) {
	md := l.reg.sourceMessages[typename]
	for _, i := range idxs {
		if md == nil {
			out[i] = nil
			continue
		}
		msg := dynamicpb.NewMessage(md)
		for k, v := range representations[i] {
			if k == "__typename" {
				continue
			}
			fd := md.Fields().ByName(protoreflect.Name(k))
			if fd == nil {
				continue
			}
			if pv, err := scalarValue(fd, v); err == nil {
				msg.Set(fd, pv)
			}
		}
		out[i] = msg
	}
}

func (l *entityLoader) resolveBatch(ctx context.Context, em entityMethod, representations []map[string]any, idxs []int, out []any) error {
	imd := em.md.Input()
	reqFields := imd.Fields()
	if reqFields.Len() != 1 || !reqFields.Get(0).IsList() {
		return fmt.Errorf("protoreg: entity method %s must declare exactly one repeated request field", em.md.FullName())
	}
	keyField := reqFields.Get(0)

	req := dynamicpb.NewMessage(imd)
	list := req.Mutable(keyField).List()
	for _, i := range idxs {
		v, ok := representations[i][em.keyField]
		if !ok {
			continue
		}
		pv, err := scalarValue(keyField, v)
		if err != nil {
			return fmt.Errorf("protoreg: entity key %q: %w", em.keyField, err)
		}
		list.Append(pv)
	}
	req.Set(keyField, protoreflect.ValueOfList(list))

	resp, err := l.transport.Call(ctx, em.md, req)
	if err != nil {
		for _, i := range idxs {
			out[i] = nil
		}
		return nil
	}

	omd := em.md.Output()
	respFields := omd.Fields()
	if respFields.Len() != 1 || !respFields.Get(0).IsList() || respFields.Get(0).Kind() != protoreflect.MessageKind {
		return fmt.Errorf("protoreg: entity method %s must declare exactly one repeated message response field", em.md.FullName())
	}
	resultField := respFields.Get(0)
	resultList := resp.Get(resultField).List()
	resultDesc := resultField.Message()
	resultKeyFd := resultDesc.Fields().ByName(protoreflect.Name(em.keyField))

	byKey := map[any]protoreflect.Message{}
	for i := 0; i < resultList.Len(); i++ {
		item := resultList.Get(i).Message()
		if resultKeyFd == nil {
			continue
		}
		byKey[scalarGoValue(item.Get(resultKeyFd))] = item
	}

	for _, i := range idxs {
		v, ok := representations[i][em.keyField]
		if !ok {
			out[i] = nil
			continue
		}
		if msg, found := byKey[normalizeKey(v)]; found {
			out[i] = msg
		} else {
			out[i] = nil
		}
	}
	return nil
}

// normalizeKey coerces a representation's raw key value (as decoded from
// JSON) into the same comparable form scalarGoValue produces for a matching
// proto field value, so map lookups succeed regardless of numeric type.
func normalizeKey(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return v
	}
}

func scalarGoValue(v protoreflect.Value) any {
	switch x := v.Interface().(type) {
	case int32:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	default:
		return x
	}
}

func scalarValue(fd protoreflect.FieldDescriptor, v any) (protoreflect.Value, error) {
	switch fd.Kind() {
	case protoreflect.StringKind:
		s, ok := v.(string)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("expected string, got %T", v)
		}
		return protoreflect.ValueOfString(s), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		n, err := toInt64(v)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt32(int32(n)), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		n, err := toInt64(v)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfInt64(n), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		n, err := toInt64(v)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfUint32(uint32(n)), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		n, err := toInt64(v)
		if err != nil {
			return protoreflect.Value{}, err
		}
		return protoreflect.ValueOfUint64(uint64(n)), nil
	case protoreflect.BoolKind:
		b, ok := v.(bool)
		if !ok {
			return protoreflect.Value{}, fmt.Errorf("expected bool, got %T", v)
		}
		return protoreflect.ValueOfBool(b), nil
	default:
		return protoreflect.Value{}, fmt.Errorf("unsupported entity key kind %v", fd.Kind())
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		var out int64
		if _, err := fmt.Sscanf(n, "%d", &out); err != nil {
			return 0, fmt.Errorf("cannot parse %q as integer", n)
		}
		return out, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
