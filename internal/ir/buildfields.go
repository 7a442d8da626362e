package ir

import (
	"strings"

	"github.com/relaygraph/protograph/internal/protoanno"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// buildRootField synthesizes a root Query/Mutation/Subscription field for a
// QUERY/MUTATION/SUBSCRIPTION-kind method, applying the argument and
// return shape rules, plus the ResolverDefinition that drives it at
// runtime. streaming marks server-streaming subscription resolution.
func (b *builder) buildRootField(svc protoreflect.ServiceDescriptor, md protoreflect.MethodDescriptor, ann *protoanno.MethodAnnotation, streaming bool) (*FieldDefinition, ResolverID) {
	name := ann.Name
	if name == "" {
		name = snakeToCamel(string(md.Name()))
	}

	args, methodArgs, uploadInArgs := b.buildArguments(md.Input(), ann.RequestWrap, 0)
	if !streaming && uploadInArgs && ann.Kind == protoanno.KindQuery {
		b.fail("method %s exposes an Upload argument but is kind QUERY; Upload is mutation-only", md.FullName())
	}

	returnType, pluckPath := b.buildReturnType(md.Output(), ann)

	resolverID := ResolverID(string(svc.FullName()) + "." + string(md.Name()))
	field := &FieldDefinition{
		Name:  name,
		Args:  args,
		Type:  returnType,
		Index: 0,
		ResolveByResolver: &FieldResolveByResolver{
			ResolverID: resolverID,
		},
	}

	resolver := &ResolverDefinition{
		ID:         resolverID,
		Parent:     "",
		Field:      name,
		Args:       methodArgs,
		ReturnType: returnType,
		ServiceFQN: string(svc.FullName()),
		MethodName: string(md.Name()),
		Streaming:  streaming,
		Pluck:      pluckPath,
	}
	b.project.Resolvers[resolverID] = resolver
	return field, resolverID
}

// buildChildResolverField implements RESOLVER-kind attachment: "add as a
// child field on the containing message's output object". The containing
// object is identified by convention: the request message's first field is
// the resolver's parent-source binding (a message-typed field naming the
// owning object); remaining fields become the field's own arguments.
func (b *builder) buildChildResolverField(svc protoreflect.ServiceDescriptor, md protoreflect.MethodDescriptor, ann *protoanno.MethodAnnotation) {
	reqFields := md.Input().Fields()
	if reqFields.Len() == 0 {
		b.fail("RESOLVER method %s must declare a parent-source field as its first request field", md.FullName())
		return
	}
	parentFd := reqFields.Get(0)
	if parentFd.Kind() != protoreflect.MessageKind {
		b.fail("RESOLVER method %s first request field must reference the parent message type", md.FullName())
		return
	}
	parentName := b.reg.ObjectNameFor(parentFd.Message())

	name := ann.Name
	if name == "" {
		name = snakeToCamel(string(md.Name()))
	}

	args, methodArgs, uploadInArgs := b.buildArguments(md.Input(), "", 1)
	if uploadInArgs {
		b.fail("RESOLVER method %s exposes an Upload argument; Upload is mutation-only", md.FullName())
	}

	returnType, pluckPath := b.buildReturnType(md.Output(), ann)

	resolverID := ResolverID(parentName + ":" + name)
	fieldDef := &FieldDefinition{
		Name:  name,
		Args:  args,
		Type:  returnType,
		ResolveByResolver: &FieldResolveByResolver{
			ResolverID: resolverID,
			// "$source" is a sentinel recognized by the resolver runtime:
			// instead of copying a named field off the parent value, it
			// assigns the whole parent source message into this request
			// field (parentFd.Name() is message-typed, matching the
			// parent's own descriptor).
			With: map[string]string{string(parentFd.Name()): "$source"},
		},
	}

	// Insert as a placeholder-safe field: the parent object definition may
	// not be populated yet (phase 1), so stash the field for phase 2 to
	// attach once fields are known to exist.
	b.reg.pendingChildFields = append(b.reg.pendingChildFields, pendingChildField{
		parentName: parentName,
		field:      fieldDef,
	})

	resolver := &ResolverDefinition{
		ID:         resolverID,
		Parent:     parentName,
		Field:      name,
		Args:       methodArgs,
		ReturnType: returnType,
		ServiceFQN: string(svc.FullName()),
		MethodName: string(md.Name()),
		Pluck:      pluckPath,
	}
	b.project.Resolvers[resolverID] = resolver
}

// buildArguments computes the argument shape for a request message: a
// single bare scalar argument, a single wrapped input-object argument, or
// one argument per request field. skip excludes a leading count of fields
// (the RESOLVER parent-source field).
func (b *builder) buildArguments(reqMsg protoreflect.MessageDescriptor, wrap string, skip int) (map[string]*ArgumentDefinition, map[string]*MethodArg, bool) {
	fields := reqMsg.Fields()
	remaining := fields.Len() - skip

	args := map[string]*ArgumentDefinition{}
	methodArgs := map[string]*MethodArg{}
	hasUpload := false

	if wrap != "" {
		inputName := b.reg.InputNameFor(reqMsg)
		args[wrap] = &ArgumentDefinition{Name: wrap, Index: 0, Type: &TypeExpr{Kind: TypeExprKindNonNull, OfType: &TypeExpr{Kind: TypeExprKindNamed, Named: inputName}}}
		methodArgs[wrap] = &MethodArg{Name: wrap, Index: 0, Wrapped: true, Type: args[wrap].Type}
		return args, methodArgs, b.inputHasUpload(reqMsg)
	}

	if remaining == 1 {
		fd := fields.Get(skip)
		ann, _ := protoanno.ReadFieldAnnotation(fd)
		if ann == nil || !ann.Omit {
			gname := fieldGraphQLName(fd, ann)
			typeExpr, err := b.reg.fieldType(fd, true)
			if err == nil {
				if ann != nil && ann.Required {
					typeExpr = &TypeExpr{Kind: TypeExprKindNonNull, OfType: typeExpr}
				}
				args[gname] = &ArgumentDefinition{Name: gname, Index: 0, Type: typeExpr, ProtoField: string(fd.Name())}
				methodArgs[gname] = &MethodArg{Name: gname, Index: 0, Type: typeExpr, ProtoField: string(fd.Name())}
				hasUpload = fd.Kind() == protoreflect.BytesKind
			}
		}
		return args, methodArgs, hasUpload
	}

	for i := skip; i < fields.Len(); i++ {
		fd := fields.Get(i)
		ann, _ := protoanno.ReadFieldAnnotation(fd)
		if ann != nil && ann.Omit {
			continue
		}
		gname := fieldGraphQLName(fd, ann)
		typeExpr, err := b.reg.fieldType(fd, true)
		if err != nil {
			b.fail("%s", err.Error())
			continue
		}
		if ann != nil && ann.Required {
			typeExpr = &TypeExpr{Kind: TypeExprKindNonNull, OfType: typeExpr}
		}
		idx := i - skip
		args[gname] = &ArgumentDefinition{Name: gname, Index: idx, Type: typeExpr, ProtoField: string(fd.Name())}
		methodArgs[gname] = &MethodArg{Name: gname, Index: idx, Type: typeExpr, ProtoField: string(fd.Name())}
		if fd.Kind() == protoreflect.BytesKind {
			hasUpload = true
		}
	}
	return args, methodArgs, hasUpload
}

func (b *builder) inputHasUpload(md protoreflect.MessageDescriptor) bool {
	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		if fields.Get(i).Kind() == protoreflect.BytesKind {
			return true
		}
	}
	return false
}

// buildReturnType applies the reply/pluck rule: the reply's output object,
// optionally projected through a dot-separated pluck path, optionally
// wrapped non-null.
func (b *builder) buildReturnType(replyMsg protoreflect.MessageDescriptor, ann *protoanno.MethodAnnotation) (*TypeExpr, string) {
	if ann.ResponsePluck == "" {
		// fieldType expects a FieldDescriptor; for the top-level reply we
		// register the message directly instead.
		name := b.reg.ObjectNameFor(replyMsg)
		t := &TypeExpr{Kind: TypeExprKindNamed, Named: name}
		if ann.ResponseRequired {
			t = &TypeExpr{Kind: TypeExprKindNonNull, OfType: t}
		}
		return t, ""
	}

	segments := strings.Split(ann.ResponsePluck, ".")
	cur := replyMsg
	var lastField protoreflect.FieldDescriptor
	for i, seg := range segments {
		fd := cur.Fields().ByName(protoreflect.Name(seg))
		if fd == nil {
			b.fail("response.pluck %q: segment %q not found on %s", ann.ResponsePluck, seg, cur.FullName())
			name := b.reg.ObjectNameFor(replyMsg)
			return &TypeExpr{Kind: TypeExprKindNamed, Named: name}, ""
		}
		lastField = fd
		if i < len(segments)-1 {
			if fd.Kind() != protoreflect.MessageKind {
				b.fail("response.pluck %q: segment %q is not a message field", ann.ResponsePluck, seg)
				break
			}
			cur = fd.Message()
		}
	}
	t, err := b.reg.fieldType(lastField, false)
	if err != nil {
		b.fail("%s", err.Error())
	}
	pAnn, _ := protoanno.ReadFieldAnnotation(lastField)
	if (pAnn != nil && pAnn.Required) || ann.ResponseRequired {
		if t.Kind != TypeExprKindNonNull {
			t = &TypeExpr{Kind: TypeExprKindNonNull, OfType: t}
		}
	}
	return t, ann.ResponsePluck
}
