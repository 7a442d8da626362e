package ir

import (
	"strings"

	"github.com/relaygraph/protograph/internal/protoanno"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// populateAll drains the pending queues (phase 2 of the two-phase build),
// looping until no new placeholders were inserted by populating the ones
// already queued -- field population of one message can reach a message
// not yet visited, adding it back to pending.
func (r *typeRegistry) populateAll(msgByName func(protoreflect.FullName) protoreflect.MessageDescriptor, enumByName func(protoreflect.FullName) protoreflect.EnumDescriptor) {
	for len(r.pendingObjects) > 0 || len(r.pendingInputs) > 0 || len(r.pendingEnums) > 0 {
		for fqn := range r.pendingObjects {
			delete(r.pendingObjects, fqn)
			md := msgByName(fqn)
			if md == nil {
				continue
			}
			r.populateObject(md)
		}
		for fqn := range r.pendingInputs {
			delete(r.pendingInputs, fqn)
			md := msgByName(fqn)
			if md == nil {
				continue
			}
			r.populateInput(md)
		}
		for fqn := range r.pendingEnums {
			delete(r.pendingEnums, fqn)
			ed := enumByName(fqn)
			if ed == nil {
				continue
			}
			r.populateEnum(ed)
		}
	}
}

func directiveUsesForField(ann *protoanno.FieldAnnotation) []*DirectiveUse {
	if ann == nil {
		return nil
	}
	var uses []*DirectiveUse
	if ann.External {
		uses = append(uses, &DirectiveUse{Name: "external"})
	}
	if ann.Requires != "" {
		uses = append(uses, &DirectiveUse{Name: "requires", Args: map[string]any{"fields": ann.Requires}})
	}
	if ann.Provides != "" {
		uses = append(uses, &DirectiveUse{Name: "provides", Args: map[string]any{"fields": ann.Provides}})
	}
	if ann.Shareable {
		uses = append(uses, &DirectiveUse{Name: "shareable"})
	}
	return uses
}

func (r *typeRegistry) populateObject(md protoreflect.MessageDescriptor) {
	name := r.objectNames[md.FullName()]
	def := r.definitions[name].Object

	entityAnn, hasEntity := protoanno.ReadEntityAnnotation(md)
	if hasEntity {
		def.Entity = &EntityDefinition{
			KeyFields:  entityAnn.Keys,
			Extends:    entityAnn.Extends,
			Resolvable: entityAnn.Resolvable,
		}
		def.IDFields = firstKeySet(entityAnn.Keys)
	}

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		ann, _ := protoanno.ReadFieldAnnotation(fd)
		if ann != nil && ann.Omit {
			continue
		}
		gname := fieldGraphQLName(fd, ann)
		typeExpr, err := r.fieldType(fd, false)
		if err != nil {
			r.addViolation(err.Error(), string(fd.FullName()))
			continue
		}
		if ann != nil && ann.Required {
			typeExpr = &TypeExpr{Kind: TypeExprKindNonNull, OfType: typeExpr}
		}
		fdef := &FieldDefinition{
			Name:            gname,
			Index:           i,
			Args:            map[string]*ArgumentDefinition{},
			Type:            typeExpr,
			ResolveBySource: &FieldResolveBySource{SourceField: string(fd.Name())},
			Directives:      directiveUsesForField(ann),
		}
		def.Fields[gname] = fdef
	}
}

func (r *typeRegistry) populateInput(md protoreflect.MessageDescriptor) {
	name := r.inputNames[md.FullName()]
	def := r.definitions[name].Input

	fields := md.Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		ann, _ := protoanno.ReadFieldAnnotation(fd)
		if ann != nil && ann.Omit {
			continue
		}
		gname := fieldGraphQLName(fd, ann)
		typeExpr, err := r.fieldType(fd, true)
		if err != nil {
			r.addViolation(err.Error(), string(fd.FullName()))
			continue
		}
		if ann != nil && ann.Required {
			typeExpr = &TypeExpr{Kind: TypeExprKindNonNull, OfType: typeExpr}
		}
		def.InputValues[gname] = &InputValueDefinition{
			Name:       gname,
			Index:      i,
			Type:       typeExpr,
			ProtoField: string(fd.Name()),
		}
	}
}

func (r *typeRegistry) populateEnum(ed protoreflect.EnumDescriptor) {
	name := r.enumNames[ed.FullName()]
	def := r.definitions[name].Enum

	values := ed.Values()
	for i := 0; i < values.Len(); i++ {
		v := values.Get(i)
		def.Values[string(v.Name())] = &EnumValueDefinition{
			Name:  string(v.Name()),
			Index: i,
		}
	}
}

func fieldGraphQLName(fd protoreflect.FieldDescriptor, ann *protoanno.FieldAnnotation) string {
	if ann != nil && ann.Rename != "" {
		return ann.Rename
	}
	return snakeToCamel(string(fd.Name()))
}

// firstKeySet takes the first (possibly space-separated composite) key
// token set from an entity's keys list and splits it into field names, used
// to seed ObjectDefinition.IDFields for loader/default-key heuristics.
func firstKeySet(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	return strings.Fields(keys[0])
}
