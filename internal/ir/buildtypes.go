package ir

import (
	"fmt"
	"strings"

	"github.com/relaygraph/protograph/internal/protoanno"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// scalarMapping is the proto -> GraphQL scalar table.
// Both variants are named identically except for bytes, which splits into
// String (base64, output) and Upload (input).
type scalarMapping struct {
	output string
	input  string
}

func scalarFor(kind protoreflect.Kind) (scalarMapping, bool) {
	switch kind {
	case protoreflect.StringKind:
		return scalarMapping{"String", "String"}, true
	case protoreflect.BoolKind:
		return scalarMapping{"Boolean", "Boolean"}, true
	case protoreflect.Int32Kind, protoreflect.Uint32Kind, protoreflect.Sint32Kind,
		protoreflect.Fixed32Kind, protoreflect.Sfixed32Kind:
		return scalarMapping{"Int", "Int"}, true
	case protoreflect.Int64Kind, protoreflect.Uint64Kind, protoreflect.Sint64Kind,
		protoreflect.Fixed64Kind, protoreflect.Sfixed64Kind:
		return scalarMapping{"String", "String"}, true
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return scalarMapping{"Float", "Float"}, true
	case protoreflect.BytesKind:
		return scalarMapping{"String", "Upload"}, true
	default:
		return scalarMapping{}, false
	}
}

// typeRegistry implements the two-phase Type Mapper: phase 1 inserts name
// placeholders for every reachable message/enum so that cyclic references
// resolve, phase 2 populates their field lists. A message visited in both
// request and reply position gets both an object (output) and input
// definition, sharing no GraphQL name (input gets a "_Input" suffix).
type typeRegistry struct {
	objectNames map[protoreflect.FullName]string
	inputNames  map[protoreflect.FullName]string
	enumNames   map[protoreflect.FullName]string

	usedNames map[string]protoreflect.FullName // output/enum namespace
	usedInput map[string]protoreflect.FullName // input namespace (separate: "Foo" vs "Foo_Input" never collide)

	definitions map[string]*Definition

	pendingObjects map[protoreflect.FullName]bool
	pendingInputs  map[protoreflect.FullName]bool
	pendingEnums   map[protoreflect.FullName]bool

	// pendingChildFields holds RESOLVER-kind fields awaiting attachment to
	// their parent object once that object's own proto-derived fields have
	// been populated (phase 2), so Index assignment doesn't collide.
	pendingChildFields []pendingChildField

	violations *[]*Violation
}

type pendingChildField struct {
	parentName string
	field      *FieldDefinition
}

func newTypeRegistry(v *[]*Violation) *typeRegistry {
	return &typeRegistry{
		objectNames:    map[protoreflect.FullName]string{},
		inputNames:     map[protoreflect.FullName]string{},
		enumNames:      map[protoreflect.FullName]string{},
		usedNames:      map[string]protoreflect.FullName{},
		usedInput:      map[string]protoreflect.FullName{},
		definitions:    map[string]*Definition{},
		pendingObjects: map[protoreflect.FullName]bool{},
		pendingInputs:  map[protoreflect.FullName]bool{},
		pendingEnums:   map[protoreflect.FullName]bool{},
		violations:     v,
	}
}

func (r *typeRegistry) addViolation(msg string, path string) {
	*r.violations = append(*r.violations, violationAt("", path, msg))
}

// uniqueName returns a stable GraphQL name for fqn within the given
// namespace map, disambiguating short-name collisions between messages from
// different proto packages by qualifying with the package path.
func uniqueName(used map[string]protoreflect.FullName, base string, fqn protoreflect.FullName) string {
	if owner, ok := used[base]; ok {
		if owner == fqn {
			return base
		}
		// Collision between two distinct messages sharing a short name:
		// qualify with the proto package to disambiguate deterministically.
		// Dots are invalid in GraphQL names, so each package segment is
		// title-cased and concatenated ("myapp.v1" -> "MyappV1").
		var q strings.Builder
		for _, seg := range strings.Split(string(fqn.Parent()), ".") {
			q.WriteString(upperFirst(seg))
		}
		qualified := q.String() + base
		used[qualified] = fqn
		return qualified
	}
	used[base] = fqn
	return base
}

// ObjectNameFor registers (if needed) and returns the output object type
// name for a message, inserting a placeholder Definition on first visit.
func (r *typeRegistry) ObjectNameFor(md protoreflect.MessageDescriptor) string {
	fqn := md.FullName()
	if name, ok := r.objectNames[fqn]; ok {
		return name
	}
	name := uniqueName(r.usedNames, shortName(string(fqn)), fqn)
	r.objectNames[fqn] = name
	r.pendingObjects[fqn] = true
	r.definitions[name] = &Definition{Object: &ObjectDefinition{
		Name:          name,
		Fields:        map[string]*FieldDefinition{},
		SourceMessage: string(fqn),
	}}
	return name
}

// InputNameFor registers (if needed) and returns the input object type name
// for a message.
func (r *typeRegistry) InputNameFor(md protoreflect.MessageDescriptor) string {
	fqn := md.FullName()
	if name, ok := r.inputNames[fqn]; ok {
		return name
	}
	base := shortName(string(fqn)) + "_Input"
	name := uniqueName(r.usedInput, base, fqn)
	r.inputNames[fqn] = name
	r.pendingInputs[fqn] = true
	r.definitions[name] = &Definition{Input: &InputDefinition{
		Name:          name,
		InputValues:   map[string]*InputValueDefinition{},
		SourceMessage: string(fqn),
	}}
	return name
}

// EnumNameFor registers (if needed) and returns the GraphQL enum name for a
// proto enum, shared identically between input and output position.
func (r *typeRegistry) EnumNameFor(ed protoreflect.EnumDescriptor) string {
	fqn := ed.FullName()
	if name, ok := r.enumNames[fqn]; ok {
		return name
	}
	name := uniqueName(r.usedNames, shortName(string(fqn)), fqn)
	r.enumNames[fqn] = name
	r.pendingEnums[fqn] = true
	r.definitions[name] = &Definition{Enum: &EnumDefinition{
		Name:   name,
		Values: map[string]*EnumValueDefinition{},
	}}
	return name
}

// fieldType computes the output TypeExpr for a message field, recursively
// registering referenced message/enum types as placeholders (phase 1 of the
// two-phase build; population happens later in populateAll).
func (r *typeRegistry) fieldType(fd protoreflect.FieldDescriptor, input bool) (*TypeExpr, error) {
	var named *TypeExpr

	switch {
	case fd.IsMap():
		// map<K,V> becomes a list of {key,value} objects/input objects.
		entry := fd.Message()
		keyFd := entry.Fields().ByNumber(1)
		valFd := entry.Fields().ByNumber(2)
		mapName := shortName(string(fd.FullName())) + "Entry"
		if input {
			mapName += "_Input"
		}
		keyType, err := r.fieldType(keyFd, input)
		if err != nil {
			return nil, err
		}
		valType, err := r.fieldType(valFd, input)
		if err != nil {
			return nil, err
		}
		if _, ok := r.definitions[mapName]; !ok {
			if input {
				r.definitions[mapName] = &Definition{Input: &InputDefinition{
					Name: mapName,
					InputValues: map[string]*InputValueDefinition{
						"key":   {Name: "key", Index: 0, Type: &TypeExpr{Kind: TypeExprKindNonNull, OfType: keyType}},
						"value": {Name: "value", Index: 1, Type: valType},
					},
				}}
			} else {
				r.definitions[mapName] = &Definition{Object: &ObjectDefinition{
					Name: mapName,
					Fields: map[string]*FieldDefinition{
						"key":   {Name: "key", Index: 0, Type: &TypeExpr{Kind: TypeExprKindNonNull, OfType: keyType}},
						"value": {Name: "value", Index: 1, Type: valType},
					},
				}}
			}
		}
		return &TypeExpr{Kind: TypeExprKindList, OfType: &TypeExpr{Kind: TypeExprKindNamed, Named: mapName}}, nil

	case fd.Kind() == protoreflect.MessageKind || fd.Kind() == protoreflect.GroupKind:
		md := fd.Message()
		var name string
		if input {
			name = r.InputNameFor(md)
		} else {
			name = r.ObjectNameFor(md)
		}
		named = &TypeExpr{Kind: TypeExprKindNamed, Named: name}

	case fd.Kind() == protoreflect.EnumKind:
		name := r.EnumNameFor(fd.Enum())
		named = &TypeExpr{Kind: TypeExprKindNamed, Named: name}

	default:
		m, ok := scalarFor(fd.Kind())
		if !ok {
			return nil, fmt.Errorf("unsupported proto kind %v on field %s", fd.Kind(), fd.FullName())
		}
		n := m.output
		if input {
			n = m.input
		}
		named = &TypeExpr{Kind: TypeExprKindNamed, Named: n}
	}

	if fd.IsList() {
		elem := named
		if fieldRequired(fd) {
			elem = &TypeExpr{Kind: TypeExprKindNonNull, OfType: named}
		}
		return &TypeExpr{Kind: TypeExprKindList, OfType: elem}, nil
	}
	return named, nil
}

// fieldRequired reports whether a field's annotation marks it required
// (non-null); without the annotation a field stays nullable, matching
// proto3's lack of field presence.
func fieldRequired(fd protoreflect.FieldDescriptor) bool {
	ann, ok := protoanno.ReadFieldAnnotation(fd)
	return ok && ann.Required
}
