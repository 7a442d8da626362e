package schema

// Programmatic construction helpers, used by tests and by tooling that
// assembles a Schema without going through BuildFromIR/BuildFromSDL.

// NewSchema returns an empty schema pre-populated with the built-in scalar
// types and the @include/@skip directives.
func NewSchema(description string) *Schema {
	s := &Schema{
		Description: description,
		Types:       map[string]*Type{},
		Directives:  map[string]*Directive{},
	}
	s.Types[stringType.Name] = stringType
	s.Types[intType.Name] = intType
	s.Types[floatType.Name] = floatType
	s.Types[booleanType.Name] = booleanType
	s.Types[idType.Name] = idType
	s.Directives[includeDirective.Name] = includeDirective
	s.Directives[skipDirective.Name] = skipDirective
	return s
}

func (s *Schema) SetQueryType(name string)        { s.QueryType = name }
func (s *Schema) SetMutationType(name string)     { s.MutationType = name }
func (s *Schema) SetSubscriptionType(name string) { s.SubscriptionType = name }

// AddType registers t under its name, replacing any previous entry.
func (s *Schema) AddType(t *Type) { s.Types[t.Name] = t }

// NewType returns a named type of the given kind with no members.
func NewType(name string, kind TypeKind, description string) *Type {
	return &Type{Name: name, Kind: kind, Description: description}
}

// AddField appends a field to an object or interface type.
func (t *Type) AddField(f *Field) { t.Fields = append(t.Fields, f) }

// AddInputField appends an input value to an input object type.
func (t *Type) AddInputField(v *InputValue) { t.InputFields = append(t.InputFields, v) }

// NewInputValue returns an input value (argument or input object field).
func NewInputValue(name, description string, typ *TypeRef) *InputValue {
	return &InputValue{Name: name, Description: description, Type: typ}
}

// NewFieldMap collects fields into the slice shape Type.Fields expects.
func NewFieldMap(fields ...*Field) []*Field { return fields }
