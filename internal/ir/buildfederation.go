package ir

// installFederation emits @key/@extends directives on every entity object,
// the _Any scalar and _Entity union, and the _entities(representations)
// root Query field. The _entities field
// has no backing ServiceFQN/MethodName: the resolver runtime recognizes its
// name and delegates to the federation EntityLoader instead of the generic
// gRPC dispatch path.
func (b *builder) installFederation(queryFields map[string]*FieldDefinition) {
	var possibleTypes []string

	for name, def := range b.project.Definitions {
		if def.Object == nil || def.Object.Entity == nil {
			continue
		}
		ent := def.Object.Entity
		for _, keySet := range ent.KeyFields {
			def.Object.Directives = append(def.Object.Directives, &DirectiveUse{
				Name: "key",
				Args: map[string]any{"fields": keySet, "resolvable": ent.Resolvable},
			})
		}
		if ent.Extends {
			def.Object.Directives = append(def.Object.Directives, &DirectiveUse{Name: "extends"})
		}
		if ent.Resolvable {
			possibleTypes = append(possibleTypes, name)
		}
	}

	b.project.Definitions["_Any"] = &Definition{Scalar: AnyType}

	unionTypes := map[string]*UnionTypeDefinition{}
	for i, name := range possibleTypes {
		unionTypes[name] = &UnionTypeDefinition{Name: name, Index: i}
	}
	b.project.Definitions["_Entity"] = &Definition{Union: &UnionDefinition{Name: "_Entity", Types: unionTypes}}

	queryFields["_entities"] = &FieldDefinition{
		Name: "_entities",
		Args: map[string]*ArgumentDefinition{
			"representations": {
				Name:  "representations",
				Index: 0,
				Type: &TypeExpr{Kind: TypeExprKindNonNull, OfType: &TypeExpr{
					Kind: TypeExprKindList,
					OfType: &TypeExpr{Kind: TypeExprKindNonNull, OfType: &TypeExpr{Kind: TypeExprKindNamed, Named: "_Any"}},
				}},
			},
		},
		Type: &TypeExpr{Kind: TypeExprKindNonNull, OfType: &TypeExpr{
			Kind: TypeExprKindList,
			OfType: &TypeExpr{Kind: TypeExprKindNamed, Named: "_Entity"},
		}},
		ResolveByResolver: &FieldResolveByResolver{ResolverID: "_entities"},
	}
}
