package schema

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/relaygraph/protograph/internal/ir"
	"github.com/stretchr/testify/require"
)

const testSDL = `
type Query {
  user(id: String!): User
  users: [User!]
}

type Mutation {
  createUser(input: CreateUserInput!): User!
}

type Subscription {
  userChanged: User
}

type User {
  id: String!
  name: String
  tags: [String]
  role: Role
}

input CreateUserInput {
  name: String!
  role: Role = MEMBER
}

enum Role {
  ADMIN
  MEMBER
}
`

func TestBuildFromSDL(t *testing.T) {
	sch, err := BuildFromSDL(testSDL)
	require.NoError(t, err)

	require.Equal(t, "Query", sch.QueryType)
	require.Equal(t, "Mutation", sch.MutationType)
	require.Equal(t, "Subscription", sch.SubscriptionType)

	user := sch.Types["User"]
	require.NotNil(t, user)
	require.Equal(t, TypeKindObject, user.Kind)
	require.Len(t, user.Fields, 4)

	var id *Field
	for _, f := range user.Fields {
		if f.Name == "id" {
			id = f
		}
	}
	require.NotNil(t, id)
	require.True(t, id.Type.IsNonNull())
	require.Equal(t, "String", id.Type.GetNamedType())
	require.False(t, id.Async, "object fields resolve from source")

	for _, f := range sch.GetQueryType().Fields {
		require.True(t, f.Async, "root fields are resolver-backed")
	}

	input := sch.Types["CreateUserInput"]
	require.NotNil(t, input)
	require.Equal(t, TypeKindInputObject, input.Kind)
	require.Len(t, input.InputFields, 2)

	role := sch.Types["Role"]
	require.NotNil(t, role)
	require.Equal(t, TypeKindEnum, role.Kind)
	require.Len(t, role.EnumValues, 2)
}

func TestBuildFromSDLRejectsInvalid(t *testing.T) {
	_, err := BuildFromSDL(`type Query { broken: DoesNotExist }`)
	require.Error(t, err)
}

func TestRenderDeterministic(t *testing.T) {
	first, err := BuildFromSDL(testSDL)
	require.NoError(t, err)
	second, err := BuildFromSDL(testSDL)
	require.NoError(t, err)

	if diff := cmp.Diff(Render(first), Render(second)); diff != "" {
		t.Errorf("render not deterministic (-first +second):\n%s", diff)
	}
}

func TestRenderAppliedDirectives(t *testing.T) {
	sch := &Schema{
		QueryType: "Query",
		Types: map[string]*Type{
			"Query": {Name: "Query", Kind: TypeKindObject, Fields: []*Field{
				{Name: "user", Type: NamedType("User"), Async: true},
			}},
			"User": {
				Name: "User",
				Kind: TypeKindObject,
				Directives: []*AppliedDirective{
					{Name: "key", Args: []*AppliedDirectiveArg{
						{Name: "fields", Value: "id"},
						{Name: "resolvable", Value: true},
					}},
					{Name: "extends"},
				},
				Fields: []*Field{
					{Name: "id", Type: NonNullType(NamedType("String"))},
					{Name: "name", Type: NamedType("String"), Directives: []*AppliedDirective{{Name: "shareable"}}},
				},
			},
		},
		Directives: map[string]*Directive{},
	}

	sdl := Render(sch)
	require.Contains(t, sdl, `type User @key(fields: "id", resolvable: true) @extends {`)
	require.Contains(t, sdl, "  name: String @shareable\n")
}

func TestBuildFromIRCarriesDirectives(t *testing.T) {
	proj := &ir.Project{
		Schema: &ir.Schema{QueryType: "Query"},
		Definitions: map[string]*ir.Definition{
			"Query": {Object: &ir.ObjectDefinition{
				Name: "Query",
				Fields: map[string]*ir.FieldDefinition{
					"user": {Name: "user", Index: 0, Type: &ir.TypeExpr{Kind: ir.TypeExprKindNamed, Named: "User"},
						ResolveByResolver: &ir.FieldResolveByResolver{ResolverID: "svc.GetUser"}},
				},
			}},
			"User": {Object: &ir.ObjectDefinition{
				Name: "User",
				Directives: []*ir.DirectiveUse{
					{Name: "key", Args: map[string]any{"fields": "id", "resolvable": true}},
				},
				Fields: map[string]*ir.FieldDefinition{
					"id": {Name: "id", Index: 0, Type: &ir.TypeExpr{Kind: ir.TypeExprKindNamed, Named: "String"},
						ResolveBySource: &ir.FieldResolveBySource{SourceField: "id"},
						Directives:      []*ir.DirectiveUse{{Name: "external"}}},
				},
			}},
		},
		Directives: map[string]*ir.DirectiveDefinition{},
	}

	sch, err := BuildFromIR(proj)
	require.NoError(t, err)

	user := sch.Types["User"]
	require.NotNil(t, user)
	require.Len(t, user.Directives, 1)
	require.Equal(t, "key", user.Directives[0].Name)
	// Args sorted by name: fields before resolvable.
	require.Equal(t, "fields", user.Directives[0].Args[0].Name)
	require.Equal(t, "resolvable", user.Directives[0].Args[1].Name)

	sdl := Render(sch)
	require.True(t, strings.Contains(sdl, `@key(fields: "id", resolvable: true)`), sdl)
	require.Contains(t, sdl, "id: String @external")
}
