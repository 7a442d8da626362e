package protoanno

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

func annotatedFile(t *testing.T) *descriptorpb.FileDescriptorProto {
	t.Helper()

	methodDesc := OptionsDescriptor("GraphQLMethodOptions")
	require.NotNil(t, methodDesc)
	mo := dynamicpb.NewMessage(methodDesc)
	mo.Set(methodDesc.Fields().ByName("kind"), protoreflect.ValueOfEnum(protoreflect.EnumNumber(KindQuery)))
	mo.Set(methodDesc.Fields().ByName("name"), protoreflect.ValueOfString("hello"))
	respDesc := methodDesc.Messages().ByName("Response")
	resp := dynamicpb.NewMessage(respDesc)
	resp.Set(respDesc.Fields().ByName("pluck"), protoreflect.ValueOfString("users.id"))
	resp.Set(respDesc.Fields().ByName("required"), protoreflect.ValueOfBool(true))
	mo.Set(methodDesc.Fields().ByName("response"), protoreflect.ValueOfMessage(resp))
	methodOptions := &descriptorpb.MethodOptions{}
	proto.SetExtension(methodOptions, ExtSchema, mo)

	svcDesc := OptionsDescriptor("GraphQLServiceOptions")
	so := dynamicpb.NewMessage(svcDesc)
	so.Set(svcDesc.Fields().ByName("backend_host"), protoreflect.ValueOfString("localhost:50051"))
	so.Set(svcDesc.Fields().ByName("insecure"), protoreflect.ValueOfBool(true))
	serviceOptions := &descriptorpb.ServiceOptions{}
	proto.SetExtension(serviceOptions, ExtService, so)

	entityDesc := OptionsDescriptor("GraphQLMessageOptions")
	eo := dynamicpb.NewMessage(entityDesc)
	keys := eo.Mutable(entityDesc.Fields().ByName("keys")).List()
	keys.Append(protoreflect.ValueOfString("id"))
	keys.Append(protoreflect.ValueOfString("tenant id"))
	eo.Set(entityDesc.Fields().ByName("keys"), protoreflect.ValueOfList(keys))
	eo.Set(entityDesc.Fields().ByName("resolvable"), protoreflect.ValueOfBool(true))
	messageOptions := &descriptorpb.MessageOptions{}
	proto.SetExtension(messageOptions, ExtEntity, eo)

	fieldDescOpts := OptionsDescriptor("GraphQLFieldOptions")
	fo := dynamicpb.NewMessage(fieldDescOpts)
	fo.Set(fieldDescOpts.Fields().ByName("required"), protoreflect.ValueOfBool(true))
	fo.Set(fieldDescOpts.Fields().ByName("rename"), protoreflect.ValueOfString("owner"))
	fo.Set(fieldDescOpts.Fields().ByName("shareable"), protoreflect.ValueOfBool(true))
	fieldOptions := &descriptorpb.FieldOptions{}
	proto.SetExtension(fieldOptions, ExtField, fo)

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("annotated.proto"),
		Package: proto.String("demo"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name:    proto.String("User"),
				Options: messageOptions,
				Field: []*descriptorpb.FieldDescriptorProto{{
					Name:     proto.String("user_id"),
					JsonName: proto.String("userId"),
					Number:   proto.Int32(1),
					Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
					Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					Options:  fieldOptions,
				}},
			},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:    proto.String("UserService"),
			Options: serviceOptions,
			Method: []*descriptorpb.MethodDescriptorProto{{
				Name:       proto.String("GetUser"),
				InputType:  proto.String(".demo.User"),
				OutputType: proto.String(".demo.User"),
				Options:    methodOptions,
			}},
		}},
		Syntax: proto.String("proto3"),
	}
}

func loadFile(t *testing.T, fdp *descriptorpb.FileDescriptorProto) protoreflect.FileDescriptor {
	t.Helper()
	files, err := protodesc.NewFiles(&descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fdp}})
	require.NoError(t, err)
	fd, err := files.FindFileByPath("annotated.proto")
	require.NoError(t, err)
	return fd
}

func assertAnnotations(t *testing.T, fd protoreflect.FileDescriptor) {
	t.Helper()
	svc := fd.Services().ByName("UserService")

	sa, ok := ReadServiceAnnotation(svc)
	require.True(t, ok)
	require.Equal(t, "localhost:50051", sa.BackendHost)
	require.True(t, sa.Insecure)

	ma, ok := ReadMethodAnnotation(svc.Methods().ByName("GetUser"))
	require.True(t, ok)
	require.Equal(t, KindQuery, ma.Kind)
	require.Equal(t, "hello", ma.Name)
	require.Equal(t, "users.id", ma.ResponsePluck)
	require.True(t, ma.ResponseRequired)

	user := fd.Messages().ByName("User")
	ea, ok := ReadEntityAnnotation(user)
	require.True(t, ok)
	require.Equal(t, []string{"id", "tenant id"}, ea.Keys)
	require.True(t, ea.Resolvable)
	require.False(t, ea.Extends)

	fa, ok := ReadFieldAnnotation(user.Fields().ByName("user_id"))
	require.True(t, ok)
	require.True(t, fa.Required)
	require.Equal(t, "owner", fa.Rename)
	require.True(t, fa.Shareable)
	require.False(t, fa.Omit)
}

func TestReadAnnotationsFromInProcessDescriptors(t *testing.T) {
	assertAnnotations(t, loadFile(t, annotatedFile(t)))
}

// The wire path: a descriptor set serialized by protoc carries the graphql.*
// options as unknown fields (the decoder has no generated types for them).
// Reading must still surface them.
func TestReadAnnotationsSurviveWireRoundTrip(t *testing.T) {
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{annotatedFile(t)}}
	raw, err := proto.Marshal(set)
	require.NoError(t, err)

	decoded := &descriptorpb.FileDescriptorSet{}
	require.NoError(t, proto.Unmarshal(raw, decoded))

	assertAnnotations(t, loadFile(t, decoded.File[0]))
}

func TestAbsentAnnotationsReportNotPresent(t *testing.T) {
	fdp := annotatedFile(t)
	fdp.Service[0].Options = nil
	fdp.Service[0].Method[0].Options = nil
	fdp.MessageType[0].Options = nil
	fdp.MessageType[0].Field[0].Options = nil
	fd := loadFile(t, fdp)

	svc := fd.Services().ByName("UserService")
	_, ok := ReadServiceAnnotation(svc)
	require.False(t, ok)
	_, ok = ReadMethodAnnotation(svc.Methods().ByName("GetUser"))
	require.False(t, ok)
	user := fd.Messages().ByName("User")
	_, ok = ReadEntityAnnotation(user)
	require.False(t, ok)
	_, ok = ReadFieldAnnotation(user.Fields().ByName("user_id"))
	require.False(t, ok)
}
