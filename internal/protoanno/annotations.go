// Package protoanno defines the graphql.proto extension options that
// annotate a FileDescriptorSet for the gateway (graphql.service,
// graphql.schema, graphql.entity, graphql.field) and reads them back off
// descriptors at load time.
//
// There is no protoc-generated Go package for graphql.proto: the file
// descriptor is built in Go from a literal FileDescriptorProto and resolved
// through protodesc against the already-registered google/protobuf/descriptor
// proto, then each extension field is turned into an ExtensionType via
// dynamicpb. This mirrors how grpc-gateway's annotations.proto works, minus
// the codegen step, which this project cannot run.
package protoanno

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Operation kinds for GraphQLMethodOptions.kind, mirrored from the enum
// declared in the synthesized graphql.proto below.
const (
	KindNone         int32 = 0
	KindQuery        int32 = 1
	KindMutation     int32 = 2
	KindSubscription int32 = 3
	KindResolver     int32 = 4
)

var (
	file     *descriptorpb.FileDescriptorProto
	fileDesc protoreflect.FileDescriptor

	// The four extension types, exported so descriptor-set-producing tools
	// and tests can set annotations with proto.SetExtension.
	ExtService protoreflect.ExtensionType
	ExtSchema  protoreflect.ExtensionType
	ExtEntity  protoreflect.ExtensionType
	ExtField   protoreflect.ExtensionType

	// extTypes resolves the extensions during option reparsing. Options
	// decoded from a user-supplied FileDescriptorSet carry unknown
	// extensions as raw unknown fields; re-unmarshaling against this
	// registry surfaces them as readable extension values.
	extTypes = new(protoregistry.Types)
)

func init() {
	file = buildFileDescriptorProto()

	fd, err := protodesc.NewFile(file, protoregistry.GlobalFiles)
	if err != nil {
		panic("protoanno: failed to build graphql.proto descriptor: " + err.Error())
	}
	fileDesc = fd

	exts := fd.Extensions()
	for i := 0; i < exts.Len(); i++ {
		ext := exts.Get(i)
		xt := dynamicpb.NewExtensionType(ext)
		switch ext.Name() {
		case "service":
			ExtService = xt
		case "schema":
			ExtSchema = xt
		case "entity":
			ExtEntity = xt
		case "field":
			ExtField = xt
		}
		if err := extTypes.RegisterExtension(xt); err != nil {
			panic("protoanno: register extension: " + err.Error())
		}
	}
}

// OptionsDescriptor returns the descriptor of one of the graphql.* option
// messages ("GraphQLMethodOptions", "GraphQLFieldOptions", ...), for callers
// building annotation values dynamically.
func OptionsDescriptor(name string) protoreflect.MessageDescriptor {
	return fileDesc.Messages().ByName(protoreflect.Name(name))
}

// reparse round-trips opts through the wire format with the extension
// registry attached, so extensions that arrived as unknown fields become
// readable. fresh must be a new message of the same options type.
func reparse(opts, fresh proto.Message) proto.Message {
	b, err := proto.Marshal(opts)
	if err != nil {
		return opts
	}
	if err := (proto.UnmarshalOptions{Resolver: extTypes}).Unmarshal(b, fresh); err != nil {
		return opts
	}
	return fresh
}

func strField(n string, num int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(n),
		Number:   proto.Int32(num),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
		JsonName: proto.String(n),
	}
}

func repeatedStrField(n string, num int32) *descriptorpb.FieldDescriptorProto {
	f := strField(n, num)
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func boolField(n string, num int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(n),
		Number:   proto.Int32(num),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_BOOL.Enum(),
		JsonName: proto.String(n),
	}
}

func msgField(n string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(n),
		Number:   proto.Int32(num),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String(typeName),
		JsonName: proto.String(n),
	}
}

func enumField(n string, num int32, typeName string) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(n),
		Number:   proto.Int32(num),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_ENUM.Enum(),
		TypeName: proto.String(typeName),
		JsonName: proto.String(n),
	}
}

func buildFileDescriptorProto() *descriptorpb.FileDescriptorProto {
	methodKindEnum := &descriptorpb.EnumDescriptorProto{
		Name: proto.String("Kind"),
		Value: []*descriptorpb.EnumValueDescriptorProto{
			{Name: proto.String("NONE"), Number: proto.Int32(KindNone)},
			{Name: proto.String("QUERY"), Number: proto.Int32(KindQuery)},
			{Name: proto.String("MUTATION"), Number: proto.Int32(KindMutation)},
			{Name: proto.String("SUBSCRIPTION"), Number: proto.Int32(KindSubscription)},
			{Name: proto.String("RESOLVER"), Number: proto.Int32(KindResolver)},
		},
	}

	methodRequest := &descriptorpb.DescriptorProto{
		Name: proto.String("Request"),
		Field: []*descriptorpb.FieldDescriptorProto{
			strField("wrap", 1),
		},
	}
	methodResponse := &descriptorpb.DescriptorProto{
		Name: proto.String("Response"),
		Field: []*descriptorpb.FieldDescriptorProto{
			strField("pluck", 1),
			boolField("required", 2),
		},
	}
	methodOptions := &descriptorpb.DescriptorProto{
		Name:       proto.String("GraphQLMethodOptions"),
		NestedType: []*descriptorpb.DescriptorProto{methodRequest, methodResponse},
		EnumType:   []*descriptorpb.EnumDescriptorProto{methodKindEnum},
		Field: []*descriptorpb.FieldDescriptorProto{
			enumField("kind", 1, ".graphql.GraphQLMethodOptions.Kind"),
			strField("name", 2),
			msgField("request", 3, ".graphql.GraphQLMethodOptions.Request"),
			msgField("response", 4, ".graphql.GraphQLMethodOptions.Response"),
		},
	}

	fieldOptions := &descriptorpb.DescriptorProto{
		Name: proto.String("GraphQLFieldOptions"),
		Field: []*descriptorpb.FieldDescriptorProto{
			boolField("required", 1),
			strField("rename", 2),
			boolField("omit", 3),
			boolField("external", 4),
			strField("requires", 5),
			strField("provides", 6),
			boolField("shareable", 7),
		},
	}

	messageOptions := &descriptorpb.DescriptorProto{
		Name: proto.String("GraphQLMessageOptions"),
		Field: []*descriptorpb.FieldDescriptorProto{
			repeatedStrField("keys", 1),
			boolField("extends", 2),
			boolField("resolvable", 3),
		},
	}

	serviceOptions := &descriptorpb.DescriptorProto{
		Name: proto.String("GraphQLServiceOptions"),
		Field: []*descriptorpb.FieldDescriptorProto{
			strField("backend_host", 1),
			boolField("insecure", 2),
		},
	}

	extensions := []*descriptorpb.FieldDescriptorProto{
		{
			Name:     proto.String("service"),
			Number:   proto.Int32(50000),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
			TypeName: proto.String(".graphql.GraphQLServiceOptions"),
			Extendee: proto.String(".google.protobuf.ServiceOptions"),
			JsonName: proto.String("service"),
		},
		{
			Name:     proto.String("schema"),
			Number:   proto.Int32(50000),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
			TypeName: proto.String(".graphql.GraphQLMethodOptions"),
			Extendee: proto.String(".google.protobuf.MethodOptions"),
			JsonName: proto.String("schema"),
		},
		{
			Name:     proto.String("entity"),
			Number:   proto.Int32(50000),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
			TypeName: proto.String(".graphql.GraphQLMessageOptions"),
			Extendee: proto.String(".google.protobuf.MessageOptions"),
			JsonName: proto.String("entity"),
		},
		{
			Name:     proto.String("field"),
			Number:   proto.Int32(50000),
			Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
			TypeName: proto.String(".graphql.GraphQLFieldOptions"),
			Extendee: proto.String(".google.protobuf.FieldOptions"),
			JsonName: proto.String("field"),
		},
	}

	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String("graphql/annotations.proto"),
		Package:    proto.String("graphql"),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/descriptor.proto"},
		MessageType: []*descriptorpb.DescriptorProto{
			methodOptions, fieldOptions, messageOptions, serviceOptions,
		},
		Extension: extensions,
	}
}

// ServiceAnnotation is the decoded (graphql.service) ServiceOptions extension.
type ServiceAnnotation struct {
	BackendHost string
	Insecure    bool
}

// MethodAnnotation is the decoded (graphql.schema) MethodOptions extension.
type MethodAnnotation struct {
	Kind            int32
	Name            string
	RequestWrap     string
	ResponsePluck   string
	ResponseRequired bool
}

// FieldAnnotation is the decoded (graphql.field) FieldOptions extension.
type FieldAnnotation struct {
	Required  bool
	Rename    string
	Omit      bool
	External  bool
	Requires  string
	Provides  string
	Shareable bool
}

// EntityAnnotation is the decoded (graphql.entity) MessageOptions extension.
type EntityAnnotation struct {
	Keys       []string
	Extends    bool
	Resolvable bool
}

// ReadServiceAnnotation returns the service's (graphql.service) option and
// whether it was present.
func ReadServiceAnnotation(svc protoreflect.ServiceDescriptor) (*ServiceAnnotation, bool) {
	raw, ok := svc.Options().(*descriptorpb.ServiceOptions)
	if !ok || raw == nil {
		return nil, false
	}
	opts := reparse(raw, &descriptorpb.ServiceOptions{})
	if !proto.HasExtension(opts, ExtService) {
		return nil, false
	}
	msg := proto.GetExtension(opts, ExtService).(protoreflect.Message)
	return &ServiceAnnotation{
		BackendHost: getString(msg, "backend_host"),
		Insecure:    getBool(msg, "insecure"),
	}, true
}

// ReadMethodAnnotation returns the method's (graphql.schema) option and
// whether it was present. Absence means the method maps to no operation.
func ReadMethodAnnotation(md protoreflect.MethodDescriptor) (*MethodAnnotation, bool) {
	raw, ok := md.Options().(*descriptorpb.MethodOptions)
	if !ok || raw == nil {
		return nil, false
	}
	opts := reparse(raw, &descriptorpb.MethodOptions{})
	if !proto.HasExtension(opts, ExtSchema) {
		return nil, false
	}
	msg := proto.GetExtension(opts, ExtSchema).(protoreflect.Message)

	ann := &MethodAnnotation{
		Kind: int32(getEnum(msg, "kind")),
		Name: getString(msg, "name"),
	}
	if reqVal := msg.Get(msg.Descriptor().Fields().ByName("request")); msg.Has(msg.Descriptor().Fields().ByName("request")) {
		reqMsg := reqVal.Message()
		ann.RequestWrap = getString(reqMsg, "wrap")
	}
	if respFd := msg.Descriptor().Fields().ByName("response"); msg.Has(respFd) {
		respMsg := msg.Get(respFd).Message()
		ann.ResponsePluck = getString(respMsg, "pluck")
		ann.ResponseRequired = getBool(respMsg, "required")
	}
	return ann, true
}

// ReadFieldAnnotation returns the field's (graphql.field) option and whether
// it was present.
func ReadFieldAnnotation(fieldDesc protoreflect.FieldDescriptor) (*FieldAnnotation, bool) {
	raw, ok := fieldDesc.Options().(*descriptorpb.FieldOptions)
	if !ok || raw == nil {
		return nil, false
	}
	opts := reparse(raw, &descriptorpb.FieldOptions{})
	if !proto.HasExtension(opts, ExtField) {
		return nil, false
	}
	msg := proto.GetExtension(opts, ExtField).(protoreflect.Message)
	return &FieldAnnotation{
		Required:  getBool(msg, "required"),
		Rename:    getString(msg, "rename"),
		Omit:      getBool(msg, "omit"),
		External:  getBool(msg, "external"),
		Requires:  getString(msg, "requires"),
		Provides:  getString(msg, "provides"),
		Shareable: getBool(msg, "shareable"),
	}, true
}

// ReadEntityAnnotation returns the message's (graphql.entity) option and
// whether it was present.
func ReadEntityAnnotation(msgDesc protoreflect.MessageDescriptor) (*EntityAnnotation, bool) {
	raw, ok := msgDesc.Options().(*descriptorpb.MessageOptions)
	if !ok || raw == nil {
		return nil, false
	}
	opts := reparse(raw, &descriptorpb.MessageOptions{})
	if !proto.HasExtension(opts, ExtEntity) {
		return nil, false
	}
	msg := proto.GetExtension(opts, ExtEntity).(protoreflect.Message)
	return &EntityAnnotation{
		Keys:       getStringList(msg, "keys"),
		Extends:    getBool(msg, "extends"),
		Resolvable: getBool(msg, "resolvable"),
	}, true
}

func getString(m protoreflect.Message, name string) string {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return ""
	}
	return m.Get(fd).String()
}

func getBool(m protoreflect.Message, name string) bool {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return false
	}
	return m.Get(fd).Bool()
}

func getEnum(m protoreflect.Message, name string) protoreflect.EnumNumber {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return 0
	}
	return m.Get(fd).Enum()
}

func getStringList(m protoreflect.Message, name string) []string {
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return nil
	}
	list := m.Get(fd).List()
	out := make([]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		out = append(out, list.Get(i).String())
	}
	return out
}
