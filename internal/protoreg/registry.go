// Package protoreg resolves a built ir.Project's resolver, loader and
// source-field wiring directly against the descriptor pool it was built
// from, producing the grpcrt.Registry consulted at request time. Unlike a
// code-generation tool, it never synthesizes new descriptors: every
// ServiceFQN/MethodName/ProtoField the IR carries already names a method or
// field that exists in the user-supplied FileDescriptorSet.
package protoreg

import (
	grpcrt "github.com/relaygraph/protograph/internal/grpcrt"
	"google.golang.org/protobuf/reflect/protoreflect"
)

type key = [2]string

// Registry is the production implementation of grpcrt.Registry.
type Registry struct {
	sourceFields    map[key]protoreflect.FieldDescriptor
	singleResolvers map[key]protoreflect.MethodDescriptor
	batchResolvers  map[key]protoreflect.MethodDescriptor
	singleLoaders   map[key]protoreflect.MethodDescriptor
	batchLoaders    map[key]protoreflect.MethodDescriptor
	requestMap      map[key]map[string]string
	sourceMessages  map[string]protoreflect.MessageDescriptor
	plucks          map[key][]string
}

var _ grpcrt.Registry = (*Registry)(nil)

func newRegistry() *Registry {
	return &Registry{
		sourceFields:    map[key]protoreflect.FieldDescriptor{},
		singleResolvers: map[key]protoreflect.MethodDescriptor{},
		batchResolvers:  map[key]protoreflect.MethodDescriptor{},
		singleLoaders:   map[key]protoreflect.MethodDescriptor{},
		batchLoaders:    map[key]protoreflect.MethodDescriptor{},
		requestMap:      map[key]map[string]string{},
		sourceMessages:  map[string]protoreflect.MessageDescriptor{},
		plucks:          map[key][]string{},
	}
}

func (r *Registry) GetSourceFieldDescriptor(objectType, field string) protoreflect.FieldDescriptor {
	return r.sourceFields[key{objectType, field}]
}

func (r *Registry) GetSingleResolverDescriptor(objectType, field string) protoreflect.MethodDescriptor {
	return r.singleResolvers[key{objectType, field}]
}

func (r *Registry) GetBatchResolverDescriptor(objectType, field string) protoreflect.MethodDescriptor {
	return r.batchResolvers[key{objectType, field}]
}

func (r *Registry) GetSingleLoaderDescriptor(objectType, field string) protoreflect.MethodDescriptor {
	return r.singleLoaders[key{objectType, field}]
}

func (r *Registry) GetBatchLoaderDescriptor(objectType, field string) protoreflect.MethodDescriptor {
	return r.batchLoaders[key{objectType, field}]
}

func (r *Registry) GetRequestFieldSourceMapping(objectType, field string) map[string]string {
	return r.requestMap[key{objectType, field}]
}

func (r *Registry) GetSourceMessageDescriptor(objectType string) protoreflect.MessageDescriptor {
	return r.sourceMessages[objectType]
}

func (r *Registry) GetResponsePluck(objectType, field string) []string {
	return r.plucks[key{objectType, field}]
}
