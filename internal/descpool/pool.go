// Package descpool builds the Descriptor Pool: an immutable, O(1)-lookup
// index over a user-supplied FileDescriptorSet. Cross-file symbol references
// resolve only against files inside that set, so every dependency (the
// well-known types included) must be part of it.
package descpool

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Pool is the loaded, queryable view over a descriptor set. It is built once
// at gateway startup and never mutated afterward; all lookups are backed by
// protoregistry.Files, which indexes by fully-qualified name in O(1) average.
type Pool struct {
	files *protoregistry.Files

	// services lists every service descriptor found in the input set, in
	// file path order then declaration order, for deterministic schema-build
	// traversal, so repeated loads visit services identically.
	services []protoreflect.ServiceDescriptor
}

// Load parses raw FileDescriptorSet bytes into a Pool. Fails with a
// descriptive error (mapped to the InvalidDescriptor error kind by callers)
// on malformed bytes, unresolved imports, or dependency cycles that
// protodesc cannot order.
func Load(descriptorSetBytes []byte) (*Pool, error) {
	fdSet := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(descriptorSetBytes, fdSet); err != nil {
		return nil, fmt.Errorf("descpool: malformed FileDescriptorSet: %w", err)
	}
	return LoadSet(fdSet)
}

// LoadSet builds a Pool from an already-decoded FileDescriptorSet, useful
// for tests and for descriptor sets assembled in-process.
func LoadSet(fdSet *descriptorpb.FileDescriptorSet) (*Pool, error) {
	files, err := protodesc.NewFiles(fdSet)
	if err != nil {
		return nil, fmt.Errorf("descpool: %w", err)
	}

	p := &Pool{files: files}

	// File order in the descriptor set is already dependency-sorted by
	// protoc/buf; within a file, declaration order is preserved by
	// RangeFiles only insofar as Go map iteration of the underlying
	// registry is not guaranteed, so we resort by file path for
	// determinism.
	var fileList []protoreflect.FileDescriptor
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		fileList = append(fileList, fd)
		return true
	})
	sort.Slice(fileList, func(i, j int) bool {
		return fileList[i].Path() < fileList[j].Path()
	})

	for _, fd := range fileList {
		svcs := fd.Services()
		for i := 0; i < svcs.Len(); i++ {
			p.services = append(p.services, svcs.Get(i))
		}
	}

	return p, nil
}

// Files exposes the underlying resolver for components (dynamicpb,
// protodesc-based annotation reading) that need a protodesc.Resolver.
func (p *Pool) Files() *protoregistry.Files { return p.files }

// Services returns every service descriptor in the pool, in deterministic
// (file path, then declaration) order.
func (p *Pool) Services() []protoreflect.ServiceDescriptor { return p.services }

// FindMessage resolves a fully-qualified message name, e.g.
// "myapp.v1.User". Returns (nil, false) if absent.
func (p *Pool) FindMessage(fqn string) (protoreflect.MessageDescriptor, bool) {
	d, err := p.files.FindDescriptorByName(protoreflect.FullName(fqn))
	if err != nil {
		return nil, false
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	return md, ok
}

// FindEnum resolves a fully-qualified enum name. Returns (nil, false) if
// absent.
func (p *Pool) FindEnum(fqn string) (protoreflect.EnumDescriptor, bool) {
	d, err := p.files.FindDescriptorByName(protoreflect.FullName(fqn))
	if err != nil {
		return nil, false
	}
	ed, ok := d.(protoreflect.EnumDescriptor)
	return ed, ok
}

// FindService resolves a fully-qualified service name. Returns (nil, false)
// if absent.
func (p *Pool) FindService(fqn string) (protoreflect.ServiceDescriptor, bool) {
	d, err := p.files.FindDescriptorByName(protoreflect.FullName(fqn))
	if err != nil {
		return nil, false
	}
	sd, ok := d.(protoreflect.ServiceDescriptor)
	return sd, ok
}

// FindMethod resolves a method by its owning service's fully-qualified name
// and bare rpc name. Returns (nil, false) if either half is absent.
func (p *Pool) FindMethod(serviceFQN, methodName string) (protoreflect.MethodDescriptor, bool) {
	sd, ok := p.FindService(serviceFQN)
	if !ok {
		return nil, false
	}
	md := sd.Methods().ByName(protoreflect.Name(methodName))
	if md == nil {
		return nil, false
	}
	return md, true
}
