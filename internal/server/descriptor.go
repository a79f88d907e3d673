package server

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtoFile is the descriptor path TagService is registered under.
const ProtoFile = "tagstore/v1/tagstore.proto"

// File describes TagService the way protoc would, so server reflection can
// serve it. Every method takes and returns google.protobuf.Struct.
var File = registerFile()

func registerFile() protoreflect.FileDescriptor {
	structName := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())
	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("TagService")}
	for _, name := range methodOrder {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(structName),
			OutputType: proto.String(structName),
		})
	}
	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(ProtoFile),
		Package:    proto.String("tagstore.v1"),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service:    []*descriptorpb.ServiceDescriptorProto{svc},
		Syntax:     proto.String("proto3"),
	}

	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		panic("tagstore: build service descriptor: " + err.Error())
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic("tagstore: register service descriptor: " + err.Error())
	}
	return fd
}
