// gRPC service descriptor and client for tagstore.v1.TagService.
// Messages are google.protobuf.Struct so the service needs no generated code.
package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tagstore.v1.TagService"

// Method names.
const (
	MethodSearch            = "Search"
	MethodListTags          = "ListTags"
	MethodResolveTag        = "ResolveTag"
	MethodReadMetadata      = "ReadMetadata"
	MethodCreateMetadata    = "CreateMetadata"
	MethodApplyTag          = "ApplyTag"
	MethodApplyAllKnownTags = "ApplyAllKnownTags"
	MethodRemoveTag         = "RemoveTag"
	MethodResetMetadata     = "ResetMetadata"
	MethodDeleteMetadata    = "DeleteMetadata"
	MethodFindProvenance    = "FindProvenance"
)

// TagServiceServer is the server API for TagService.
type TagServiceServer interface {
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTags(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveTag(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReadMetadata(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateMetadata(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyTag(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyAllKnownTags(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveTag(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetMetadata(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteMetadata(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FindProvenance(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(TagServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var methods = map[string]unaryMethod{
	MethodSearch:            TagServiceServer.Search,
	MethodListTags:          TagServiceServer.ListTags,
	MethodResolveTag:        TagServiceServer.ResolveTag,
	MethodReadMetadata:      TagServiceServer.ReadMetadata,
	MethodCreateMetadata:    TagServiceServer.CreateMetadata,
	MethodApplyTag:          TagServiceServer.ApplyTag,
	MethodApplyAllKnownTags: TagServiceServer.ApplyAllKnownTags,
	MethodRemoveTag:         TagServiceServer.RemoveTag,
	MethodResetMetadata:     TagServiceServer.ResetMetadata,
	MethodDeleteMetadata:    TagServiceServer.DeleteMetadata,
	MethodFindProvenance:    TagServiceServer.FindProvenance,
}

var methodOrder = []string{
	MethodSearch, MethodListTags, MethodResolveTag, MethodReadMetadata,
	MethodCreateMetadata, MethodApplyTag, MethodApplyAllKnownTags, MethodRemoveTag,
	MethodResetMetadata, MethodDeleteMetadata, MethodFindProvenance,
}

func handler(name string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TagServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(TagServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ServiceDesc describes TagService for grpc.Server.RegisterService.
var ServiceDesc = func() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*TagServiceServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    ProtoFile,
	}
	for _, name := range methodOrder {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    handler(name, methods[name]),
		})
	}
	return desc
}()

// RegisterTagServiceServer registers srv on s.
func RegisterTagServiceServer(s grpc.ServiceRegistrar, srv TagServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls TagService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with a request built from fields.
func (c *Client) Call(ctx context.Context, method string, fields map[string]interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Search runs an attribute search.
func (c *Client) Search(ctx context.Context, fields map[string]interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodSearch, fields, opts...)
}

// ApplyTag stamps provenance for one tag.
func (c *Client) ApplyTag(ctx context.Context, object, tag string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodApplyTag, map[string]interface{}{"object": object, "tag": tag}, opts...)
}

// ReadMetadata fetches an object's record.
func (c *Client) ReadMetadata(ctx context.Context, object string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.Call(ctx, MethodReadMetadata, map[string]interface{}{"object": object}, opts...)
}
