package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/builder"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/known/structpb"
)

// EvalProtoFile is the path of the generated file describing the service.
const EvalProtoFile = "luau/v1/eval.proto"

var evalProcedures = []string{
	EvaluateProcedure,
	CallProcedure,
	ReleaseProcedure,
	CheckSyntaxProcedure,
	CreateSessionProcedure,
	DestroySessionProcedure,
}

// EvalServiceFile returns the descriptor of the eval service, built once
// and registered in the global proto registry so reflection can serve it.
// Every method takes and returns a google.protobuf.Struct.
var EvalServiceFile = sync.OnceValues(func() (*desc.FileDescriptor, error) {
	structMsg, err := desc.LoadMessageDescriptorForMessage(&structpb.Struct{})
	if err != nil {
		return nil, err
	}
	msg := builder.RpcTypeImportedMessage(structMsg, false)

	dot := strings.LastIndexByte(EvalServiceName, '.')
	sb := builder.NewService(EvalServiceName[dot+1:])
	for _, proc := range evalProcedures {
		sb.AddMethod(builder.NewMethod(methodName(proc), msg, msg))
	}
	fd, err := builder.NewFile(EvalProtoFile).
		SetPackageName(EvalServiceName[:dot]).
		AddService(sb).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", EvalProtoFile, err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd.UnwrapFile()); err != nil {
		return nil, fmt.Errorf("registering %s: %w", EvalProtoFile, err)
	}
	return fd, nil
})

// methodName strips "/<service>/" from a procedure name.
func methodName(proc string) string {
	return proc[strings.LastIndexByte(proc, '/')+1:]
}

// RegisterEvalService registers svc on a gRPC server, together with the
// reflection service.
func RegisterEvalService(s *grpc.Server, svc *EvalService) error {
	fd, err := EvalServiceFile()
	if err != nil {
		return err
	}
	sd := fd.FindService(EvalServiceName)
	if sd == nil {
		return fmt.Errorf("%s does not define %s", fd.GetName(), EvalServiceName)
	}

	handlers := svc.procedures()
	gd := &grpc.ServiceDesc{
		ServiceName: sd.GetFullyQualifiedName(),
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    fd.GetName(),
	}
	for _, md := range sd.GetMethods() {
		proc := "/" + sd.GetFullyQualifiedName() + "/" + md.GetName()
		h, ok := handlers[proc]
		if !ok {
			return fmt.Errorf("no handler for %s", proc)
		}
		gd.Methods = append(gd.Methods, grpc.MethodDesc{
			MethodName: md.GetName(),
			Handler:    grpcUnary(proc, h),
		})
	}
	s.RegisterService(gd, svc)
	reflection.Register(s)
	return nil
}

func grpcUnary(proc string, h structHandler) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return grpcResult(h(ctx, in))
		}
		info := &grpc.UnaryServerInfo{Server: nil, FullMethod: proc}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return grpcResult(h(ctx, req.(*structpb.Struct)))
		})
	}
}

// grpcResult carries Connect error codes over to gRPC status codes; the
// two share a numbering.
func grpcResult(out *structpb.Struct, err error) (any, error) {
	if err == nil {
		return out, nil
	}
	var ce *connect.Error
	if errors.As(err, &ce) {
		return nil, status.Error(codes.Code(ce.Code()), ce.Message())
	}
	return nil, status.Error(codes.Internal, err.Error())
}
