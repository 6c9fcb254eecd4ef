package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "credstore.Accounts"

// Full method names.
const (
	MethodLogin        = "/" + serviceName + "/Login"
	MethodWhoami       = "/" + serviceName + "/Whoami"
	MethodPasswd       = "/" + serviceName + "/Passwd"
	MethodListUsers    = "/" + serviceName + "/ListUsers"
	MethodListPasskeys = "/" + serviceName + "/ListPasskeys"
)

// AccountsServer is the accounts service as registered with grpc.
type AccountsServer interface {
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Whoami(context.Context, *Empty) (*WhoamiResponse, error)
	Passwd(context.Context, *PasswdRequest) (*Empty, error)
	ListUsers(context.Context, *Empty) (*ListUsersResponse, error)
	ListPasskeys(context.Context, *Empty) (*ListPasskeysResponse, error)
}

// unary adapts a typed method to a grpc.MethodDesc handler, running it
// through the server's interceptor chain.
func unary[Req, Resp any](name string, call func(AccountsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AccountsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AccountsServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AccountsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Login", AccountsServer.Login),
		unary("Whoami", AccountsServer.Whoami),
		unary("Passwd", AccountsServer.Passwd),
		unary("ListUsers", AccountsServer.ListUsers),
		unary("ListPasskeys", AccountsServer.ListPasskeys),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "credstore/accounts",
}

// RegisterAccountsServer registers srv with s.
func RegisterAccountsServer(s grpc.ServiceRegistrar, srv AccountsServer) {
	s.RegisterService(&serviceDesc, srv)
}
