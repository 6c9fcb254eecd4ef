// Package rpc exposes the credential store over gRPC. Calls other than
// Login carry a session token in metadata; the session interceptor turns it
// back into credentials before a handler runs.
package rpc

import (
	"context"
	"errors"
	"net"

	"github.com/dmitrijs2005/credstore/internal/logging"
	"github.com/dmitrijs2005/credstore/internal/session"
	"github.com/dmitrijs2005/credstore/internal/users"
	"google.golang.org/grpc"
)

type Server struct {
	address string
	store   *users.Store
	issuer  *session.Issuer
	logger  logging.Logger
}

var _ AccountsServer = (*Server)(nil)

func NewServer(address string, store *users.Store, issuer *session.Issuer, l logging.Logger) *Server {
	return &Server{
		address: address,
		store:   store,
		issuer:  issuer,
		logger:  l.With("module", "grpc_server"),
	}
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(session.UnaryServerInterceptor(s.issuer, MethodLogin)))
	RegisterAccountsServer(srv, s)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
