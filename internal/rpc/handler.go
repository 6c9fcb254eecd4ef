package rpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/credstore/internal/common"
	"github.com/dmitrijs2005/credstore/internal/session"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// adminGroup members may list accounts without being root.
const adminGroup = 0

func (s *Server) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	creds, err := s.store.Login(ctx, req.Username, req.Password, nil)
	if err != nil {
		// unknown users answer like a wrong password
		if errors.Is(err, common.ErrNotFound) {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return nil, common.ToStatus(err)
	}

	token, err := s.issuer.Issue(req.Username, creds)
	if err != nil {
		s.logger.Error(ctx, "issue session token", "error", err)
		return nil, common.ToStatus(err)
	}

	s.logger.Info(ctx, "Logged in", "username", req.Username)
	return &LoginResponse{Token: token, Credentials: creds}, nil
}

func (s *Server) Whoami(ctx context.Context, _ *Empty) (*WhoamiResponse, error) {
	creds, err := callerOf(ctx)
	if err != nil {
		return nil, err
	}
	return &WhoamiResponse{Credentials: creds}, nil
}

func (s *Server) Passwd(ctx context.Context, req *PasswdRequest) (*Empty, error) {
	if _, err := callerOf(ctx); err != nil {
		return nil, err
	}
	if err := s.store.Password(ctx, req.OldPassword, req.NewPassword); err != nil {
		return nil, common.ToStatus(err)
	}
	return &Empty{}, nil
}

func (s *Server) ListUsers(ctx context.Context, _ *Empty) (*ListUsersResponse, error) {
	creds, err := callerOf(ctx)
	if err != nil {
		return nil, err
	}
	if !creds.IsSuperuser() && !creds.InGroup(adminGroup) {
		return nil, status.Error(codes.PermissionDenied, "Permission denied")
	}

	list := s.store.List()
	resp := &ListUsersResponse{Users: make([]Account, 0, len(list))}
	for _, u := range list {
		resp.Users = append(resp.Users, Account{
			Username: u.Username,
			UID:      u.UID,
			GID:      u.GID,
			Groups:   u.Groups,
			Home:     u.Home,
			Shell:    u.Shell,
		})
	}
	return resp, nil
}

func (s *Server) ListPasskeys(ctx context.Context, _ *Empty) (*ListPasskeysResponse, error) {
	creds, err := callerOf(ctx)
	if err != nil {
		return nil, err
	}
	return &ListPasskeysResponse{Passkeys: s.store.GetPasskeys(ctx, creds.UID)}, nil
}

func callerOf(ctx context.Context) (session.Credentials, error) {
	creds, ok := session.FromContext(ctx)
	if !ok {
		return session.Credentials{}, status.Error(codes.Unauthenticated, "missing session token")
	}
	return creds, nil
}
