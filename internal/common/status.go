package common

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCCode maps the kind onto the closest gRPC status code.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindValidation:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	case KindAuthentication:
		return codes.Unauthenticated
	case KindStorage:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// ToStatus converts err to a gRPC status error for transports that expose the
// store. Authentication failures keep their message so callers can display it
// directly; crypto and unknown failures are reduced to a generic message.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	switch kind {
	case KindCrypto, KindUnknown:
		return status.Error(kind.GRPCCode(), "internal error")
	default:
		return status.Error(kind.GRPCCode(), err.Error())
	}
}
