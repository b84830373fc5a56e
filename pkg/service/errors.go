package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/treeverse/vcsgate/pkg/logging"
	"github.com/treeverse/vcsgate/pkg/vcs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracking identifiers of the RPCs that are not implemented yet.
const (
	trackRawBlame        = "VG-101"
	trackCommitLanguages = "VG-102"
	trackDeleteRefs      = "VG-103"
	trackRepositorySize  = "VG-104"
)

func unimplemented(rpc, tracking string) error {
	return status.Errorf(codes.Unimplemented, "%s is not implemented (tracking issue %s)", rpc, tracking)
}

func invalidArgument(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

// toStatus translates an error returned by the helper packages into a gRPC status.
// Unexpected errors are logged.
func toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, vcs.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, vcs.ErrInvalidValue):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, vcs.ErrUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	}
	logging.FromContext(ctx).WithError(err).Error("Unexpected error")
	return status.Error(codes.Internal, err.Error())
}

// endpointError reports a diff endpoint that does not resolve.  Clients have always seen
// INTERNAL for this.
func endpointError(ctx context.Context, which, rev string, err error) error {
	logging.FromContext(ctx).
		WithField(logging.RevisionFieldKey, rev).
		WithError(err).
		Warn("Diff endpoint not resolved")
	return status.Error(codes.Internal, fmt.Sprintf("%s commit %q not resolved: %s", which, rev, err))
}
