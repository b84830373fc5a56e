//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package server_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/vcsgate/pkg/server"
)

func TestReusePortSharesPort(t *testing.T) {
	ctx := context.Background()
	first, err := server.ReusePort{}.Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	second, err := server.ReusePort{}.Listen(ctx, first.Addr().String())
	require.NoError(t, err)
	defer func() { _ = second.Close() }()
	require.Equal(t, first.Addr().String(), second.Addr().String())
}
