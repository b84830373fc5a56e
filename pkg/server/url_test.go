package server_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/treeverse/vcsgate/pkg/server"
)

func TestParseURL(t *testing.T) {
	cases := []struct {
		Name     string
		URL      string
		Expected server.Target
		Err      error
	}{
		{Name: "tcp", URL: "tcp://127.0.0.1:8080", Expected: server.Target{Network: server.TCP, Address: "127.0.0.1:8080"}},
		{Name: "default_port", URL: "tcp://localhost", Expected: server.Target{Network: server.TCP, Address: "localhost:9237"}},
		{Name: "empty_port", URL: "tcp://localhost:", Expected: server.Target{Network: server.TCP, Address: "localhost:9237"}},
		{Name: "ipv6", URL: "tcp://[::1]:9000", Expected: server.Target{Network: server.TCP, Address: "[::1]:9000"}},
		{Name: "ipv6_default_port", URL: "tcp://[::1]", Expected: server.Target{Network: server.TCP, Address: "[::1]:9237"}},
		{Name: "trailing_slash", URL: "tcp://0.0.0.0:1/", Expected: server.Target{Network: server.TCP, Address: "0.0.0.0:1"}},
		{Name: "unix", URL: "unix:/run/vcsgate.sock", Expected: server.Target{Network: server.Unix, Address: "/run/vcsgate.sock"}},
		{Name: "unix_slashes", URL: "unix:///run/vcsgate.sock", Expected: server.Target{Network: server.Unix, Address: "/run/vcsgate.sock"}},
		{Name: "unix_relative", URL: "unix:vcsgate.sock", Expected: server.Target{Network: server.Unix, Address: "vcsgate.sock"}},
		{Name: "no_scheme", URL: "localhost:80", Err: server.ErrInvalidURL},
		{Name: "http", URL: "http://localhost", Err: server.ErrInvalidURL},
		{Name: "tcp_path", URL: "tcp://localhost:80/x", Err: server.ErrInvalidURL},
		{Name: "tcp_empty", URL: "tcp://", Err: server.ErrInvalidURL},
		{Name: "unix_empty", URL: "unix:", Err: server.ErrInvalidURL},
	}
	for _, tt := range cases {
		t.Run(tt.Name, func(t *testing.T) {
			got, err := server.ParseURL(tt.URL)
			if tt.Err != nil {
				require.Truef(t, errors.Is(err, tt.Err), "ParseURL(%q) err=%v, expected %v", tt.URL, err, tt.Err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.Expected, got)
			// round trip through the canonical form
			again, err := server.ParseURL(got.String())
			require.NoError(t, err)
			require.Equal(t, got, again)
		})
	}
}

func TestParseURLs(t *testing.T) {
	targets, err := server.ParseURLs([]string{"tcp://a:1", "unix:/s"})
	require.NoError(t, err)
	require.Len(t, targets, 2)

	_, err = server.ParseURLs([]string{"tcp://a:1", "bad"})
	require.ErrorIs(t, err, server.ErrInvalidURL)
}
