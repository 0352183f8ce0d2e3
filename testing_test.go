package minicache

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pior/minicache/server"
	"github.com/pior/minicache/store"
)

// testServer is an in-process minicache server listening on a random port.
type testServer struct {
	srv   *server.Server
	store *store.Store
	addr  string
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	st := store.New()
	t.Cleanup(st.Close)

	srv, err := server.New(st, server.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(context.Background(), ln)
	}()

	ts := &testServer{srv: srv, store: st, addr: ln.Addr().String()}
	t.Cleanup(func() { ts.stop(t, errCh) })
	return ts
}

func (ts *testServer) stop(t *testing.T, errCh <-chan error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ts.srv.Shutdown(ctx))
	require.ErrorIs(t, <-errCh, server.ErrServerClosed)
}

func newTestClient(t *testing.T, config Config, addrs ...string) *Client {
	t.Helper()

	client, err := NewClient(NewStaticServers(addrs...), config)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

// unusedAddr returns an address nobody listens on.
func unusedAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}
