package server_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborgrid/harbormaster/interfaces"
	"github.com/harborgrid/harbormaster/registry"
	"github.com/harborgrid/harbormaster/scope"
	"github.com/harborgrid/harbormaster/server"
	"github.com/harborgrid/harbormaster/services/echo"
	"github.com/harborgrid/harbormaster/transport"
)

// TestEchoEndToEnd provisions a real echo server over a live TCP socket,
// exercises it, stops it and reuses the freed port.
func TestEchoEndToEnd(t *testing.T) {
	log := testLogger()

	ks := server.NewKindSet()
	require.NoError(t, echo.Register(ks))
	require.NoError(t, transport.Register(ks))

	reg := registry.NewRegistry(log)
	factory, err := server.New(server.FactoryConfig{
		Registry: reg,
		Scopes:   scope.NewProvider(log),
		Kinds:    ks,
		Log:      log,
	})
	require.NoError(t, err)

	ctx := context.Background()
	inst, err := factory.Create(ctx, server.CreateRequest{
		Service: "echo",
		Address: "127.0.0.1",
		Port:    0,
	})
	require.NoError(t, err)
	require.Equal(t, interfaces.StateRunning, inst.State())

	entry, ok := reg.Lookup(inst.Endpoint())
	require.True(t, ok)
	addr := entry.Task.(*transport.Task).Addr()
	port := addr.(*net.TCPAddr).Port
	require.NotZero(t, port)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintln(conn, "hi")
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hi\n", reply)

	// A port-0 endpoint is keyed as requested, so a second wildcard
	// request on the same address is a conflict.
	_, err = factory.Create(ctx, server.CreateRequest{
		Service: "echo",
		Address: "127.0.0.1",
		Port:    0,
	})
	require.ErrorIs(t, err, interfaces.ErrPortInUse)

	// The kernel-picked port is busy at the socket layer.
	_, err = factory.Create(ctx, server.CreateRequest{
		Service: "echo",
		Address: "127.0.0.1",
		Port:    port,
	})
	require.ErrorIs(t, err, interfaces.ErrBindFailed)
	assert.Equal(t, 1, reg.Len())

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, inst.Stop(stopCtx))
	assert.Equal(t, interfaces.StateStopped, inst.State())
	assert.Equal(t, 0, reg.Len())

	// The open session was torn down with the server.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)

	// Both the registry slot and the socket are free again.
	next, err := factory.Create(ctx, server.CreateRequest{
		Service: "echo",
		Address: "127.0.0.1",
		Port:    port,
	})
	require.NoError(t, err)

	nextEntry, ok := reg.Lookup(next.Endpoint())
	require.True(t, ok)
	conn2, err := net.Dial("tcp", nextEntry.Task.(*transport.Task).Addr().String())
	require.NoError(t, err)
	defer conn2.Close()

	_, err = fmt.Fprintln(conn2, "again")
	require.NoError(t, err)
	reply, err = bufio.NewReader(conn2).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "again\n", reply)

	require.NoError(t, next.Stop(stopCtx))
}
