package netsock

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mlindqvist/rft/internal/wire"
)

func localAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1")}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	server, err := Listen(localAddr(t))
	require.NoError(t, err)
	defer server.Close()

	client, err := Listen(localAddr(t))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send(&wire.Packet{Type: wire.SYN, Payload: []byte("file.bin")}, server.LocalAddr()))

	packet, addr, err := server.Receive(time.Second)
	require.NoError(t, err)
	require.NotNil(t, addr)
	require.Equal(t, wire.SYN, packet.Type)
	require.Equal(t, "file.bin", string(packet.Payload))

	require.NoError(t, server.Send(&wire.Packet{Type: wire.SYNACK}, addr))
	reply, _, err := client.Receive(time.Second)
	require.NoError(t, err)
	require.Equal(t, wire.SYNACK, reply.Type)
}

func TestReceiveTimesOut(t *testing.T) {
	sock, err := Listen(localAddr(t))
	require.NoError(t, err)
	defer sock.Close()

	_, _, err = sock.Receive(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestReceiveSurfacesMalformed(t *testing.T) {
	server, err := Listen(localAddr(t))
	require.NoError(t, err)
	defer server.Close()

	client, err := Listen(localAddr(t))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.conn.WriteToUDP([]byte{1, 2, 3}, server.LocalAddr())
	require.NoError(t, err)

	_, _, err = server.Receive(time.Second)
	require.Error(t, err)
	var malformedErr *wire.ErrMalformed
	require.ErrorAs(t, err, &malformedErr)
}
