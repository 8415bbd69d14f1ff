package session

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mlindqvist/rft/internal/netsock"
	"github.com/mlindqvist/rft/internal/wire"
)

func loopbackSocket(t *testing.T) *netsock.Socket {
	t.Helper()
	sock, err := netsock.Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })
	return sock
}

func discardLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// runUploadPair exercises a full upload session, transfer plus
// teardown, between two loopback sockets with no handshake phase: it
// directly constructs the sender and receiver Session objects the way
// a handshake would have, so the test isolates Run's engine+teardown
// behavior from handshake correctness (covered separately).
func runUploadPair(t *testing.T, protocol wire.Protocol, payload []byte) []byte {
	t.Helper()
	clientSock := loopbackSocket(t)
	serverSock := loopbackSocket(t)

	client := New(clientSock, serverSock.LocalAddr(), true, wire.Upload, protocol, discardLog())
	server := New(serverSock, clientSock.LocalAddr(), false, wire.Upload, protocol, discardLog())

	var sink bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- client.Run(ctx, bytes.NewReader(payload), nil) }()
	go func() { errs <- server.Run(ctx, nil, &sink) }()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}
	return sink.Bytes()
}

func TestSessionUploadStopAndWaitRoundTrip(t *testing.T) {
	payload := []byte("abc")
	got := runUploadPair(t, wire.StopAndWait, payload)
	require.Equal(t, payload, got)
}

func TestSessionUploadGoBackNRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 600)
	got := runUploadPair(t, wire.GoBackN, payload)
	require.Equal(t, payload, got)
}

func TestSessionUploadEmptyFile(t *testing.T) {
	got := runUploadPair(t, wire.StopAndWait, []byte{})
	require.Empty(t, got)
}

func TestClientServerHandshake(t *testing.T) {
	clientSock := loopbackSocket(t)
	serverSock := loopbackSocket(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	synAck := BuildSynAck(wire.Upload, 0)
	errs := make(chan error, 1)
	go func() { errs <- ServerHandshake(ctx, serverSock, clientSock.LocalAddr(), synAck) }()

	result, err := ClientHandshake(ctx, clientSock, serverSock.LocalAddr(), wire.Upload, wire.StopAndWait, "report.txt")
	require.NoError(t, err)
	require.Equal(t, serverSock.LocalAddr().String(), result.ServerAddr.String())
	require.NoError(t, <-errs)
}

func TestClientHandshakeSurfacesFileExistsError(t *testing.T) {
	clientSock := loopbackSocket(t)
	serverSock := loopbackSocket(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		pkt, addr, err := serverSock.Receive(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, wire.SYN, pkt.Type)
		_ = serverSock.Send(BuildError(KindFileExists), addr)
	}()

	_, err := ClientHandshake(ctx, clientSock, serverSock.LocalAddr(), wire.Upload, wire.StopAndWait, "exists.txt")
	require.Error(t, err)
	var sessErr *Error
	require.ErrorAs(t, err, &sessErr)
	require.Equal(t, KindFileExists, sessErr.Kind)
}

func TestDecodeFileSizeRoundTrip(t *testing.T) {
	payload := EncodeFileSize(123456789)
	got, err := DecodeFileSize(payload)
	require.NoError(t, err)
	require.EqualValues(t, 123456789, got)
}
