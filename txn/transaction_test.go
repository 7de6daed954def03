package txn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/myelnet/nom/transport"
	"github.com/myelnet/nom/wire"
)

func loopbackPair(t *testing.T) (*transport.Socket, *transport.Socket) {
	t.Helper()
	a, err := transport.Listen("127.0.0.1:0", transport.DefaultMaxPayload)
	require.NoError(t, err)
	b, err := transport.Listen("127.0.0.1:0", transport.DefaultMaxPayload)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestSendReceivesReply(t *testing.T) {
	client, server := loopbackPair(t)
	mgr := NewManager(client, Options{RetryMax: 3, RetryBaseInterval: 20 * time.Millisecond, RetryMaxInterval: 100 * time.Millisecond}, 0)

	// Server: echo back a REPLY_OK carrying 42 for whatever request arrives.
	go func() {
		f, src, err := server.Recv()
		require.NoError(t, err)
		reply := transport.Frame{Version: transport.Version, Reply: true, TID: f.TID, Opcode: transport.OpReplyOK, Payload: wire.Int(42)}
		require.NoError(t, server.Send(src, reply))
	}()

	// Client: a receiver loop feeding inbound frames to the Manager, the
	// role service.Service's receiver goroutine plays in the real system.
	go func() {
		for {
			f, src, err := client.Recv()
			if err != nil {
				return
			}
			if mgr.Deliver(src, f) {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := mgr.Send(ctx, server.LocalAddr(), transport.OpCall, func(tid uint32) transport.Frame {
		return transport.Frame{Version: transport.Version, TID: tid, Opcode: transport.OpCall, Payload: wire.Nil()}
	})
	require.NoError(t, err)

	i, ok := reply.Payload.AsInt()
	require.True(t, ok)
	require.Equal(t, int64(42), i)
}

func TestSendTimesOutWithoutReply(t *testing.T) {
	client, server := loopbackPair(t)
	mgr := NewManager(client, Options{RetryMax: 1, RetryBaseInterval: 10 * time.Millisecond, RetryMaxInterval: 20 * time.Millisecond}, 0)

	go func() {
		// Drain but never reply, simulating an unresponsive peer.
		for i := 0; i < 3; i++ {
			if _, _, err := server.Recv(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := mgr.Send(ctx, server.LocalAddr(), transport.OpCall, func(tid uint32) transport.Frame {
		return transport.Frame{Version: transport.Version, TID: tid, Opcode: transport.OpCall, Payload: wire.Nil()}
	})
	require.Error(t, err)
}

func TestReplyCacheRoundTrip(t *testing.T) {
	client, _ := loopbackPair(t)
	mgr := NewManager(client, DefaultOptions, 50*time.Millisecond)

	addr := client.LocalAddr()
	reply := transport.Frame{Version: transport.Version, Reply: true, TID: 7, Opcode: transport.OpReplyOK, Payload: wire.Text("ok")}
	mgr.CacheReply(addr, 7, reply)

	got, ok := mgr.CachedReply(addr, 7)
	require.True(t, ok)
	require.Equal(t, reply.TID, got.TID)

	time.Sleep(80 * time.Millisecond)
	mgr.SweepCache()
	_, ok = mgr.CachedReply(addr, 7)
	require.False(t, ok)
}
