package p2p

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/SynergyChain/synledger-core/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newPeerServer(t *testing.T, n *Network) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle(Path, n)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

func receive(t *testing.T, n *Network) Message {
	t.Helper()
	select {
	case msg := <-n.Messages():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestSendMessage(t *testing.T) {
	require := require.New(t)
	receiver := New(2)
	sender := New(1)
	sender.AddPeer(2, newPeerServer(t, receiver))

	require.NoError(sender.SendMessage(context.Background(), 2, "Finalized block with hash: abc"))

	msg := receive(t, receiver)
	require.Equal(uint64(1), msg.From)
	require.Equal("Finalized block with hash: abc", msg.Text)
	require.NotEqual(uuid.Nil, msg.ID)
	require.WithinDuration(time.Now(), msg.SentAt, time.Minute)
}

func TestSendMessageUnknownPeer(t *testing.T) {
	err := New(1).SendMessage(context.Background(), 9, "hello")
	require.ErrorIs(t, err, core.ErrUnknownPeer)
}

func TestSendMessageUnreachablePeer(t *testing.T) {
	require := require.New(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	n := New(1)
	n.AddPeer(2, addr)
	require.ErrorIs(n.SendMessage(context.Background(), 2, "hello"), core.ErrNetwork)
}

func TestSendMessageRateLimitHonorsContext(t *testing.T) {
	require := require.New(t)
	receiver := New(2)
	n := New(1, WithRateLimit(rate.Every(time.Hour), 1))
	n.AddPeer(2, newPeerServer(t, receiver))

	require.NoError(n.SendMessage(context.Background(), 2, "first"))
	receive(t, receiver)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(n.SendMessage(ctx, 2, "second"), core.ErrNetwork)
}

func TestPeers(t *testing.T) {
	require := require.New(t)
	n := New(7)
	require.Equal(uint64(7), n.NodeID())
	require.Empty(n.ActivePeers())

	n.AddPeer(3, "a:1")
	n.AddPeer(1, "b:1")
	n.AddPeer(3, "c:1")
	require.Equal([]uint64{1, 3}, n.ActivePeers())

	n.RemovePeer(1)
	require.Equal([]uint64{3}, n.ActivePeers())
}

func TestBroadcast(t *testing.T) {
	require := require.New(t)
	first, second := New(2), New(3)
	n := New(1)
	n.AddPeer(2, newPeerServer(t, first))
	n.AddPeer(3, newPeerServer(t, second))
	n.AddPeer(4, "127.0.0.1:1")

	err := n.Broadcast(context.Background(), "tip")
	require.ErrorIs(err, core.ErrNetwork)
	require.Contains(err.Error(), "peer 4")

	require.Equal("tip", receive(t, first).Text)
	require.Equal("tip", receive(t, second).Text)
}
