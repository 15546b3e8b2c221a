package p2p

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/SynergyChain/synledger-core/core"
)

// Path is the HTTP path peers dial to deliver messages.
const Path = "/p2p"

const (
	defaultInboxSize = 256
	writeTimeout     = 5 * time.Second
)

var _ core.Network = (*Network)(nil)

// Message is the envelope exchanged between nodes.
type Message struct {
	ID     uuid.UUID `json:"id"`
	From   uint64    `json:"from"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Network delivers text messages to peers over websocket connections.
type Network struct {
	nodeID uint64

	mu    sync.RWMutex
	peers map[uint64]string

	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
	limiter  *rate.Limiter
	inbox    chan Message
	log      *slog.Logger
}

// Option configures a Network.
type Option func(*Network)

// WithRateLimit bounds outbound sends to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(n *Network) { n.limiter = rate.NewLimiter(r, burst) }
}

// WithInboxSize sets how many received messages are buffered before new ones are dropped.
func WithInboxSize(size int) Option {
	return func(n *Network) { n.inbox = make(chan Message, size) }
}

// WithLogger sets the network logger.
func WithLogger(log *slog.Logger) Option {
	return func(n *Network) { n.log = log }
}

// New returns a Network for nodeID with no peers.
func New(nodeID uint64, opts ...Option) *Network {
	n := &Network{
		nodeID: nodeID,
		peers:  make(map[uint64]string),
		dialer: &websocket.Dialer{HandshakeTimeout: writeTimeout},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/600), 100),
		inbox:   make(chan Message, defaultInboxSize),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NodeID returns the local node id.
func (n *Network) NodeID() uint64 { return n.nodeID }

// AddPeer registers or replaces the address of peerID. The address is host:port.
func (n *Network) AddPeer(peerID uint64, address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[peerID] = address
	n.log.Info("Added peer", "peer", peerID, "address", address)
}

// RemovePeer forgets peerID.
func (n *Network) RemovePeer(peerID uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, peerID)
}

// ActivePeers lists registered peer ids in ascending order.
func (n *Network) ActivePeers() []uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]uint64, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (n *Network) address(peerID uint64) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	addr, ok := n.peers[peerID]
	return addr, ok
}

// SendMessage dials peerID and writes one envelope carrying text.
func (n *Network) SendMessage(ctx context.Context, peerID uint64, text string) error {
	addr, ok := n.address(peerID)
	if !ok {
		return fmt.Errorf("%w: %d", core.ErrUnknownPeer, peerID)
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit: %w", core.ErrNetwork, err)
	}

	conn, _, err := n.dialer.DialContext(ctx, "ws://"+addr+Path, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", core.ErrNetwork, addr, err)
	}
	defer conn.Close()

	msg := Message{
		ID:     uuid.New(),
		From:   n.nodeID,
		Text:   text,
		SentAt: time.Now().UTC(),
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: write to %s: %w", core.ErrNetwork, addr, err)
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, closeMsg, deadline); err != nil {
		n.log.Debug("Failed to close peer connection cleanly", "peer", peerID, "error", err)
	}
	n.log.Debug("Sent message to peer", "peer", peerID, "id", msg.ID)
	return nil
}

// Messages returns received envelopes in arrival order.
func (n *Network) Messages() <-chan Message {
	return n.inbox
}

// ServeHTTP accepts a peer connection and reads envelopes until it closes.
func (n *Network) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer conn.Close()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				n.log.Warn("Failed to read peer message", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		n.log.Info("Received message from peer", "peer", msg.From, "id", msg.ID, "text", msg.Text)
		select {
		case n.inbox <- msg:
		default:
			n.log.Warn("Inbox full, dropping peer message", "peer", msg.From, "id", msg.ID)
		}
	}
}
