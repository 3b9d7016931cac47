package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/synclabs/consensuscore/core/types"
)

const (
	outboundRetryBaseDelay = 100 * time.Millisecond
	outboundRetryMaxDelay  = 5 * time.Second
)

// AddressBook resolves a validator id to a dial address, the static
// complement to Node's runtime peer map.
type AddressBook interface {
	Address(validatorID string) (string, bool)
}

// staticAddressBook is the in-memory AddressBook built by NewStaticAddressBook.
type staticAddressBook map[string]string

func (b staticAddressBook) Address(id string) (string, bool) {
	addr, ok := b[id]
	return addr, ok
}

// NewStaticAddressBook builds an AddressBook from a fixed id->addr map, the
// common case for a validator set configured at startup.
func NewStaticAddressBook(addrs map[string]string) AddressBook {
	book := make(staticAddressBook, len(addrs))
	for id, addr := range addrs {
		book[id] = addr
	}
	return book
}

// Node is the framed-TCP transport for one validator: it implements
// consensus/engine.Broadcaster (structurally, via Broadcast) and delivers
// verified inbound proposals/votes to a Dispatcher (structurally satisfied
// by consensus/engine.Engine). Outbound delivery is fire-and-forget with a
// bounded per-peer queue and retrying dialer, grounded on the teacher's
// cmd/consensusd/resilient_broadcaster.go backoff shape; inbound framing
// and peer bookkeeping is grounded on p2p/server.go and p2p/peer.go.
type Node struct {
	mu    sync.RWMutex
	cfg   Config
	selfID string

	signer   Signer
	verify   Verifier
	resolver PublicKeyResolver
	dispatch Dispatcher
	book     AddressBook

	peers    map[string]*peer
	listener net.Listener
	log      *slog.Logger
}

// NewNode builds a transport Node. resolver is used to verify an inbound
// envelope's signature against the sender's known public key before its
// payload is dispatched.
func NewNode(cfg Config, selfID string, signer Signer, verify Verifier, resolver PublicKeyResolver, dispatch Dispatcher, book AddressBook, log *slog.Logger) *Node {
	if log == nil {
		log = slog.Default()
	}
	return &Node{
		cfg:      cfg,
		selfID:   selfID,
		signer:   signer,
		verify:   verify,
		resolver: resolver,
		dispatch: dispatch,
		book:     book,
		peers:    make(map[string]*peer),
		log:      log.With(slog.String("component", "consensus.transport")),
	}
}

// Listen starts accepting inbound connections. There is no handshake, since
// the wire envelope's own signature already authenticates the sender. An
// inbound connection is tracked under its remote address for its whole
// lifetime; it is not re-keyed to the sender's validator id.
func (n *Node) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", n.cfg.ListenAddr, err)
	}
	n.mu.Lock()
	n.listener = ln
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				n.log.Warn("accept failed", slog.Any("err", err))
				continue
			}
			id := conn.RemoteAddr().String()
			p := newPeer(id, conn, n)
			n.mu.Lock()
			n.peers[id] = p
			n.mu.Unlock()
			p.start()
		}
	}()
	return nil
}

// Connect dials and registers a persistent outbound connection to a known
// validator id, retrying with exponential backoff until ctx is canceled or
// the connection succeeds, matching resilient_broadcaster.go's retry shape.
func (n *Node) Connect(ctx context.Context, validatorID string) {
	addr, ok := n.book.Address(validatorID)
	if !ok {
		n.log.Warn("no known address for validator, not dialing", slog.String("validator", validatorID))
		return
	}
	go n.dialLoop(ctx, validatorID, addr)
}

func (n *Node) dialLoop(ctx context.Context, validatorID, addr string) {
	delay := outboundRetryBaseDelay
	for {
		if ctx.Err() != nil {
			return
		}
		n.mu.RLock()
		_, already := n.peers[validatorID]
		n.mu.RUnlock()
		if already {
			return
		}

		dialer := &net.Dialer{Timeout: n.cfg.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			n.log.Warn("dial failed, retrying", slog.String("validator", validatorID), slog.Any("err", err), slog.Duration("retry_in", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > outboundRetryMaxDelay {
				delay = outboundRetryMaxDelay
			}
			continue
		}

		p := newPeer(validatorID, conn, n)
		n.mu.Lock()
		n.peers[validatorID] = p
		n.mu.Unlock()
		p.start()
		return
	}
}

func (n *Node) removePeer(id string, cause error) {
	n.mu.Lock()
	delete(n.peers, id)
	n.mu.Unlock()
	if cause != nil {
		n.log.Warn("peer disconnected", slog.String("peer", id), slog.Any("err", cause))
	}
}

// Broadcast signs and frames an envelope around payload (already the
// canonical signed-proposal/signed-vote bytes consensus/engine produced)
// and enqueues it on every connected peer. It satisfies
// consensus/engine.Broadcaster without importing that package.
func (n *Node) Broadcast(kind string, payload []byte) error {
	var envKind types.EnvelopeKind
	switch kind {
	case "proposal":
		envKind = types.EnvelopeProposal
	case "vote":
		envKind = types.EnvelopeVote
	default:
		return fmt.Errorf("transport: unknown broadcast kind %q", kind)
	}

	env := types.Envelope{
		MessageID:   newMessageID(),
		Sender:      []byte(n.selfID),
		TimestampMs: time.Now().UnixMilli(),
		Kind:        envKind,
		Payload:     payload,
	}
	digest := env.Hash()
	signed := types.SignedEnvelope{
		Envelope: env,
		Signature: types.Signature{
			Scheme: types.SchemeEd25519,
			Bytes:  n.signer.Sign(digest[:]),
		},
	}
	frame := signed.CanonicalBytes()

	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, p := range n.peers {
		p.enqueue(frame)
	}
	return nil
}

// handleInbound verifies an envelope's signature and dispatches its
// kind_payload to the Dispatcher. Envelope-level verification rejects a
// forged sender before the more expensive inner proposal/vote signature
// check (done again by the Dispatcher, which never trusts transport alone).
func (n *Node) handleInbound(peerID string, frame []byte) {
	signed, err := types.DecodeSignedEnvelope(frame)
	if err != nil {
		n.log.Warn("malformed envelope", slog.String("peer", peerID), slog.Any("err", err))
		return
	}
	pubKey, ok := n.resolver.PublicKey(string(signed.Envelope.Sender))
	if !ok {
		n.log.Warn("envelope from unknown sender", slog.String("peer", peerID), slog.String("sender", string(signed.Envelope.Sender)))
		return
	}
	digest := signed.Envelope.Hash()
	if err := n.verify(pubKey, digest[:], signed.Signature.Bytes); err != nil {
		n.log.Warn("envelope signature invalid", slog.String("peer", peerID), slog.Any("err", err))
		return
	}

	switch signed.Envelope.Kind {
	case types.EnvelopeProposal:
		sp, err := types.DecodeSignedProposal(signed.Envelope.Payload)
		if err != nil {
			n.log.Warn("malformed proposal payload", slog.String("peer", peerID), slog.Any("err", err))
			return
		}
		if err := n.dispatch.HandleProposal(sp); err != nil {
			n.log.Warn("dispatch proposal failed", slog.String("peer", peerID), slog.Any("err", err))
		}
	case types.EnvelopeVote, types.EnvelopeViewChange:
		sv, err := types.DecodeSignedVote(signed.Envelope.Payload)
		if err != nil {
			n.log.Warn("malformed vote payload", slog.String("peer", peerID), slog.Any("err", err))
			return
		}
		if err := n.dispatch.HandleVote(sv); err != nil {
			n.log.Warn("dispatch vote failed", slog.String("peer", peerID), slog.Any("err", err))
		}
	default:
		n.log.Warn("unknown envelope kind", slog.String("peer", peerID), slog.Any("kind", signed.Envelope.Kind))
	}
}

// Close shuts down the listener and every connected peer.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener != nil {
		_ = n.listener.Close()
	}
	for _, p := range n.peers {
		p.cancel()
	}
	return nil
}

// PeerCount reports how many peers are currently connected, for metrics.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}
