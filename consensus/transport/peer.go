package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// peer owns one TCP connection to another validator: a bounded outbound
// queue drained by writeLoop, and a readLoop that frames, rate-limits, and
// hands inbound bytes to the owning Node. Mirrors the teacher's p2p.Peer
// split (readLoop/writeLoop/outbound channel) with canonical framed bytes
// in place of newline-delimited JSON.
type peer struct {
	id         string
	conn       net.Conn
	reader     *bufio.Reader
	outbound   chan []byte
	limiter    *rate.Limiter
	node       *Node
	remoteAddr string

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(id string, conn net.Conn, node *Node) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	queueSize := node.cfg.PeerOutboundQueue
	if queueSize <= 0 {
		queueSize = 64
	}
	var limiter *rate.Limiter
	if node.cfg.IngressRatePerSec > 0 {
		burst := node.cfg.IngressBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(node.cfg.IngressRatePerSec), burst)
	}
	return &peer{
		id:         id,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		outbound:   make(chan []byte, queueSize),
		limiter:    limiter,
		node:       node,
		remoteAddr: conn.RemoteAddr().String(),
		ctx:        ctx,
		cancel:     cancel,
		closed:     make(chan struct{}),
	}
}

func (p *peer) start() {
	go p.readLoop()
	go p.writeLoop()
}

// enqueue submits a frame payload for delivery, dropping the oldest queued
// frame to make room rather than blocking the caller (Node.Broadcast is
// called from the engine's own goroutine and must never stall on a slow
// peer), per the shared-resource policy's "no unbounded queues" rule.
func (p *peer) enqueue(payload []byte) {
	select {
	case p.outbound <- payload:
		return
	default:
	}
	select {
	case <-p.outbound:
	default:
	}
	select {
	case p.outbound <- payload:
	default:
	}
}

func (p *peer) readLoop() {
	defer p.terminate(nil)
	for {
		if p.ctx.Err() != nil {
			return
		}
		if err := p.conn.SetReadDeadline(time.Now().Add(p.node.cfg.ReadTimeout)); err != nil {
			p.terminate(fmt.Errorf("set read deadline: %w", err))
			return
		}
		frame, err := ReadFrame(p.reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			p.terminate(fmt.Errorf("read frame from %s: %w", p.id, err))
			return
		}
		if p.limiter != nil && !p.limiter.Allow() {
			p.node.log.Warn("peer exceeded ingress rate, dropping frame", slog.String("peer", p.id))
			continue
		}
		p.node.handleInbound(p.id, frame)
	}
}

func (p *peer) writeLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case payload, ok := <-p.outbound:
			if !ok {
				return
			}
			if err := p.conn.SetWriteDeadline(time.Now().Add(p.node.cfg.WriteTimeout)); err != nil {
				p.terminate(fmt.Errorf("set write deadline: %w", err))
				return
			}
			if err := WriteFrame(p.conn, payload); err != nil {
				p.terminate(fmt.Errorf("write frame to %s: %w", p.id, err))
				return
			}
		}
	}
}

func (p *peer) terminate(cause error) {
	p.closeOnce.Do(func() {
		p.cancel()
		_ = p.conn.Close()
		close(p.closed)
		p.node.removePeer(p.id, cause)
	})
}
