package gossip

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/votechain/votechain/block"
	"github.com/votechain/votechain/p2p"
	"github.com/votechain/votechain/tx"
)

const (
	protocolVersion = 1
	maxPeers        = 5
)

// Engine is the subset of the chain engine the gossip layer drives.
// chain.Engine satisfies this directly.
type Engine interface {
	Height() int64
	AddTransaction(t *tx.Transaction, from string) bool
	AddBlock(b *block.Block, minedLocally bool) bool
	BlockAt(height int64) (*block.Block, error)
	PoolSnapshot() []*tx.Transaction
	RequestCatchUpWindow(peerHeight int64) (from, to int64, ok bool)
	NoteCatchUpStall(priorHeight int64)
}

// Sender is the subset of p2p.Server the handler needs to reach peers.
// Implemented by *p2p.Server.
type Sender interface {
	Inbound() []*p2p.Connection
	Outbound() []*p2p.Connection
	Dial(addr string) (*p2p.Connection, error)
	PeerCount() int
}

// Handler implements the application protocol described in §4.8: it
// turns connected peers and their frames into chain operations, and
// chain operations into frames sent back out.
type Handler struct {
	mu sync.Mutex

	nodeID string
	engine Engine
	server Sender
	log    *logrus.Entry

	knownPeers map[string]bool

	onPeerConnected    func(peer string)
	onPeerDisconnected func(peer string)
}

// New creates a handler for nodeID, driving engine and sending through
// server.
func New(nodeID string, engine Engine, server Sender) *Handler {
	return &Handler{
		nodeID:     nodeID,
		engine:     engine,
		server:     server,
		log:        logrus.WithField("component", "gossip"),
		knownPeers: make(map[string]bool),
	}
}

// SetEngine rebinds the handler's engine. Gossip and chain wiring is
// circular — the engine's Notifier is the handler, and the handler's
// Engine is the chain — so callers construct the handler with a nil
// engine and bind the real one once chain.New returns, before the
// server starts accepting connections.
func (h *Handler) SetEngine(engine Engine) {
	h.mu.Lock()
	h.engine = engine
	h.mu.Unlock()
}

// OnPeerConnected registers a callback fired when a peer finishes the
// version handshake.
func (h *Handler) OnPeerConnected(fn func(peer string)) {
	h.mu.Lock()
	h.onPeerConnected = fn
	h.mu.Unlock()
}

// OnPeerDisconnected registers a callback fired when a peer connection
// is torn down.
func (h *Handler) OnPeerDisconnected(fn func(peer string)) {
	h.mu.Lock()
	h.onPeerDisconnected = fn
	h.mu.Unlock()
}

// HandleConnected is called by the server once a connection's handshake
// has completed at the transport level. The outbound side speaks first;
// the inbound side waits for version_req. A node already at capacity
// replies with disconnect and drops the peer.
func (h *Handler) HandleConnected(c *p2p.Connection) {
	if h.server.PeerCount() > maxPeers {
		h.log.WithField("peer", c.ID()).Warn("peer capacity exceeded, disconnecting")
		h.send(c, &Frame{Msg: msgDisconnect})
		c.Close()
		return
	}

	if c.Inbound() {
		return
	}

	h.send(c, &Frame{Msg: msgVersionReq, Version: []int64{protocolVersion, 1, h.engine.Height()}})
}

// HandleDisconnected is called by the server once a connection's receive
// loop has exited.
func (h *Handler) HandleDisconnected(c *p2p.Connection) {
	h.mu.Lock()
	cb := h.onPeerDisconnected
	h.mu.Unlock()
	if cb != nil {
		cb(c.ID())
	}
}

// HandleFrame dispatches a single incoming frame from c. Any subset of
// the frame's optional fields may be populated; each is handled
// independently.
func (h *Handler) HandleFrame(c *p2p.Connection, raw []byte) {
	f, err := decodeFrame(raw)
	if err != nil {
		h.log.WithError(err).WithField("peer", c.ID()).Warn("dropping malformed frame")
		return
	}

	switch f.Msg {
	case msgVersionReq:
		h.handleVersionReq(c)
	case msgDisconnect:
		c.Close()
		return
	case msgMemPoolReq:
		h.handleMemPoolReq(c)
	}

	if f.Version != nil {
		h.handleVersion(c, f.Version)
	}
	if f.Peers != nil {
		h.handlePeers(f.Peers)
	}
	if f.NewTx != nil {
		h.handleNewTx(c, f.NewTx)
	}
	if f.NewBlock != nil {
		h.handleNewBlock(c, f.NewBlock)
	}
	if f.GetBlocks != nil {
		h.handleGetBlocks(c, f.GetBlocks)
	}
	if f.Blocks != nil {
		h.handleBlocks(c, f.Blocks)
	}
	if f.BlockHeight != nil {
		h.handleBlockHeight(c, *f.BlockHeight)
	}
	if f.MemPool != nil {
		h.handleMemPool(c, f.MemPool)
	}
}

func (h *Handler) handleVersionReq(c *p2p.Connection) {
	h.send(c, &Frame{Msg: "version", Version: []int64{protocolVersion, 1, h.engine.Height()}})
}

func (h *Handler) handleVersion(c *p2p.Connection, v []int64) {
	if len(v) < 3 {
		return
	}
	c.SetVersion("ok")
	c.SetBlockHeight(v[2])

	h.mu.Lock()
	cb := h.onPeerConnected
	h.mu.Unlock()
	if cb != nil {
		cb(c.ID())
	}

	h.maybeRequestCatchUp(c, v[2])
	h.send(c, &Frame{Msg: msgMemPoolReq})
}

func (h *Handler) handlePeers(peers []string) {
	h.mu.Lock()
	for _, p := range peers {
		h.knownPeers[p] = true
	}
	h.mu.Unlock()
}

func (h *Handler) handleNewTx(c *p2p.Connection, wt *tx.WireTransaction) {
	t, err := tx.FromWire(wt)
	if err != nil {
		h.log.WithError(err).Warn("dropping malformed tx frame")
		return
	}
	h.engine.AddTransaction(t, c.ID())
}

func (h *Handler) handleNewBlock(c *p2p.Connection, wb *block.WireBlock) {
	b, err := block.FromWire(wb)
	if err != nil {
		h.log.WithError(err).Warn("dropping malformed block frame")
		return
	}
	if b.ComputedHash() != b.Hash {
		h.log.WithField("peer", c.ID()).Warn("dropping block with mismatched hash")
		return
	}
	priorHeight := h.engine.Height()
	if h.engine.AddBlock(b, false) {
		h.BroadcastBlock(b, c.ID())
	}
	h.engine.NoteCatchUpStall(priorHeight)
	h.maybeRequestCatchUp(c, c.BlockHeight())
}

func (h *Handler) handleGetBlocks(c *p2p.Connection, window []int64) {
	if len(window) != 2 {
		return
	}
	from, to := window[0], window[1]
	var wire []*block.WireBlock
	for height := from + 1; height <= to; height++ {
		b, err := h.engine.BlockAt(height)
		if err != nil {
			break
		}
		w, err := b.Wire()
		if err != nil {
			continue
		}
		wire = append(wire, w)
	}
	if wire != nil {
		h.send(c, &Frame{Blocks: wire})
	}
}

func (h *Handler) handleBlocks(c *p2p.Connection, wire []*block.WireBlock) {
	priorHeight := h.engine.Height()
	for _, w := range wire {
		b, err := block.FromWire(w)
		if err != nil {
			h.log.WithError(err).Warn("dropping malformed catch-up block")
			continue
		}
		if b.ComputedHash() != b.Hash {
			continue
		}
		if !h.engine.AddBlock(b, false) {
			break
		}
	}
	h.engine.NoteCatchUpStall(priorHeight)
	h.maybeRequestCatchUp(c, c.BlockHeight())
}

func (h *Handler) handleBlockHeight(c *p2p.Connection, height int64) {
	c.SetBlockHeight(height)
	h.maybeRequestCatchUp(c, height)
}

func (h *Handler) handleMemPoolReq(c *p2p.Connection) {
	var wire []*tx.WireTransaction
	for _, t := range h.engine.PoolSnapshot() {
		w, err := t.Wire()
		if err != nil {
			continue
		}
		wire = append(wire, w)
	}
	h.send(c, &Frame{MemPool: wire})
}

func (h *Handler) handleMemPool(c *p2p.Connection, wire []*tx.WireTransaction) {
	for _, w := range wire {
		t, err := tx.FromWire(w)
		if err != nil {
			continue
		}
		h.engine.AddTransaction(t, c.ID())
	}
}

// maybeRequestCatchUp asks peerHeight's owner for the next catch-up
// window if our chain is behind, per §4.5's bounded-retry rule.
func (h *Handler) maybeRequestCatchUp(c *p2p.Connection, peerHeight int64) {
	from, to, ok := h.engine.RequestCatchUpWindow(peerHeight)
	if !ok {
		return
	}
	h.send(c, &Frame{GetBlocks: []int64{from, to}})
}

// BroadcastBlock announces b to every connected peer except exclude
// (typically the peer it was received from, or "" for a locally mined
// block).
func (h *Handler) BroadcastBlock(b *block.Block, exclude string) {
	w, err := b.Wire()
	if err != nil {
		h.log.WithError(err).Error("failed to encode block for broadcast")
		return
	}
	h.broadcast(&Frame{NewBlock: w}, exclude)
}

// BroadcastTx announces t to every connected peer except exclude.
func (h *Handler) BroadcastTx(t *tx.Transaction, exclude string) {
	w, err := t.Wire()
	if err != nil {
		h.log.WithError(err).Error("failed to encode transaction for broadcast")
		return
	}
	h.broadcast(&Frame{NewTx: w}, exclude)
}

func (h *Handler) broadcast(f *Frame, exclude string) {
	for _, c := range h.allPeers() {
		if c.ID() == exclude {
			continue
		}
		h.send(c, f)
	}
}

func (h *Handler) allPeers() []*p2p.Connection {
	peers := append([]*p2p.Connection{}, h.server.Inbound()...)
	return append(peers, h.server.Outbound()...)
}

func (h *Handler) send(c *p2p.Connection, f *Frame) {
	if f.Time == "" {
		*f = *withEnvelope(f, h.nodeID)
	}
	raw, err := f.encode()
	if err != nil {
		h.log.WithError(err).Error("failed to encode frame")
		return
	}
	if err := c.Send(string(raw)); err != nil {
		h.log.WithError(err).WithField("peer", c.ID()).Warn("send failed")
	}
}

func withEnvelope(f *Frame, snid string) *Frame {
	env := newFrame(snid)
	env.Msg, env.Version, env.Peers = f.Msg, f.Version, f.Peers
	env.NewTx, env.NewBlock = f.NewTx, f.NewBlock
	env.GetBlocks, env.Blocks = f.GetBlocks, f.Blocks
	env.BlockHeight, env.MemPool = f.BlockHeight, f.MemPool
	return env
}
