// Package facade is the small surface the out-of-scope GUI collaborator
// drives: observable node state plus a handful of command methods. It
// owns no ledger logic itself; it wraps the chain engine, the gossip
// handler and the peer server and translates their callbacks into typed
// events instead of direct property writes (§9, "Shared mutable UI
// state").
package facade

import (
	"fmt"
	"sync"
	"time"

	"github.com/votechain/votechain/block"
	"github.com/votechain/votechain/crypto"
	"github.com/votechain/votechain/gossip"
	"github.com/votechain/votechain/keystore"
	"github.com/votechain/votechain/p2p"
	"github.com/votechain/votechain/token"
	"github.com/votechain/votechain/tx"
)

// ConnectionStatus mirrors §6's required status enum.
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
	NotConnected
)

// EventKind identifies what happened in a Event.
type EventKind int

const (
	EventBlockAdded EventKind = iota
	EventBlockMined
	EventTxAdded
	EventPeerConnected
	EventPeerDisconnected
	EventSent
	EventReceived
)

// Event is pushed to every subscriber; only the field matching Kind is
// populated.
type Event struct {
	Kind  EventKind
	Block *block.Block
	Tx    *tx.Transaction
	Peer  string
}

// Balances is the voter-facing wallet summary described in §6.
type Balances struct {
	Spendable int64
	Pending   int
	Submitted int
	Confirmed int
}

// Engine is the core driven by the facade: *chain.Engine satisfies it
// directly.
type Engine interface {
	Height() int64
	LastBlockHash() string
	BlocksMined() int64
	AddTransaction(t *tx.Transaction, from string) bool
	SpendableEmpty(address string) (int64, error)
	PendingBallots(address string) ([]tx.Output, error)
	SubmittedBallots(address string) (int, error)
	ConfirmedBallots(address string) (int, error)
	EnableMining(minerAddress string)
	DisableMining()
	OnBlockAdded(fn func(*block.Block, bool))
	OnTransactionAdded(fn func(*tx.Transaction, string))
}

// Facade is the node's command-and-observe surface.
type Facade struct {
	mu sync.Mutex

	engine   Engine
	server   *p2p.Server
	gossip   *gossip.Handler
	signer   *crypto.LocalSigner
	keys     *keystore.Store
	rootPeer string
	status   ConnectionStatus

	subscribers []func(Event)
}

// New wraps engine, server and gossip handler behind the facade, wiring
// their callbacks into typed events. keys is used only to derive the
// per-poll child keys CreatePoll needs; it may be nil for a facade that
// never mints polls.
func New(engine Engine, server *p2p.Server, gh *gossip.Handler, signer *crypto.LocalSigner, keys *keystore.Store) *Facade {
	f := &Facade{engine: engine, server: server, gossip: gh, signer: signer, keys: keys, status: Disconnected}

	engine.OnBlockAdded(func(b *block.Block, minedLocally bool) {
		kind := EventBlockAdded
		if minedLocally {
			kind = EventBlockMined
		}
		f.emit(Event{Kind: kind, Block: b})
	})
	engine.OnTransactionAdded(func(t *tx.Transaction, from string) {
		f.emit(Event{Kind: EventTxAdded, Tx: t})
	})
	gh.OnPeerConnected(func(peer string) {
		f.mu.Lock()
		f.status = Connected
		f.mu.Unlock()
		f.emit(Event{Kind: EventPeerConnected, Peer: peer})
	})
	gh.OnPeerDisconnected(func(peer string) {
		f.emit(Event{Kind: EventPeerDisconnected, Peer: peer})
	})

	return f
}

// Subscribe registers fn to receive every future event.
func (f *Facade) Subscribe(fn func(Event)) {
	f.mu.Lock()
	f.subscribers = append(f.subscribers, fn)
	f.mu.Unlock()
}

func (f *Facade) emit(e Event) {
	f.mu.Lock()
	subs := append([]func(Event){}, f.subscribers...)
	f.mu.Unlock()
	for _, sub := range subs {
		sub(e)
	}
}

// Height returns the current chain height.
func (f *Facade) Height() int64 { return f.engine.Height() }

// LastBlockHash returns the hash of the most recently accepted block.
func (f *Facade) LastBlockHash() string { return f.engine.LastBlockHash() }

// BlocksMined returns how many blocks this node has mined locally.
func (f *Facade) BlocksMined() int64 { return f.engine.BlocksMined() }

// ConnectionStatus reports this node's current peering status.
func (f *Facade) ConnectionStatus() ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// PeerSnapshot returns the current inbound and outbound peer address
// lists.
func (f *Facade) PeerSnapshot() (inbound, outbound []string) {
	for _, c := range f.server.Inbound() {
		inbound = append(inbound, c.RemoteAddr())
	}
	for _, c := range f.server.Outbound() {
		outbound = append(outbound, c.RemoteAddr())
	}
	return inbound, outbound
}

// Balances reports address's wallet-visible derived counts.
func (f *Facade) Balances(address string) (Balances, error) {
	spendable, err := f.engine.SpendableEmpty(address)
	if err != nil {
		return Balances{}, err
	}
	pending, err := f.engine.PendingBallots(address)
	if err != nil {
		return Balances{}, err
	}
	submitted, err := f.engine.SubmittedBallots(address)
	if err != nil {
		return Balances{}, err
	}
	confirmed, err := f.engine.ConfirmedBallots(address)
	if err != nil {
		return Balances{}, err
	}
	return Balances{Spendable: spendable, Pending: len(pending), Submitted: submitted, Confirmed: confirmed}, nil
}

// EnableMining turns on continuous mining to the facade's signer
// address.
func (f *Facade) EnableMining() {
	f.engine.EnableMining(f.signer.Address())
}

// DisableMining stops continuous mining.
func (f *Facade) DisableMining() {
	f.engine.DisableMining()
}

// SetRootPeer records the address this node dials for bootstrap. Per
// §7's user-visible failure strings, changing the root peer while
// already connected is rejected.
func (f *Facade) SetRootPeer(addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == Connected || f.status == Connecting {
		return fmt.Errorf("cannot change root node whilst connected")
	}
	f.rootPeer = addr
	return nil
}

// Connect dials the configured root peer.
func (f *Facade) Connect() error {
	f.mu.Lock()
	addr := f.rootPeer
	f.status = Connecting
	f.mu.Unlock()

	if addr == "" {
		f.mu.Lock()
		f.status = NotConnected
		f.mu.Unlock()
		return fmt.Errorf("no root peer configured")
	}

	c, err := f.server.Dial(addr)
	if err != nil {
		f.mu.Lock()
		f.status = Disconnected
		f.mu.Unlock()
		return err
	}
	f.gossip.HandleConnected(c)
	return nil
}

// SubmitTransaction builds, signs and admits a kind-0 or kind-1
// transaction from the facade's signer to recipient.
func (f *Facade) SubmitTransaction(src tx.UTXOSource, kind tx.Kind, recipient string, amount int64) error {
	t := tx.New(kind, tx.EmptyAmount(amount), f.signer.Address(), recipient, time.Now().UnixNano())
	if err := t.SelectInputs(src); err != nil {
		return fmt.Errorf("submit transaction: %w", err)
	}
	if err := t.SignOutputs(f.signer); err != nil {
		return fmt.Errorf("submit transaction: %w", err)
	}
	if !f.engine.AddTransaction(t, "") {
		return fmt.Errorf("transaction not valid")
	}
	return nil
}

// CreatePoll mints a serialized ballot for voterAddress. The poll's
// address is a freshly derived child of this node's signer key (§4.3),
// not the signer's own address, so that an owner's separate polls never
// share a from-address and can be told apart in the store.
func (f *Facade) CreatePoll(src tx.UTXOSource, voterAddress, question string, options []string) error {
	if f.keys == nil {
		return fmt.Errorf("create poll: no keystore configured for poll-key derivation")
	}
	pollSigner, err := f.keys.NextPollKey(f.signer.Address())
	if err != nil {
		return fmt.Errorf("create poll: %w", err)
	}

	tk := token.New(pollSigner.Address(), voterAddress, question, options, time.Now().UnixNano())
	t := tx.New(tx.KindSerialize, tx.TokenAmount(tk), pollSigner.Address(), voterAddress, time.Now().UnixNano())
	if err := t.SelectInputs(src); err != nil {
		return fmt.Errorf("create poll: %w", err)
	}
	if err := t.SignOutputs(pollSigner); err != nil {
		return fmt.Errorf("create poll: %w", err)
	}
	if !f.engine.AddTransaction(t, "") {
		return fmt.Errorf("transaction not valid")
	}
	return nil
}
