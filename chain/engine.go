// Package chain wires the store, the mempool and the mining worker into
// a single ledger engine: the component that decides what gets accepted,
// what gets mined next, and what gets told to peers.
package chain

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/votechain/votechain/block"
	"github.com/votechain/votechain/mining"
	"github.com/votechain/votechain/store"
	"github.com/votechain/votechain/tx"
)

const (
	maxTailLength    = 16
	maxPoolPerBlock  = 64
	maxCatchUpStalls = 4
	catchUpWindow    = 8
)

// Config controls a single engine instance.
type Config struct {
	DataPath     string
	Difficulty   int64
	MiningReward int64
}

// Notifier is how the engine tells the gossip layer to announce
// something to peers. The gossip package implements this.
type Notifier interface {
	BroadcastBlock(b *block.Block, exclude string)
	BroadcastTx(t *tx.Transaction, exclude string)
}

// Engine is the blockchain: in-memory tail, mempool and mining
// orchestration sitting on top of the persistent store.
type Engine struct {
	mu sync.Mutex

	store      *store.Store
	tail       []*block.Block
	pool       []*tx.Transaction
	height     int64
	difficulty int64
	reward     int64

	minerAddress  string
	miningEnabled bool
	worker        *mining.Worker
	blocksMined   int64
	catchUpTries  int

	notifier Notifier
	log      *logrus.Entry

	onBlockAdded func(*block.Block, bool)
	onTxAdded    func(*tx.Transaction, string)
}

// New opens the store at cfg.DataPath, seeds a genesis block if empty,
// and loads the in-memory tail.
func New(cfg Config, notifier Notifier) (*Engine, error) {
	st, err := store.Open(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}

	e := &Engine{
		store:      st,
		difficulty: cfg.Difficulty,
		reward:     cfg.MiningReward,
		notifier:   notifier,
		log:        logrus.WithField("component", "chain"),
	}

	height, err := st.Height()
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	if height < 0 {
		genesis := block.Genesis(int(cfg.Difficulty))
		if err := st.AddBlock(genesis); err != nil {
			return nil, fmt.Errorf("new engine: seed genesis: %w", err)
		}
		height = 0
	}
	e.height = height

	tail, err := st.RecentTail()
	if err != nil {
		return nil, fmt.Errorf("new engine: load tail: %w", err)
	}
	e.tail = tail

	return e, nil
}

// OnBlockAdded registers a callback fired whenever a block is accepted,
// local mining or not.
func (e *Engine) OnBlockAdded(fn func(b *block.Block, minedLocally bool)) {
	e.mu.Lock()
	e.onBlockAdded = fn
	e.mu.Unlock()
}

// OnTransactionAdded registers a callback fired whenever a transaction
// enters the mempool.
func (e *Engine) OnTransactionAdded(fn func(t *tx.Transaction, from string)) {
	e.mu.Lock()
	e.onTxAdded = fn
	e.mu.Unlock()
}

// Height returns the current chain height.
func (e *Engine) Height() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.height
}

// BlocksMined returns how many blocks this engine has mined locally.
func (e *Engine) BlocksMined() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocksMined
}

func (e *Engine) lastBlockLocked() *block.Block {
	if len(e.tail) == 0 {
		return nil
	}
	return e.tail[len(e.tail)-1]
}

// LastBlockHash returns the hash of the most recently accepted block.
func (e *Engine) LastBlockHash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b := e.lastBlockLocked(); b != nil {
		return b.Hash
	}
	return ""
}

// Tail returns a snapshot of the in-memory block window, oldest first.
func (e *Engine) Tail() []*block.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*block.Block, len(e.tail))
	copy(out, e.tail)
	return out
}

// BlockAt fetches a historical block from the store by height.
func (e *Engine) BlockAt(height int64) (*block.Block, error) {
	return e.store.BlockAt(height)
}

// UTXOsOfKind implements tx.UTXOSource over the store, filtering out any
// output already claimed by a pending mempool transaction so two pending
// transactions never race to spend the same input.
func (e *Engine) UTXOsOfKind(address string, kind tx.Kind) ([]tx.Output, error) {
	outs, err := e.store.UTXOs(address, kind)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	inUse := e.pendingInputsLocked()
	e.mu.Unlock()

	var available []tx.Output
	for _, o := range outs {
		if !inUse[inputKey(o.TxID, o.Index)] {
			available = append(available, o)
		}
	}
	return available, nil
}

func inputKey(txid string, index int) string {
	return fmt.Sprintf("%s:%d", txid, index)
}

func (e *Engine) pendingInputsLocked() map[string]bool {
	inUse := make(map[string]bool)
	for _, p := range e.pool {
		for _, in := range p.Inputs {
			inUse[inputKey(in.TxID, in.Index)] = true
		}
	}
	return inUse
}

// AddTransaction admits t into the mempool if it verifies, isn't already
// present, and doesn't double-spend an input another pending transaction
// already claims. from identifies the peer it arrived from (empty for
// locally submitted transactions) so it isn't echoed straight back.
func (e *Engine) AddTransaction(t *tx.Transaction, from string) bool {
	if !t.Verify(e.reward) {
		e.log.WithField("txid", t.TxID).Warn("transaction rejected: failed verification")
		return false
	}

	e.mu.Lock()
	for _, p := range e.pool {
		if p.TxID == t.TxID {
			e.mu.Unlock()
			return false
		}
	}
	inUse := e.pendingInputsLocked()
	for _, in := range t.Inputs {
		if inUse[inputKey(in.TxID, in.Index)] {
			e.mu.Unlock()
			e.log.WithField("txid", t.TxID).Warn("transaction rejected: double spend against pool")
			return false
		}
	}
	e.pool = append(e.pool, t)
	sort.SliceStable(e.pool, func(i, j int) bool { return e.pool[i].Timestamp < e.pool[j].Timestamp })
	onAdded := e.onTxAdded
	e.mu.Unlock()

	if onAdded != nil {
		onAdded(t, from)
	}
	if e.notifier != nil {
		e.notifier.BroadcastTx(t, from)
	}
	return true
}

// AddBlock validates and, if valid, commits b: checking its transactions,
// its link to the current tip, its declared height and its proof of
// work, then marking spent inputs, persisting, extending the tail, and
// pruning accepted transactions out of the mempool. minedLocally
// distinguishes a block this engine just finished mining from one
// received over the network.
func (e *Engine) AddBlock(b *block.Block, minedLocally bool) bool {
	if !b.ValidateTransactions(e.reward) {
		e.log.Warn("block rejected: invalid transaction")
		return false
	}
	if b.Hash != b.ComputedHash() {
		e.log.Warn("block rejected: hash does not match contents")
		return false
	}
	target := strings.Repeat("0", int(e.difficulty))
	if !strings.HasPrefix(b.Hash, target) || int64(b.Difficulty) < e.difficulty {
		e.log.Warn("block rejected: insufficient proof of work")
		return false
	}

	e.mu.Lock()
	last := e.lastBlockLocked()
	if last != nil {
		if b.PreviousHash != last.Hash {
			e.mu.Unlock()
			e.log.Warn("block rejected: does not extend the current tip")
			return false
		}
		if b.Height != e.height+1 {
			e.mu.Unlock()
			e.log.Warn("block rejected: unexpected height")
			return false
		}
	}

	if e.worker != nil {
		e.worker.Cancel()
		e.worker = nil
	}

	for _, t := range b.Transactions {
		for _, in := range t.Inputs {
			if in.Value.Reward {
				continue
			}
			if err := e.store.MarkSpent(in); err != nil {
				e.log.WithError(err).Error("failed to mark input spent")
			}
		}
	}

	if err := e.store.AddBlock(b); err != nil {
		e.log.WithError(err).Error("failed to persist block; keeping it in memory")
	}

	e.tail = append(e.tail, b)
	if len(e.tail) > maxTailLength {
		e.tail = e.tail[len(e.tail)-maxTailLength:]
	}
	e.removePoolTransactionsLocked(b.Transactions)
	e.height++
	if minedLocally {
		e.blocksMined++
	}

	enabled := e.miningEnabled
	onAdded := e.onBlockAdded
	e.mu.Unlock()

	if onAdded != nil {
		onAdded(b, minedLocally)
	}
	if enabled {
		e.startMining()
	}
	return true
}

func (e *Engine) removePoolTransactionsLocked(committed []*tx.Transaction) {
	included := make(map[string]bool, len(committed))
	for _, t := range committed {
		included[t.TxID] = true
	}
	var remaining []*tx.Transaction
	for _, p := range e.pool {
		if !included[p.TxID] {
			remaining = append(remaining, p)
		}
	}
	e.pool = remaining
}

func (e *Engine) poolSliceLocked(n int) []*tx.Transaction {
	if len(e.pool) <= n {
		out := make([]*tx.Transaction, len(e.pool))
		copy(out, e.pool)
		return out
	}
	out := make([]*tx.Transaction, n)
	copy(out, e.pool[:n])
	return out
}

// PoolSnapshot returns every transaction currently pending, for gossip
// mempool exchange.
func (e *Engine) PoolSnapshot() []*tx.Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*tx.Transaction, len(e.pool))
	copy(out, e.pool)
	return out
}

// EnableMining turns on continuous mining to minerAddress and starts the
// first attempt immediately.
func (e *Engine) EnableMining(minerAddress string) {
	e.mu.Lock()
	e.miningEnabled = true
	e.minerAddress = minerAddress
	e.mu.Unlock()
	e.startMining()
}

// DisableMining stops continuous mining and cancels any in-flight
// attempt.
func (e *Engine) DisableMining() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.miningEnabled = false
	if e.worker != nil {
		e.worker.Cancel()
		e.worker = nil
	}
}

func (e *Engine) startMining() {
	e.mu.Lock()
	if e.worker != nil {
		e.mu.Unlock()
		return
	}
	last := e.lastBlockLocked()
	if last == nil {
		e.mu.Unlock()
		e.log.Error("cannot mine without a tip block")
		return
	}
	txs := e.poolSliceLocked(maxPoolPerBlock)
	reward := e.reward
	minerAddr := e.minerAddress
	height := e.height
	difficulty := int(e.difficulty)
	previousHash := last.Hash
	e.mu.Unlock()

	coinbase := tx.NewCoinbase(minerAddr, reward, time.Now().UnixNano())
	if err := coinbase.SelectInputs(e); err != nil {
		e.log.WithError(err).Error("failed to build coinbase transaction")
		return
	}
	candidate := block.New(previousHash, append(txs, coinbase), difficulty, height+1, time.Now().UnixNano())

	e.mu.Lock()
	if e.worker != nil {
		e.mu.Unlock()
		return
	}
	e.worker = mining.NewWorker(candidate, e.finishedMining)
	worker := e.worker
	e.mu.Unlock()

	worker.Start()
}

func (e *Engine) finishedMining(b *block.Block) {
	e.mu.Lock()
	e.worker = nil
	e.mu.Unlock()

	if !e.AddBlock(b, true) {
		return
	}
	if e.notifier != nil {
		e.notifier.BroadcastBlock(b, "")
	}
}

// RequestCatchUpWindow, called when a peer claims a height greater than
// ours, returns the (from, from+8] window to ask that peer for --
// from is our current height, which the peer already knows we have, so
// the peer must serve from+1..to, never from itself. Bounded to at most
// four consecutive requests without our height advancing.
func (e *Engine) RequestCatchUpWindow(peerHeight int64) (from, to int64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if peerHeight <= e.height {
		e.catchUpTries = 0
		return 0, 0, false
	}
	if e.catchUpTries >= maxCatchUpStalls {
		return 0, 0, false
	}
	return e.height, e.height + catchUpWindow, true
}

// NoteCatchUpStall tracks whether a catch-up round actually advanced our
// height, so RequestCatchUpWindow can give up after repeated stalls.
func (e *Engine) NoteCatchUpStall(priorHeight int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.height == priorHeight {
		e.catchUpTries++
	} else {
		e.catchUpTries = 0
	}
}
