package gossip

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/votechain/votechain/block"
	"github.com/votechain/votechain/p2p"
	"github.com/votechain/votechain/tx"
)

// fakeEngine is an in-memory stand-in for chain.Engine, enough to
// exercise the handshake, catch-up and broadcast paths without a real
// store. Unlike a engine that always accepts, it enforces the same
// height+1/previous-hash link chain.Engine.AddBlock does, so tests here
// actually exercise the catch-up window's off-by-one rather than
// vacuously passing.
type fakeEngine struct {
	mu          sync.Mutex
	tip         *block.Block
	blocks      map[int64]*block.Block
	pool        []*tx.Transaction
	addedBlocks []*block.Block
	addedTxs    []*tx.Transaction
}

// buildChain returns a deterministic, genuinely hash-linked chain of
// blocks 0..n (genesis through height n), each difficulty 1.
func buildChain(n int64) []*block.Block {
	chain := make([]*block.Block, 0, n+1)
	tip := block.Genesis(1)
	chain = append(chain, tip)
	for height := int64(1); height <= n; height++ {
		tip = block.New(tip.Hash, nil, 1, height, height)
		chain = append(chain, tip)
	}
	return chain
}

func newFakeEngine(tip *block.Block, blocks map[int64]*block.Block) *fakeEngine {
	if blocks == nil {
		blocks = make(map[int64]*block.Block)
	}
	blocks[tip.Height] = tip
	return &fakeEngine{tip: tip, blocks: blocks}
}

func (f *fakeEngine) Height() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip.Height
}
func (f *fakeEngine) AddTransaction(t *tx.Transaction, from string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addedTxs = append(f.addedTxs, t)
	return true
}

// AddBlock rejects anything that isn't exactly the next block on top of
// the current tip, matching chain.Engine.AddBlock's height+1/previous-
// hash check.
func (f *fakeEngine) AddBlock(b *block.Block, minedLocally bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.Height != f.tip.Height+1 || b.PreviousHash != f.tip.Hash {
		return false
	}
	f.addedBlocks = append(f.addedBlocks, b)
	f.blocks[b.Height] = b
	f.tip = b
	return true
}
func (f *fakeEngine) BlockAt(height int64) (*block.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blocks[height]
	if !ok {
		return nil, fmt.Errorf("no block at height %d", height)
	}
	return b, nil
}
func (f *fakeEngine) PoolSnapshot() []*tx.Transaction { return f.pool }
func (f *fakeEngine) RequestCatchUpWindow(peerHeight int64) (int64, int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if peerHeight <= f.tip.Height {
		return 0, 0, false
	}
	return f.tip.Height, f.tip.Height + 8, true
}
func (f *fakeEngine) NoteCatchUpStall(priorHeight int64) {}

func newWiredPair(t *testing.T, chainA, chainB []*block.Block) (*p2p.Server, *Handler, *fakeEngine, *p2p.Server, *Handler, *fakeEngine, string) {
	t.Helper()
	serverA := p2p.NewServer("a0000000")
	serverB := p2p.NewServer("b0000000")

	blocksA := make(map[int64]*block.Block)
	for _, b := range chainA {
		blocksA[b.Height] = b
	}
	blocksB := make(map[int64]*block.Block)
	for _, b := range chainB {
		blocksB[b.Height] = b
	}
	engineA := newFakeEngine(chainA[len(chainA)-1], blocksA)
	engineB := newFakeEngine(chainB[len(chainB)-1], blocksB)
	handlerA := New("a0000000", engineA, serverA)
	handlerB := New("b0000000", engineB, serverB)

	serverA.OnConnected = handlerA.HandleConnected
	serverA.OnMessage = handlerA.HandleFrame
	serverA.OnDisconnected = handlerA.HandleDisconnected
	serverB.OnConnected = handlerB.HandleConnected
	serverB.OnMessage = handlerB.HandleFrame
	serverB.OnDisconnected = handlerB.HandleDisconnected

	addr := fmt.Sprintf("127.0.0.1:%d", 56100+(time.Now().Nanosecond()%500))
	require.NoError(t, serverA.Listen(addr))
	time.Sleep(20 * time.Millisecond)

	return serverA, handlerA, engineA, serverB, handlerB, engineB, addr
}

func TestVersionHandshakeExchangesHeight(t *testing.T) {
	serverA, _, _, serverB, _, _, addr := newWiredPair(t, buildChain(5), buildChain(0))
	defer serverA.Shutdown()
	defer serverB.Shutdown()

	outbound, err := serverB.Dial(addr)
	require.NoError(t, err)
	require.NoError(t, outbound.Send(mustFrame(t, &Frame{Msg: msgVersionReq, Version: []int64{1, 1, 0}, SNID: "b0000000", Time: "1"})))

	require.Eventually(t, func() bool {
		return outbound.BlockHeight() == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastBlockReachesOtherPeerNotExcluded(t *testing.T) {
	chainA := buildChain(0)
	chainB := buildChain(0)
	serverA, handlerA, _, serverB, _, engineB, addr := newWiredPair(t, chainA, chainB)
	defer serverA.Shutdown()
	defer serverB.Shutdown()

	_, err := serverB.Dial(addr)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	next := block.New(chainA[0].Hash, nil, 1, 1, 1)
	handlerA.BroadcastBlock(next, "")

	require.Eventually(t, func() bool {
		return len(engineB.addedBlocks) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(1), engineB.Height())
}

// TestCatchUpAdvancesPeerToSenderHeight is a regression test for the
// handleGetBlocks off-by-one: it drives a real handshake between a peer
// at height 3 and a peer at height 0, and requires the lagging peer to
// actually reach height 3. Before the fix, the responder served the
// redundant block at the requester's own tip height first; that block's
// PreviousHash never matches the requester's tip (it points at the
// tip's predecessor), so the real chain.Engine-shaped AddBlock here
// rejects it and handleBlocks aborts the whole batch on the first
// block, so catch-up could never advance a single block.
func TestCatchUpAdvancesPeerToSenderHeight(t *testing.T) {
	serverA, _, engineA, serverB, _, engineB, addr := newWiredPair(t, buildChain(3), buildChain(0))
	defer serverA.Shutdown()
	defer serverB.Shutdown()

	_, err := serverB.Dial(addr)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return engineB.Height() == engineA.Height()
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, engineB.addedBlocks, 3)
}

func mustFrame(t *testing.T, f *Frame) string {
	t.Helper()
	raw, err := f.encode()
	require.NoError(t, err)
	return string(raw)
}
