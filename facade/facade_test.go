package facade

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/votechain/votechain/block"
	"github.com/votechain/votechain/gossip"
	"github.com/votechain/votechain/keystore"
	"github.com/votechain/votechain/p2p"
	"github.com/votechain/votechain/tx"
)

// fakeEngine is an in-memory stand-in satisfying both facade.Engine and
// gossip.Engine, so it can drive a real p2p.Server + gossip.Handler pair
// without a sqlite-backed chain.Engine.
type fakeEngine struct {
	height       int64
	blocksMined  int64
	lastHash     string
	addedTxs     []*tx.Transaction
	miningAddr   string
	miningOn     bool
	onBlockAdded func(*block.Block, bool)
	onTxAdded    func(*tx.Transaction, string)
}

func (f *fakeEngine) Height() int64        { return f.height }
func (f *fakeEngine) LastBlockHash() string { return f.lastHash }
func (f *fakeEngine) BlocksMined() int64    { return f.blocksMined }
func (f *fakeEngine) AddTransaction(t *tx.Transaction, from string) bool {
	f.addedTxs = append(f.addedTxs, t)
	if f.onTxAdded != nil {
		f.onTxAdded(t, from)
	}
	return true
}
func (f *fakeEngine) SpendableEmpty(address string) (int64, error)        { return 42, nil }
func (f *fakeEngine) PendingBallots(address string) ([]tx.Output, error)  { return nil, nil }
func (f *fakeEngine) SubmittedBallots(address string) (int, error)        { return 1, nil }
func (f *fakeEngine) ConfirmedBallots(address string) (int, error)        { return 2, nil }
func (f *fakeEngine) EnableMining(minerAddress string) {
	f.miningOn = true
	f.miningAddr = minerAddress
}
func (f *fakeEngine) DisableMining() { f.miningOn = false }
func (f *fakeEngine) OnBlockAdded(fn func(*block.Block, bool)) { f.onBlockAdded = fn }
func (f *fakeEngine) OnTransactionAdded(fn func(*tx.Transaction, string)) { f.onTxAdded = fn }

func (f *fakeEngine) AddBlock(b *block.Block, minedLocally bool) bool {
	f.height = b.Height
	f.lastHash = b.Hash
	if minedLocally {
		f.blocksMined++
	}
	if f.onBlockAdded != nil {
		f.onBlockAdded(b, minedLocally)
	}
	return true
}
func (f *fakeEngine) BlockAt(height int64) (*block.Block, error) {
	return nil, fmt.Errorf("no block at height %d", height)
}
func (f *fakeEngine) PoolSnapshot() []*tx.Transaction { return nil }
func (f *fakeEngine) RequestCatchUpWindow(peerHeight int64) (int64, int64, bool) {
	return 0, 0, false
}
func (f *fakeEngine) NoteCatchUpStall(priorHeight int64) {}

func newFacadeUnderTest(t *testing.T) (*Facade, *fakeEngine) {
	t.Helper()
	keys, err := keystore.Open(filepath.Join(t.TempDir(), "keys.gob"))
	require.NoError(t, err)
	addr, err := keys.NewKey()
	require.NoError(t, err)
	signer, ok := keys.Signer(addr)
	require.True(t, ok)

	engine := &fakeEngine{}
	srv := p2p.NewServer("f0000001")
	gh := gossip.New("f0000001", engine, srv)
	srv.OnConnected = gh.HandleConnected
	srv.OnMessage = gh.HandleFrame
	srv.OnDisconnected = gh.HandleDisconnected

	return New(engine, srv, gh, signer, keys), engine
}

func TestBlockAddedEmitsMinedOrAddedEvent(t *testing.T) {
	fac, engine := newFacadeUnderTest(t)

	var got []Event
	fac.Subscribe(func(e Event) { got = append(got, e) })

	b := block.Genesis(1)
	engine.AddBlock(b, true)
	require.Len(t, got, 1)
	require.Equal(t, EventBlockMined, got[0].Kind)

	b2 := block.Genesis(1)
	engine.AddBlock(b2, false)
	require.Len(t, got, 2)
	require.Equal(t, EventBlockAdded, got[1].Kind)
}

func TestSetRootPeerRejectedWhileConnected(t *testing.T) {
	fac, _ := newFacadeUnderTest(t)

	require.NoError(t, fac.SetRootPeer("127.0.0.1:1"))

	fac.mu.Lock()
	fac.status = Connected
	fac.mu.Unlock()

	err := fac.SetRootPeer("127.0.0.1:2")
	require.Error(t, err)
	require.Contains(t, err.Error(), "whilst connected")
}

func TestConnectWithNoRootPeerFails(t *testing.T) {
	fac, _ := newFacadeUnderTest(t)
	err := fac.Connect()
	require.Error(t, err)
	require.Equal(t, NotConnected, fac.ConnectionStatus())
}

func TestConnectDialsConfiguredRootPeer(t *testing.T) {
	listenerSrv := p2p.NewServer("f0000002")
	addr := fmt.Sprintf("127.0.0.1:%d", 57100+(time.Now().Nanosecond()%400))
	require.NoError(t, listenerSrv.Listen(addr))
	defer listenerSrv.Shutdown()
	time.Sleep(20 * time.Millisecond)

	fac, _ := newFacadeUnderTest(t)
	require.NoError(t, fac.SetRootPeer(addr))
	require.NoError(t, fac.Connect())
}

func TestBalancesAggregatesEngineCounts(t *testing.T) {
	fac, _ := newFacadeUnderTest(t)
	balances, err := fac.Balances("some-address")
	require.NoError(t, err)
	require.Equal(t, Balances{Spendable: 42, Pending: 0, Submitted: 1, Confirmed: 2}, balances)
}

// fundedUTXOSource answers every address with one spendable empty-token
// output, standing in for a poll address that's already been funded by a
// prior transfer (§4.3's "fund, then serialize" flow).
type fundedUTXOSource struct{}

func (fundedUTXOSource) UTXOsOfKind(address string, kind tx.Kind) ([]tx.Output, error) {
	return []tx.Output{{TxID: "seed", Index: 0, Value: tx.EmptyAmount(100), Recipient: address, Kind: kind}}, nil
}

func TestCreatePollDerivesDistinctAddressPerCall(t *testing.T) {
	fac, engine := newFacadeUnderTest(t)

	require.NoError(t, fac.CreatePoll(fundedUTXOSource{}, "voter-1", "q?", []string{"a", "b"}))
	require.NoError(t, fac.CreatePoll(fundedUTXOSource{}, "voter-2", "q2?", []string{"c", "d"}))

	require.Len(t, engine.addedTxs, 2)
	require.NotEqual(t, engine.addedTxs[0].FromAddress, engine.addedTxs[1].FromAddress,
		"each poll must mint from a freshly derived address, never the owner's own")
	require.NotEqual(t, fac.signer.Address(), engine.addedTxs[0].FromAddress,
		"poll address must never be the owner's own master address")
}

func TestCreatePollFailsWithoutKeystore(t *testing.T) {
	fac, _ := newFacadeUnderTest(t)
	fac.keys = nil
	err := fac.CreatePoll(fundedUTXOSource{}, "voter-1", "q?", []string{"a", "b"})
	require.Error(t, err)
}
