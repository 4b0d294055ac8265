package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/votechain/votechain/crypto"
	"github.com/votechain/votechain/token"
	"github.com/votechain/votechain/tx"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{DataPath: ":memory:", Difficulty: 1, MiningReward: 10}, nil)
	require.NoError(t, err)
	return e
}

func waitForMining(t *testing.T, e *Engine, targetHeight int64) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		if e.Height() >= targetHeight {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for height %d", targetHeight)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEngineStartsAtGenesis(t *testing.T) {
	e := newTestEngine(t)
	require.Equal(t, int64(0), e.Height())
	require.NotEmpty(t, e.LastBlockHash())
}

func TestEngineMinesAndAdvances(t *testing.T) {
	e := newTestEngine(t)
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.Address(priv.PubKey())

	e.EnableMining(addr)
	waitForMining(t, e, 1)
	e.DisableMining()

	require.Equal(t, int64(1), e.BlocksMined())
	balance, err := e.SpendableEmpty(addr)
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)
}

func TestEngineRejectsDoubleSpendInPool(t *testing.T) {
	e := newTestEngine(t)
	sender, err := crypto.GenerateKey()
	require.NoError(t, err)
	senderSigner := crypto.NewLocalSigner(sender)

	e.EnableMining(senderSigner.Address())
	waitForMining(t, e, 1)
	e.DisableMining()

	recvPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	recvAddr := crypto.Address(recvPriv.PubKey())

	t1 := tx.New(tx.KindTransfer, tx.EmptyAmount(5), senderSigner.Address(), recvAddr, time.Now().UnixNano())
	require.NoError(t, t1.SelectInputs(e))
	require.NoError(t, t1.SignOutputs(senderSigner))
	require.True(t, e.AddTransaction(t1, ""))

	t2 := tx.New(tx.KindTransfer, tx.EmptyAmount(5), senderSigner.Address(), recvAddr, time.Now().UnixNano())
	require.Error(t, t2.SelectInputs(e)) // the only utxo is already claimed by t1
}

func TestPollSerializeAndCastLifecycle(t *testing.T) {
	e := newTestEngine(t)
	pollPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pollSigner := crypto.NewLocalSigner(pollPriv)

	voterPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	voterSigner := crypto.NewLocalSigner(voterPriv)

	e.EnableMining(pollSigner.Address())
	waitForMining(t, e, 1)
	e.DisableMining()

	tk := token.New(pollSigner.Address(), voterSigner.Address(), "best test framework?", []string{"testify", "stdlib"}, time.Now().UnixNano())
	serialize := tx.New(tx.KindSerialize, tx.TokenAmount(tk), pollSigner.Address(), voterSigner.Address(), time.Now().UnixNano())
	require.NoError(t, serialize.SelectInputs(e))
	require.NoError(t, serialize.SignOutputs(pollSigner))
	require.True(t, e.AddTransaction(serialize, ""))

	e.EnableMining(pollSigner.Address())
	waitForMining(t, e, 2)
	e.DisableMining()

	count, err := e.SerializedVotes(pollSigner.Address())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, tk.Cast(0, voterSigner))
	cast := tx.New(tx.KindCast, tx.TokenAmount(tk), voterSigner.Address(), pollSigner.Address(), time.Now().UnixNano())
	require.NoError(t, cast.SelectInputs(e))
	require.NoError(t, cast.SignOutputs(voterSigner))
	require.True(t, e.AddTransaction(cast, ""))

	e.EnableMining(pollSigner.Address())
	waitForMining(t, e, 3)
	e.DisableMining()

	confirmed, err := e.ConfirmedBallots(voterSigner.Address())
	require.NoError(t, err)
	require.Equal(t, 1, confirmed)

	results, err := e.Results(pollSigner.Address())
	require.NoError(t, err)
	require.Equal(t, []string{"0"}, results)
}
