package tx

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/votechain/votechain/crypto"
	"github.com/votechain/votechain/token"
)

// fakeUTXOSource is an in-memory stand-in for the chain engine, used to
// exercise SelectInputs without a store.
type fakeUTXOSource struct {
	outputs []Output
}

func (f *fakeUTXOSource) UTXOsOfKind(address string, kind Kind) ([]Output, error) {
	var out []Output
	for _, o := range f.outputs {
		if o.Recipient == address && o.Kind == kind {
			out = append(out, o)
		}
	}
	return out, nil
}

func mustSigner(t *testing.T) (*crypto.LocalSigner, string) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := crypto.NewLocalSigner(priv)
	return s, s.Address()
}

func TestCoinbaseSelectInputsAndVerify(t *testing.T) {
	_, minerAddr := mustSigner(t)
	c := NewCoinbase(minerAddr, 10, 1)
	require.NoError(t, c.SelectInputs(&fakeUTXOSource{}))
	require.True(t, c.Verify(10))
	require.False(t, c.Verify(11))
}

func TestTransferSelectsSmallestInputsFirst(t *testing.T) {
	sender, senderAddr := mustSigner(t)
	_, recipientAddr := mustSigner(t)

	src := &fakeUTXOSource{outputs: []Output{
		{TxID: "a", Index: 0, Value: EmptyAmount(5), Recipient: senderAddr, Kind: KindTransfer},
		{TxID: "b", Index: 0, Value: EmptyAmount(3), Recipient: senderAddr, Kind: KindTransfer},
		{TxID: "c", Index: 0, Value: EmptyAmount(20), Recipient: senderAddr, Kind: KindTransfer},
	}}

	txn := New(KindTransfer, EmptyAmount(4), senderAddr, recipientAddr, 2)
	require.NoError(t, txn.SelectInputs(src))

	require.Len(t, txn.Inputs, 2)
	require.Equal(t, "b", txn.Inputs[0].TxID)
	require.Equal(t, "a", txn.Inputs[1].TxID)

	require.Len(t, txn.Outputs, 2)
	require.Equal(t, int64(4), *txn.Outputs[0].Value.Empty)
	require.Equal(t, int64(4), *txn.Outputs[1].Value.Empty) // 8 spent - 4 sent = 4 change

	require.NoError(t, txn.SignOutputs(sender))
	require.True(t, txn.Verify(10))
}

func TestTransferInsufficientFunds(t *testing.T) {
	_, senderAddr := mustSigner(t)
	_, recipientAddr := mustSigner(t)
	src := &fakeUTXOSource{outputs: []Output{
		{TxID: "a", Index: 0, Value: EmptyAmount(2), Recipient: senderAddr, Kind: KindTransfer},
	}}
	txn := New(KindTransfer, EmptyAmount(10), senderAddr, recipientAddr, 1)
	require.Error(t, txn.SelectInputs(src))
}

func TestSerializeThenCastRoundTrip(t *testing.T) {
	pollSigner, pollAddr := mustSigner(t)
	voterSigner, voterAddr := mustSigner(t)

	tk := token.New(pollAddr, voterAddr, "best language?", []string{"go", "rust"}, 5)
	src := &fakeUTXOSource{outputs: []Output{
		{TxID: "x", Index: 0, Value: EmptyAmount(1), Recipient: pollAddr, Kind: KindTransfer},
	}}

	serialize := New(KindSerialize, TokenAmount(tk), pollAddr, voterAddr, 6)
	require.NoError(t, serialize.SelectInputs(src))
	require.NoError(t, serialize.SignOutputs(pollSigner))
	require.True(t, serialize.Verify(10))

	require.NoError(t, tk.Cast(1, voterSigner))

	castSrc := &fakeUTXOSource{outputs: []Output{
		{TxID: serialize.TxID, Index: 0, Value: TokenAmount(tk), Recipient: voterAddr, Kind: KindSerialize},
	}}
	cast := New(KindCast, TokenAmount(tk), voterAddr, pollAddr, 7)
	require.NoError(t, cast.SelectInputs(castSrc))
	require.NoError(t, cast.SignOutputs(voterSigner))
	require.True(t, cast.Verify(10))
}

func TestWireRoundTrip(t *testing.T) {
	sender, senderAddr := mustSigner(t)
	_, recipientAddr := mustSigner(t)
	src := &fakeUTXOSource{outputs: []Output{
		{TxID: "a", Index: 0, Value: EmptyAmount(5), Recipient: senderAddr, Kind: KindTransfer},
	}}
	txn := New(KindTransfer, EmptyAmount(5), senderAddr, recipientAddr, 9)
	require.NoError(t, txn.SelectInputs(src))
	require.NoError(t, txn.SignOutputs(sender))

	w, err := txn.Wire()
	require.NoError(t, err)
	back, err := FromWire(w)
	require.NoError(t, err)

	require.Equal(t, txn.TxID, back.TxID)
	require.Equal(t, *txn.Outputs[0].Value.Empty, *back.Outputs[0].Value.Empty)
	require.True(t, back.Verify(10))
}
