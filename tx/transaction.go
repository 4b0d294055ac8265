// Package tx implements the three kinds of transaction that move value
// through the ledger: transfers of empty tokens, serialization of a
// ballot stub to a voter, and casting of an answered ballot back to a
// poll.
package tx

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/votechain/votechain/crypto"
)

// Kind identifies what an input/output/transaction carries.
type Kind int

const (
	KindTransfer  Kind = iota // empty, fungible token
	KindSerialize             // unanswered ballot stub
	KindCast                  // answered, signed ballot
)

// CoinbaseFrom is the sentinel "from" address used by mining-reward
// transactions; it never corresponds to a real keypair.
const CoinbaseFrom = "blockchain"

// Output is a single value assigned to a recipient by a transaction.
type Output struct {
	TxID      string
	Index     int
	Value     Amount
	Recipient string
	Sig       string
	Kind      Kind
}

// Input references the output it spends, carrying a copy of that
// output's value so verification doesn't need a second lookup.
type Input struct {
	TxID      string
	Index     int
	Value     Amount
	Recipient string
	Sig       string
	Kind      Kind
}

// Transaction moves value from one address into one or more outputs.
type Transaction struct {
	TxID        string
	Timestamp   int64
	Kind        Kind
	FromAddress string
	ToAddress   []string
	Inputs      []Input
	Outputs     []Output
	Value       Amount
}

// New creates an unsigned, input-less transaction. Call SelectInputs to
// populate its inputs and outputs, then SignOutputs.
func New(kind Kind, value Amount, from, to string, timestamp int64) *Transaction {
	t := &Transaction{
		Timestamp:   timestamp,
		Kind:        kind,
		FromAddress: from,
		ToAddress:   []string{to},
		Value:       value,
	}
	t.TxID = t.generateID()
	return t
}

// NewCoinbase creates the reward transaction that pays a miner for a
// newly mined block.
func NewCoinbase(to string, reward int64, timestamp int64) *Transaction {
	return New(KindTransfer, EmptyAmount(reward), CoinbaseFrom, to, timestamp)
}

func (t *Transaction) generateID() string {
	sum := sha256.Sum256([]byte(t.CoreData()))
	return hex.EncodeToString(sum[:])[:32]
}

// CoreData is the data hashed to produce the transaction id.
func (t *Transaction) CoreData() string {
	return fmt.Sprintf("%d%d%s%v", t.Timestamp, t.Kind, t.FromAddress, t.ToAddress)
}

// UTXOSource is how a transaction finds spendable outputs for an address.
// The chain engine implements this over its store plus its pending pool.
type UTXOSource interface {
	UTXOsOfKind(address string, kind Kind) ([]Output, error)
}

// SelectInputs populates Inputs (and, through it, Outputs) for the
// transaction. Coinbase transactions get a synthetic reward input.
// Transfers and serializations select the smallest-value empty-token
// UTXOs that cover the target amount, using a deterministic bottom-up
// merge sort so the same UTXO set always produces the same input
// selection. Casts consume the single serialized-token UTXO matching the
// token being answered.
func (t *Transaction) SelectInputs(src UTXOSource) error {
	if t.FromAddress == CoinbaseFrom {
		t.Inputs = []Input{{TxID: t.TxID, Index: 0, Value: RewardAmount(), Recipient: CoinbaseFrom, Kind: KindTransfer}}
		t.createOutputs()
		return nil
	}

	if t.Kind != KindCast {
		return t.selectFungibleInputs(src)
	}
	return t.selectCastInput(src)
}

func (t *Transaction) selectFungibleInputs(src UTXOSource) error {
	utxos, err := src.UTXOsOfKind(t.FromAddress, KindTransfer)
	if err != nil {
		return fmt.Errorf("select inputs: %w", err)
	}
	if len(utxos) == 0 {
		return errors.New("select inputs: no spendable tokens")
	}

	values := make([]int64, len(utxos))
	for i, u := range utxos {
		values[i] = *u.Value.Empty
	}
	order := mergeSortIndices(values)

	var target int64 = 1
	if t.Kind == KindTransfer {
		target = *t.Value.Empty
	}

	var total int64
	var chosen []Output
	for _, idx := range order {
		if total >= target {
			break
		}
		total += values[idx]
		chosen = append(chosen, utxos[idx])
	}
	if total < target {
		return errors.New("select inputs: insufficient funds")
	}

	for _, o := range chosen {
		t.Inputs = append(t.Inputs, Input{TxID: o.TxID, Index: o.Index, Value: o.Value, Recipient: o.Recipient, Sig: o.Sig, Kind: o.Kind})
	}
	t.createOutputs()
	return nil
}

func (t *Transaction) selectCastInput(src UTXOSource) error {
	utxos, err := src.UTXOsOfKind(t.FromAddress, KindSerialize)
	if err != nil {
		return fmt.Errorf("select inputs: %w", err)
	}
	for _, o := range utxos {
		if o.Value.Token == nil {
			continue
		}
		if o.Value.Token.TKID == t.Value.Token.TKID &&
			o.Value.Token.VoterAddress == t.FromAddress &&
			o.Value.Token.PollAddress == t.ToAddress[0] {
			t.Inputs = []Input{{TxID: o.TxID, Index: o.Index, Value: o.Value, Recipient: o.Recipient, Sig: o.Sig, Kind: o.Kind}}
			t.createOutputs()
			return nil
		}
	}
	return errors.New("select inputs: cannot use given utxo")
}

// mergeSortIndices returns the indices of values in ascending order,
// computed with an explicit bottom-up merge sort rather than sort.Slice.
// The ordering is a designed property (spend the smallest inputs first,
// stably), not an implementation detail, so the algorithm that produces
// it stays explicit.
func mergeSortIndices(values []int64) []int {
	runs := make([][]int, len(values))
	for i := range values {
		runs[i] = []int{i}
	}
	for len(runs) > 1 {
		var next [][]int
		i := 0
		for i+1 < len(runs) {
			next = append(next, mergeRuns(runs[i], runs[i+1], values))
			i += 2
		}
		if i < len(runs) {
			next = append(next, runs[i])
		}
		runs = next
	}
	if len(runs) == 0 {
		return nil
	}
	return runs[0]
}

func mergeRuns(a, b []int, values []int64) []int {
	merged := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if values[a[i]] <= values[b[j]] {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return merged
}

// inputTotal sums the input side: empty tokens at face value, anything
// else (reward, serialized/cast tokens) counted as one.
func (t *Transaction) inputTotal() int64 {
	var total int64
	for _, in := range t.Inputs {
		if in.Kind == KindTransfer && !in.Value.Reward {
			total += *in.Value.Empty
			continue
		}
		total++
	}
	return total
}

// outputTotal sums the output side; when includeChange is false, the
// output returning to FromAddress (the change output) is excluded.
func (t *Transaction) outputTotal(includeChange bool) int64 {
	var total int64
	for _, o := range t.Outputs {
		var v int64 = 1
		if o.Kind == KindTransfer {
			v = *o.Value.Empty
		}
		if includeChange || o.Recipient != t.FromAddress {
			total += v
		}
	}
	return total
}

func (t *Transaction) createOutputs() {
	if t.FromAddress == CoinbaseFrom {
		t.Outputs = []Output{{TxID: t.TxID, Index: 0, Value: t.Value, Recipient: t.ToAddress[0], Kind: t.Kind}}
		return
	}

	switch t.Kind {
	case KindTransfer:
		t.Outputs = []Output{{TxID: t.TxID, Index: 0, Value: t.Value, Recipient: t.ToAddress[0], Kind: KindTransfer}}
		if change := t.inputTotal() - *t.Value.Empty; change > 0 {
			t.Outputs = append(t.Outputs, Output{TxID: t.TxID, Index: 1, Value: EmptyAmount(change), Recipient: t.FromAddress, Kind: KindTransfer})
			t.ToAddress = append(t.ToAddress, t.FromAddress)
		}
	case KindSerialize:
		t.Outputs = []Output{{TxID: t.TxID, Index: 0, Value: t.Value, Recipient: t.ToAddress[0], Kind: KindSerialize}}
		if change := t.inputTotal() - 1; change > 0 {
			t.Outputs = append(t.Outputs, Output{TxID: t.TxID, Index: 1, Value: EmptyAmount(change), Recipient: t.FromAddress, Kind: KindTransfer})
			t.ToAddress = append(t.ToAddress, t.FromAddress)
		}
	case KindCast:
		t.Outputs = []Output{{TxID: t.TxID, Index: 0, Value: t.Value, Recipient: t.ToAddress[0], Kind: KindCast}}
	}
}

// AddOutput lets a second output be carved off the same input set as the
// transaction's first output, e.g. splitting 10 empty tokens into a
// transfer of 8 plus a separate output of 2. Only same-kind extensions
// are allowed; the change output (always index 1 while it exists) is
// shrunk or dropped to make room.
func (t *Transaction) AddOutput(amount int64, recipient string, kind Kind) error {
	switch {
	case kind == KindTransfer && t.Kind == KindTransfer:
		want := *t.Value.Empty + amount
		if t.inputTotal() < want {
			return errors.New("add output: insufficient funds")
		}
		t.shrinkOrDropChange(t.inputTotal() - want)
		t.appendOutput(amount, recipient, KindTransfer)
		return nil
	case kind == KindSerialize && t.Kind == KindSerialize:
		if t.outputTotal(false) > t.inputTotal()-1 {
			return errors.New("add output: no room for another serialized output")
		}
		t.shrinkOrDropChange(t.inputTotal() - t.outputTotal(false) - 1)
		t.appendOutput(amount, recipient, KindSerialize)
		return nil
	default:
		return errors.New("add output: incompatible kind")
	}
}

func (t *Transaction) shrinkOrDropChange(change int64) {
	if len(t.Outputs) < 2 {
		return
	}
	if change > 0 {
		t.Outputs[1].Value = EmptyAmount(change)
		return
	}
	t.Outputs = append(t.Outputs[:1], t.Outputs[2:]...)
	t.removeToAddress(t.FromAddress)
}

func (t *Transaction) appendOutput(amount int64, recipient string, kind Kind) {
	idx := len(t.Outputs)
	t.Outputs = append(t.Outputs, Output{TxID: t.TxID, Index: idx, Value: EmptyAmount(amount), Recipient: recipient, Kind: kind})
	t.ToAddress = append(t.ToAddress, recipient)
}

func (t *Transaction) removeToAddress(addr string) {
	for i, a := range t.ToAddress {
		if a == addr {
			t.ToAddress = append(t.ToAddress[:i], t.ToAddress[i+1:]...)
			return
		}
	}
}

func signingString(o Output) string {
	return o.Value.String() + o.Recipient + o.TxID + strconv.Itoa(o.Index)
}

// SignOutputs signs every output with signer, which must own FromAddress
// (or, for a poll's payout address, the derived key for that poll).
func (t *Transaction) SignOutputs(signer crypto.Signer) error {
	for i := range t.Outputs {
		sig, err := signer.Sign([]byte(signingString(t.Outputs[i])))
		if err != nil {
			return fmt.Errorf("sign outputs: %w", err)
		}
		t.Outputs[i].Sig = sig
	}
	return nil
}

// Verify checks a transaction's invariants and every output's signature.
// reward is the chain's current mining reward, needed to validate
// coinbase transactions.
func (t *Transaction) Verify(reward int64) bool {
	if len(t.Inputs) == 0 || len(t.Outputs) == 0 {
		return false
	}

	if t.FromAddress == CoinbaseFrom {
		return len(t.Inputs) == 1 && t.Inputs[0].Value.Reward &&
			t.Value.Empty != nil && *t.Value.Empty == reward
	}

	switch t.Kind {
	case KindTransfer:
		if *t.Value.Empty > t.outputTotal(false) || t.outputTotal(true) != t.inputTotal() {
			return false
		}
	case KindSerialize:
		for _, o := range t.Outputs {
			if o.Kind == KindSerialize && o.Value.Token != nil && o.Value.Token.VoterAddress != o.Recipient {
				return false
			}
		}
	case KindCast:
		if t.Value.Token == nil || !t.Value.Token.Verify() {
			return false
		}
	}

	for _, o := range t.Outputs {
		if !crypto.Verify(t.FromAddress, []byte(signingString(o)), o.Sig) {
			return false
		}
	}
	return true
}

// SortInOut orders inputs by (txid, index) and outputs by index, so a
// transaction hashes and signs the same way regardless of construction
// order.
func (t *Transaction) SortInOut() {
	sort.SliceStable(t.Inputs, func(i, j int) bool {
		if t.Inputs[i].TxID != t.Inputs[j].TxID {
			return t.Inputs[i].TxID < t.Inputs[j].TxID
		}
		return t.Inputs[i].Index < t.Inputs[j].Index
	})
	sort.SliceStable(t.Outputs, func(i, j int) bool {
		return t.Outputs[i].Index < t.Outputs[j].Index
	})
}
