// Package block implements the unit of consensus: an ordered list of
// transactions, hashed together with a previous-block link and a nonce.
package block

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/votechain/votechain/tx"
)

// GenesisPreviousHash is the all-zero previous-hash link used only by the
// first block of a chain.
var GenesisPreviousHash = strings.Repeat("0", 64)

// GenesisNonce is the fixed, precomputed nonce baked into every chain's
// genesis block so every node derives the same hash for height 0.
const GenesisNonce int64 = 1670

// Block is an ordered batch of transactions proposed as the next link in
// the chain.
type Block struct {
	Timestamp    int64
	PreviousHash string
	Difficulty   int
	Nonce        int64
	Height       int64
	Transactions []*tx.Transaction
	Hash         string
}

// New builds a candidate block: transactions and their inputs/outputs are
// ordered deterministically before the hash is computed, so the same
// transaction set always produces the same hash regardless of the order
// they were appended.
func New(previousHash string, transactions []*tx.Transaction, difficulty int, height int64, timestamp int64) *Block {
	b := &Block{
		Timestamp:    timestamp,
		PreviousHash: previousHash,
		Difficulty:   difficulty,
		Height:       height,
		Transactions: transactions,
	}
	b.orderTransactions()
	b.Hash = b.ComputedHash()
	return b
}

// Genesis builds the chain's first block: timestamp 0, no transactions,
// the all-zero previous hash.
func Genesis(difficulty int) *Block {
	b := &Block{
		Timestamp:    0,
		PreviousHash: GenesisPreviousHash,
		Difficulty:   difficulty,
		Nonce:        GenesisNonce,
		Height:       0,
	}
	b.Hash = b.ComputedHash()
	return b
}

func (b *Block) orderTransactions() {
	sort.SliceStable(b.Transactions, func(i, j int) bool {
		return b.Transactions[i].Timestamp < b.Transactions[j].Timestamp
	})
	for _, t := range b.Transactions {
		t.SortInOut()
	}
}

// TransactionData concatenates every transaction's core data plus its
// inputs and outputs into the flat string that gets hashed. Building this
// as an explicit string (rather than hashing a map/struct) keeps the hash
// independent of field ordering in any intermediate representation.
func (b *Block) TransactionData() string {
	b.orderTransactions()
	var sb strings.Builder
	for _, t := range b.Transactions {
		sb.WriteString(t.CoreData())
		for _, in := range t.Inputs {
			sb.WriteString(in.TxID)
			sb.WriteString(in.Value.String())
			sb.WriteString(strconv.Itoa(in.Index))
			sb.WriteString(strconv.Itoa(int(in.Kind)))
			sb.WriteString(in.Recipient)
			sb.WriteString(in.Sig)
		}
		for _, o := range t.Outputs {
			sb.WriteString(o.TxID)
			sb.WriteString(o.Value.String())
			sb.WriteString(strconv.Itoa(o.Index))
			sb.WriteString(strconv.Itoa(int(o.Kind)))
			sb.WriteString(o.Recipient)
			sb.WriteString(o.Sig)
		}
	}
	return sb.String()
}

// ComputedHash recomputes the block's hash from its current fields; used
// both to seal a new block and to check that a received block's claimed
// hash is genuine.
func (b *Block) ComputedHash() string {
	return hashWithNonce(b.Timestamp, b.PreviousHash, b.Nonce, b.TransactionData())
}

func hashWithNonce(timestamp int64, previousHash string, nonce int64, txData string) string {
	data := fmt.Sprintf("%d%s%d%s", timestamp, previousHash, nonce, txData)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// HashAttempt computes the block hash for a given nonce without mutating
// or re-deriving anything, letting a mining worker probe nonces cheaply
// against a memoised transaction data string.
func HashAttempt(timestamp int64, previousHash string, nonce int64, txData string) string {
	return hashWithNonce(timestamp, previousHash, nonce, txData)
}

// ValidateTransactions reports whether every transaction in the block
// verifies, given the chain's current mining reward.
func (b *Block) ValidateTransactions(reward int64) bool {
	for _, t := range b.Transactions {
		if !t.Verify(reward) {
			return false
		}
	}
	return true
}
