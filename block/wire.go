package block

import "github.com/votechain/votechain/tx"

// WireBlock is the on-the-wire shape of a Block, matching the external
// interface's {timestamp, hash, previous_hash, nonce, difficulty,
// height, transactions, data}.
type WireBlock struct {
	Timestamp    int64                `json:"timestamp"`
	Hash         string               `json:"hash"`
	PreviousHash string               `json:"previous_hash"`
	Nonce        int64                `json:"nonce"`
	Difficulty   int                  `json:"difficulty"`
	Height       int64                `json:"height"`
	Transactions []*tx.WireTransaction `json:"transactions"`
	Data         string               `json:"data"`
}

// Wire renders the block into its wire form, including the flattened
// transaction data string a receiver can use to cheaply re-derive the
// hash without re-deriving it from the structured transactions first.
func (b *Block) Wire() (*WireBlock, error) {
	w := &WireBlock{
		Timestamp: b.Timestamp, Hash: b.Hash, PreviousHash: b.PreviousHash,
		Nonce: b.Nonce, Difficulty: b.Difficulty, Height: b.Height,
		Data: b.TransactionData(),
	}
	for _, t := range b.Transactions {
		wt, err := t.Wire()
		if err != nil {
			return nil, err
		}
		w.Transactions = append(w.Transactions, wt)
	}
	return w, nil
}

// FromWire reconstructs a Block from its wire form. The caller is
// responsible for checking that ComputedHash() still matches w.Hash
// before trusting the block.
func FromWire(w *WireBlock) (*Block, error) {
	var txs []*tx.Transaction
	for _, wt := range w.Transactions {
		t, err := tx.FromWire(wt)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	b := &Block{
		Timestamp: w.Timestamp, PreviousHash: w.PreviousHash, Difficulty: w.Difficulty,
		Nonce: w.Nonce, Height: w.Height, Transactions: txs, Hash: w.Hash,
	}
	return b, nil
}
