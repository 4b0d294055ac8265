package store

import (
	"database/sql"
	"fmt"

	"github.com/votechain/votechain/block"
	"github.com/votechain/votechain/tx"
)

type blockRow struct {
	Hash         string `db:"hash"`
	PreviousHash string `db:"previous_hash"`
	Timestamp    int64  `db:"timestamp"`
	Difficulty   int    `db:"difficulty"`
	Nonce        int64  `db:"nonce"`
	Height       int64  `db:"height"`
}

// BlockAt reconstructs the block committed at a given height.
func (s *Store) BlockAt(height int64) (*block.Block, error) {
	return s.loadBlock(`height = ?`, height)
}

// BlockByPreviousHash reconstructs the block whose previous_hash link
// matches hash, i.e. the block that extends the block with that hash.
func (s *Store) BlockByPreviousHash(hash string) (*block.Block, error) {
	return s.loadBlock(`previous_hash = ?`, hash)
}

func (s *Store) loadBlock(where string, arg interface{}) (*block.Block, error) {
	var row blockRow
	if err := s.db.Get(&row, fmt.Sprintf(`SELECT hash, previous_hash, timestamp, difficulty, nonce, height FROM Blocks WHERE %s`, where), arg); err != nil {
		return nil, fmt.Errorf("load block: %w", err)
	}

	var txids []string
	if err := s.db.Select(&txids, `SELECT txid FROM Transactions WHERE block_hash = ?`, row.Hash); err != nil {
		return nil, fmt.Errorf("load block: transaction ids: %w", err)
	}

	b := &block.Block{
		Timestamp: row.Timestamp, PreviousHash: row.PreviousHash, Difficulty: row.Difficulty,
		Nonce: row.Nonce, Height: row.Height, Hash: row.Hash,
	}
	for _, txid := range txids {
		t, err := s.loadTransaction(txid)
		if err != nil {
			return nil, err
		}
		b.Transactions = append(b.Transactions, t)
	}
	return b, nil
}

type transactionRow struct {
	Type        int    `db:"type"`
	Value       string `db:"value"`
	FromAddress string `db:"from_address"`
	Timestamp   int64  `db:"timestamp"`
}

func (s *Store) loadTransaction(txid string) (*tx.Transaction, error) {
	var row transactionRow
	if err := s.db.Get(&row, `SELECT type, value, from_address, timestamp FROM Transactions WHERE txid = ?`, txid); err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", txid, err)
	}
	kind := tx.Kind(row.Type)
	value, err := tx.DecodeAmount(kind, []byte(row.Value))
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", txid, err)
	}

	t := &tx.Transaction{TxID: txid, Timestamp: row.Timestamp, Kind: kind, FromAddress: row.FromAddress, Value: value}

	inputRows, err := s.db.Queryx(`SELECT output_txid, ind, value, recipient, sig, type FROM Inputs WHERE txid = ?`, txid)
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: inputs: %w", txid, err)
	}
	defer inputRows.Close()
	recipients := map[string]bool{}
	for inputRows.Next() {
		var outTxid, value, recipient string
		var sig sql.NullString
		var ind, typ int
		if err := inputRows.Scan(&outTxid, &ind, &value, &recipient, &sig, &typ); err != nil {
			return nil, fmt.Errorf("load transaction %s: scan input: %w", txid, err)
		}
		inKind := tx.Kind(typ)
		amount, err := tx.DecodeAmount(inKind, []byte(value))
		if err != nil {
			return nil, fmt.Errorf("load transaction %s: decode input: %w", txid, err)
		}
		t.Inputs = append(t.Inputs, tx.Input{TxID: outTxid, Index: ind, Value: amount, Recipient: recipient, Sig: sig.String, Kind: inKind})
	}

	outputRows, err := s.db.Queryx(`SELECT ind, value, recipient, sig, type FROM Outputs WHERE txid = ? ORDER BY ind`, txid)
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: outputs: %w", txid, err)
	}
	defer outputRows.Close()
	for outputRows.Next() {
		var value, recipient string
		var sig sql.NullString
		var ind, typ int
		if err := outputRows.Scan(&ind, &value, &recipient, &sig, &typ); err != nil {
			return nil, fmt.Errorf("load transaction %s: scan output: %w", txid, err)
		}
		outKind := tx.Kind(typ)
		amount, err := tx.DecodeAmount(outKind, []byte(value))
		if err != nil {
			return nil, fmt.Errorf("load transaction %s: decode output: %w", txid, err)
		}
		t.Outputs = append(t.Outputs, tx.Output{TxID: txid, Index: ind, Value: amount, Recipient: recipient, Sig: sig.String, Kind: outKind})
		if !recipients[recipient] {
			recipients[recipient] = true
			t.ToAddress = append(t.ToAddress, recipient)
		}
	}

	return t, nil
}

// RecentTail reconstructs up to the 16 most recently committed blocks,
// the in-memory window the chain engine keeps hot.
func (s *Store) RecentTail() ([]*block.Block, error) {
	height, err := s.Height()
	if err != nil {
		return nil, err
	}
	if height < 0 {
		return nil, nil
	}
	start := int64(0)
	if height >= 16 {
		start = height - 15
	}
	var tail []*block.Block
	for h := start; h <= height; h++ {
		b, err := s.BlockAt(h)
		if err != nil {
			return nil, err
		}
		tail = append(tail, b)
	}
	return tail, nil
}
