// Package store is the persistent ledger: every committed block,
// transaction, input and output, plus the token bookkeeping tables that
// track a ballot from serialization through casting.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/votechain/votechain/block"
	"github.com/votechain/votechain/tx"
)

const schema = `
CREATE TABLE IF NOT EXISTS Blocks (
	hash          TEXT PRIMARY KEY,
	previous_hash TEXT NOT NULL,
	timestamp     INTEGER NOT NULL,
	difficulty    INTEGER NOT NULL,
	nonce         INTEGER NOT NULL,
	height        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS Transactions (
	txid         TEXT PRIMARY KEY,
	block_hash   TEXT NOT NULL,
	type         INTEGER NOT NULL,
	value        TEXT NOT NULL,
	from_address TEXT NOT NULL,
	timestamp    INTEGER NOT NULL,
	FOREIGN KEY (block_hash) REFERENCES Blocks(hash)
);

CREATE TABLE IF NOT EXISTS Inputs (
	txid        TEXT NOT NULL,
	output_txid TEXT NOT NULL,
	ind         INTEGER NOT NULL,
	value       TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	sig         TEXT,
	type        INTEGER NOT NULL,
	PRIMARY KEY (txid, output_txid, ind),
	FOREIGN KEY (txid) REFERENCES Transactions(txid)
);

CREATE TABLE IF NOT EXISTS Outputs (
	txid      TEXT NOT NULL,
	ind       INTEGER NOT NULL,
	value     TEXT NOT NULL,
	recipient TEXT NOT NULL,
	sig       TEXT,
	utxo      BOOLEAN NOT NULL DEFAULT 1,
	type      INTEGER NOT NULL,
	PRIMARY KEY (txid, ind),
	FOREIGN KEY (txid) REFERENCES Transactions(txid)
);

CREATE TABLE IF NOT EXISTS Serialised_Tokens (
	tkid          TEXT PRIMARY KEY,
	poll_address  TEXT NOT NULL,
	voter_address TEXT NOT NULL,
	timestamp     INTEGER NOT NULL,
	question      TEXT NOT NULL,
	options       TEXT NOT NULL,
	ans           TEXT,
	sig           TEXT,
	txid          TEXT NOT NULL,
	ind           INTEGER NOT NULL,
	locked        BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS Locked_Tokens (
	tkid          TEXT PRIMARY KEY,
	poll_address  TEXT NOT NULL,
	voter_address TEXT NOT NULL,
	timestamp     INTEGER NOT NULL,
	question      TEXT NOT NULL,
	options       TEXT NOT NULL,
	ans           TEXT,
	sig           TEXT,
	txid          TEXT NOT NULL,
	ind           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS Memory_Pool (
	txid TEXT NOT NULL,
	ind  INTEGER NOT NULL,
	PRIMARY KEY (txid, ind)
);
`

// Store is a sqlite-backed LedgerStore.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Height returns the current chain height, or -1 if the store is empty.
func (s *Store) Height() (int64, error) {
	var count int64
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM Blocks`); err != nil {
		return 0, fmt.Errorf("height: %w", err)
	}
	return count - 1, nil
}

// AddBlock persists a block and every transaction, input and output it
// carries, inside a single database transaction.
func (s *Store) AddBlock(b *block.Block) error {
	dbTx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("add block: %w", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.Exec(
		`INSERT INTO Blocks (hash, previous_hash, timestamp, difficulty, nonce, height) VALUES (?,?,?,?,?,?)`,
		b.Hash, b.PreviousHash, b.Timestamp, b.Difficulty, b.Nonce, b.Height,
	); err != nil {
		return fmt.Errorf("add block: insert block: %w", err)
	}

	for _, t := range b.Transactions {
		if err := addTransaction(dbTx, t, b.Hash); err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

func addTransaction(dbTx *sqlx.Tx, t *tx.Transaction, blockHash string) error {
	value, err := t.Value.Encode()
	if err != nil {
		return fmt.Errorf("add transaction: %w", err)
	}
	if _, err := dbTx.Exec(
		`INSERT INTO Transactions (txid, block_hash, type, value, from_address, timestamp) VALUES (?,?,?,?,?,?)`,
		t.TxID, blockHash, t.Kind, value, t.FromAddress, t.Timestamp,
	); err != nil {
		return fmt.Errorf("add transaction: insert: %w", err)
	}

	for _, in := range t.Inputs {
		v, err := in.Value.Encode()
		if err != nil {
			return fmt.Errorf("add transaction: input value: %w", err)
		}
		if _, err := dbTx.Exec(
			`INSERT INTO Inputs (txid, output_txid, ind, value, recipient, sig, type) VALUES (?,?,?,?,?,?,?)`,
			t.TxID, in.TxID, in.Index, v, in.Recipient, in.Sig, in.Kind,
		); err != nil {
			return fmt.Errorf("add transaction: insert input: %w", err)
		}
	}

	for _, out := range t.Outputs {
		if err := addOutput(dbTx, t, out); err != nil {
			return err
		}
	}
	return nil
}

func addOutput(dbTx *sqlx.Tx, t *tx.Transaction, out tx.Output) error {
	v, err := out.Value.Encode()
	if err != nil {
		return fmt.Errorf("add output: value: %w", err)
	}
	if _, err := dbTx.Exec(
		`INSERT INTO Outputs (txid, ind, value, recipient, sig, utxo, type) VALUES (?,?,?,?,?,1,?)`,
		out.TxID, out.Index, v, out.Recipient, out.Sig, out.Kind,
	); err != nil {
		return fmt.Errorf("add output: insert: %w", err)
	}

	switch out.Kind {
	case tx.KindSerialize:
		if out.Value.Token == nil {
			return nil
		}
		tk := out.Value.Token
		options, _ := json.Marshal(tk.Options)
		if _, err := dbTx.Exec(
			`INSERT INTO Serialised_Tokens (tkid, poll_address, voter_address, timestamp, question, options, ans, sig, txid, ind, locked)
			 VALUES (?,?,?,?,?,?,?,?,?,?,0)`,
			tk.TKID, tk.PollAddress, tk.VoterAddress, tk.Timestamp, tk.Question, string(options), tk.Ans, tk.Sig, out.TxID, out.Index,
		); err != nil {
			return fmt.Errorf("add output: serialised token: %w", err)
		}
	case tx.KindCast:
		if out.Value.Token == nil {
			return nil
		}
		tk := out.Value.Token
		if _, err := dbTx.Exec(`UPDATE Serialised_Tokens SET locked = 1 WHERE tkid = ?`, tk.TKID); err != nil {
			return fmt.Errorf("add output: lock serialised token: %w", err)
		}
		options, _ := json.Marshal(tk.Options)
		if _, err := dbTx.Exec(
			`INSERT INTO Locked_Tokens (tkid, poll_address, voter_address, timestamp, question, options, ans, sig, txid, ind)
			 VALUES (?,?,?,?,?,?,?,?,?,?)`,
			tk.TKID, tk.PollAddress, tk.VoterAddress, tk.Timestamp, tk.Question, string(options), tk.Ans, tk.Sig, out.TxID, out.Index,
		); err != nil {
			return fmt.Errorf("add output: locked token: %w", err)
		}
	}
	return nil
}

// MarkSpent flips an output's utxo flag off, once a transaction spending
// it has been committed in a block.
func (s *Store) MarkSpent(in tx.Input) error {
	if _, err := s.db.Exec(`UPDATE Outputs SET utxo = 0 WHERE txid = ? AND ind = ?`, in.TxID, in.Index); err != nil {
		return fmt.Errorf("mark spent: %w", err)
	}
	return nil
}

// UTXOs returns every unspent output of the given kind owned by address.
func (s *Store) UTXOs(address string, kind tx.Kind) ([]tx.Output, error) {
	rows, err := s.db.Queryx(
		`SELECT txid, ind, value, recipient, sig FROM Outputs WHERE utxo = 1 AND recipient = ? AND type = ?`,
		address, kind,
	)
	if err != nil {
		return nil, fmt.Errorf("utxos: %w", err)
	}
	defer rows.Close()

	var outs []tx.Output
	for rows.Next() {
		var txid, value, recipient string
		var sig sql.NullString
		var ind int
		if err := rows.Scan(&txid, &ind, &value, &recipient, &sig); err != nil {
			return nil, fmt.Errorf("utxos: scan: %w", err)
		}
		amount, err := tx.DecodeAmount(kind, []byte(value))
		if err != nil {
			return nil, fmt.Errorf("utxos: decode: %w", err)
		}
		outs = append(outs, tx.Output{TxID: txid, Index: ind, Value: amount, Recipient: recipient, Sig: sig.String, Kind: kind})
	}
	return outs, rows.Err()
}

// TokenBalance sums an address's spendable holdings of the given kind:
// the face value for empty tokens, a simple count for ballot tokens.
func (s *Store) TokenBalance(address string, kind tx.Kind) (int64, error) {
	outs, err := s.UTXOs(address, kind)
	if err != nil {
		return 0, err
	}
	if kind != tx.KindTransfer {
		return int64(len(outs)), nil
	}
	var total int64
	for _, o := range outs {
		total += *o.Value.Empty
	}
	return total, nil
}

// SerializedVotes counts the kind-1 transactions a poll address has sent
// out, i.e. the number of ballots issued so far.
func (s *Store) SerializedVotes(pollAddress string) (int, error) {
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM Transactions WHERE from_address = ? AND type = 1`, pollAddress); err != nil {
		return 0, fmt.Errorf("serialized votes: %w", err)
	}
	return count, nil
}

// ConfirmedVotes counts the kind-2 transactions committed from address,
// i.e. the number of ballots that address has cast and had accepted.
func (s *Store) ConfirmedVotes(address string) (int, error) {
	var count int
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM Transactions WHERE from_address = ? AND type = 2`, address); err != nil {
		return 0, fmt.Errorf("confirmed votes: %w", err)
	}
	return count, nil
}
