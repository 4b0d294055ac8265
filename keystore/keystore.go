// Package keystore is VoteChain's in-repo stand-in for the out-of-scope
// credential store (§1): a simple on-disk collection of local signing
// keys. A real deployment replaces this with per-user encrypted key
// storage; this package exists so the node and its tests have something
// concrete to sign with.
package keystore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/mr-tron/base58"

	"github.com/votechain/votechain/crypto"
)

const fileMode = 0600

type keyRecord struct {
	Address string
	D       []byte
}

// keystoreFile is the on-disk gob encoding: signing keys plus the
// per-owner poll-derivation counters needed to reproduce NextPollKey's
// sequence of child addresses across restarts.
type keystoreFile struct {
	Records        []keyRecord
	PollIterations map[string]uint32
}

// Store is a collection of local signing keys, addressable by their
// SECP256k1 compressed-key address, persisted to a single gob file.
type Store struct {
	path           string
	signers        map[string]*crypto.LocalSigner
	pollIterations map[string]uint32
}

// Open loads the keystore at path, or starts an empty one if the file
// doesn't exist yet.
func Open(path string) (*Store, error) {
	s := &Store{
		path:           path,
		signers:        make(map[string]*crypto.LocalSigner),
		pollIterations: make(map[string]uint32),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}

	var file keystoreFile
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&file); err != nil {
		return nil, fmt.Errorf("open keystore: decode: %w", err)
	}
	for _, r := range file.Records {
		priv := secp256k1.PrivKeyFromBytes(r.D)
		s.signers[r.Address] = crypto.NewLocalSigner(priv)
	}
	if file.PollIterations != nil {
		s.pollIterations = file.PollIterations
	}
	return s, nil
}

// NewKey generates a fresh keypair, registers it and persists the
// keystore, returning the new address.
func (s *Store) NewKey() (string, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("new key: %w", err)
	}
	signer := crypto.NewLocalSigner(priv)
	s.signers[signer.Address()] = signer
	if err := s.save(); err != nil {
		return "", err
	}
	return signer.Address(), nil
}

// Signer returns the signer for address, if this keystore holds it.
func (s *Store) Signer(address string) (*crypto.LocalSigner, bool) {
	signer, ok := s.signers[address]
	return signer, ok
}

// NextPollKey derives the next poll-address signer in owner's child-key
// chain (crypto.DeriveChildKey), advances and persists owner's
// iteration counter, and returns it. Each call yields a fresh address,
// so an owner's separate polls never share a from-address: without
// this, every poll minted by the same owner would collide on
// Serialised_Tokens/Locked_Tokens lookups keyed by from_address.
func (s *Store) NextPollKey(owner string) (*crypto.LocalSigner, error) {
	master, ok := s.signers[owner]
	if !ok {
		return nil, fmt.Errorf("next poll key: no key for %s in this keystore", owner)
	}
	iteration := s.pollIterations[owner]
	child, err := crypto.DeriveChildKey(master.PrivateKey(), iteration)
	if err != nil {
		return nil, fmt.Errorf("next poll key: %w", err)
	}
	s.pollIterations[owner] = iteration + 1
	if err := s.save(); err != nil {
		return nil, err
	}
	return crypto.NewLocalSigner(child), nil
}

// Addresses lists every address this keystore can sign for.
func (s *Store) Addresses() []string {
	out := make([]string, 0, len(s.signers))
	for addr := range s.signers {
		out = append(out, addr)
	}
	return out
}

func (s *Store) save() error {
	records := make([]keyRecord, 0, len(s.signers))
	for addr, signer := range s.signers {
		records = append(records, keyRecord{Address: addr, D: signer.PrivateKey().Serialize()})
	}
	file := keystoreFile{Records: records, PollIterations: s.pollIterations}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(file); err != nil {
		return fmt.Errorf("save keystore: %w", err)
	}
	if err := os.WriteFile(s.path, buf.Bytes(), fileMode); err != nil {
		return fmt.Errorf("save keystore: %w", err)
	}
	return nil
}

// DiagnosticID renders a short base58 tag for address, printed beside
// the address in CLI output where the full 66-character hex address
// is hard to tell apart; never used as the address itself (§3 fixes addresses
// as raw hex). It base58-encodes crypto.LegacyAddressHash(address)
// rather than a hex prefix, so two addresses sharing a prefix still get
// distinct tags.
func DiagnosticID(address string) string {
	sum, err := crypto.LegacyAddressHash(address)
	if err != nil {
		return base58.Encode([]byte(address))
	}
	return base58.Encode(sum[:8])
}
