// Package crypto provides the SECP256k1 primitives used to identify
// addresses and sign the data that transactions and tokens carry.
package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160"
)

// Signer is implemented by anything that can produce a signature over
// arbitrary data for a single address. The credential store that owns the
// private key lives outside this module; LocalSigner below is the
// in-memory implementation used by the wallet and by tests.
type Signer interface {
	Sign(data []byte) (string, error)
}

// GenerateKey creates a new random SECP256k1 keypair.
func GenerateKey() (*secp256k1.PrivateKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return priv, nil
}

// Address renders a public key as the 66-character hex address used
// throughout the ledger: hex of the 33-byte compressed point.
func Address(pub *secp256k1.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

// PublicKeyFromAddress parses an address back into a public key.
func PublicKeyFromAddress(address string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(address)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	return pub, nil
}

func digest(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Sign signs data with priv and returns a base64-encoded DER signature.
func Sign(priv *secp256k1.PrivateKey, data []byte) (string, error) {
	sig := ecdsa.Sign(priv, digest(data))
	return base64.StdEncoding.EncodeToString(sig.Serialize()), nil
}

// Verify checks a base64-encoded DER signature against data, using the
// public key recovered from address.
func Verify(address string, data []byte, sigB64 string) bool {
	pub, err := PublicKeyFromAddress(address)
	if err != nil {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(raw)
	if err != nil {
		return false
	}
	return sig.Verify(digest(data), pub)
}

// LocalSigner wraps a private key held in memory. It is the only Signer
// implementation this module ships; a real deployment would back Signer
// with an external credential store instead.
type LocalSigner struct {
	priv *secp256k1.PrivateKey
}

// NewLocalSigner wraps priv as a Signer.
func NewLocalSigner(priv *secp256k1.PrivateKey) *LocalSigner {
	return &LocalSigner{priv: priv}
}

func (s *LocalSigner) Sign(data []byte) (string, error) {
	return Sign(s.priv, data)
}

// Address returns the address that corresponds to this signer's key.
func (s *LocalSigner) Address() string {
	return Address(s.priv.PubKey())
}

// PrivateKey exposes the underlying key for components (the wallet's key
// store) that need to persist or re-derive from it.
func (s *LocalSigner) PrivateKey() *secp256k1.PrivateKey {
	return s.priv
}

// LegacyAddressHash renders RIPEMD-160(SHA-256(address)) the way the
// teacher's original address derivation hashed a public key. VoteChain
// addresses are raw hex (§3) and never use this as an address, but
// keystore.DiagnosticID reuses it to build a collision-resistant short
// log tag rather than truncating the hex address, which would collide
// on any two addresses sharing a prefix.
func LegacyAddressHash(address string) ([]byte, error) {
	raw, err := hex.DecodeString(address)
	if err != nil {
		return nil, fmt.Errorf("legacy address hash: %w", err)
	}
	sum := sha256.Sum256(raw)
	hasher := ripemd160.New()
	if _, err := hasher.Write(sum[:]); err != nil {
		return nil, fmt.Errorf("legacy address hash: %w", err)
	}
	return hasher.Sum(nil), nil
}

// DeriveChildKey produces a deterministic child key for a given iteration
// of a master key. Poll addresses are derived this way so that a poll owner
// can prove ownership of a poll without a separate credential per poll.
func DeriveChildKey(master *secp256k1.PrivateKey, iteration uint32) (*secp256k1.PrivateKey, error) {
	seed := fmt.Sprintf("%x:%d", master.Serialize(), iteration)
	sum := sha256.Sum256([]byte(seed))
	priv := secp256k1.PrivKeyFromBytes(sum[:])
	return priv, nil
}
