// Package token implements the ballot token that travels inside kind-1
// (serialized) and kind-2 (cast) outputs of a transaction.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/votechain/votechain/crypto"
)

// Token is a single voter's stub for one poll. It starts out unanswered
// (serialized) and is later signed over a chosen answer (cast).
type Token struct {
	TKID         string   `json:"tkid"`
	PollAddress  string   `json:"poll_address"`
	VoterAddress string   `json:"voter_address"`
	Timestamp    int64    `json:"timestamp"`
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	Ans          string   `json:"ans"`
	Sig          string   `json:"sig"`
}

// New creates a fresh, unanswered token for voterAddress against the poll
// owning pollAddress.
func New(pollAddress, voterAddress, question string, options []string, timestamp int64) *Token {
	t := &Token{
		PollAddress:  pollAddress,
		VoterAddress: voterAddress,
		Timestamp:    timestamp,
		Question:     question,
		Options:      options,
	}
	t.TKID = t.generateID()
	return t
}

func (t *Token) optionsKey() string {
	return strings.Join(t.Options, "|")
}

// generateID produces the token's identifier: a truncated SHA-256 over the
// fields that make this token unique.
func (t *Token) generateID() string {
	data := t.PollAddress + t.VoterAddress + strconv.FormatInt(t.Timestamp, 10) + t.Question + t.optionsKey()
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])[:16]
}

// SigningData is the exact byte string that gets signed (and verified)
// when a voter casts an answer.
func (t *Token) SigningData() string {
	return t.PollAddress + t.VoterAddress + t.Question + t.optionsKey() + t.Ans
}

// Cast records an answer (an index into Options) and signs it with signer,
// which must own VoterAddress.
func (t *Token) Cast(ans int, signer crypto.Signer) error {
	if ans < 0 || ans >= len(t.Options) {
		return fmt.Errorf("cast token: answer %d out of range", ans)
	}
	t.Ans = strconv.Itoa(ans)
	sig, err := signer.Sign([]byte(t.SigningData()))
	if err != nil {
		return fmt.Errorf("cast token: %w", err)
	}
	t.Sig = sig
	return nil
}

// Verify checks that a cast token carries a valid answer and signature.
func (t *Token) Verify() bool {
	if t.Ans == "" || t.Sig == "" {
		return false
	}
	if _, err := strconv.Atoi(t.Ans); err != nil {
		return false
	}
	return crypto.Verify(t.VoterAddress, []byte(t.SigningData()), t.Sig)
}
