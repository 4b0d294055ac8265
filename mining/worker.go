// Package mining runs the proof-of-work search for a single candidate
// block on its own goroutine, so the engine stays responsive while a
// block is being mined.
package mining

import (
	"strings"
	"sync/atomic"

	"github.com/votechain/votechain/block"
)

// Worker mines one candidate block. A Worker is single-use: once
// cancelled or finished it cannot be restarted.
type Worker struct {
	candidate  *block.Block
	txData     string
	cancelled  atomic.Bool
	done       chan struct{}
	onFinished func(*block.Block)
}

// NewWorker wraps candidate for mining. The transaction data string is
// computed once up front and reused on every nonce attempt, since
// re-deriving it per attempt would dominate the mining loop's cost.
func NewWorker(candidate *block.Block, onFinished func(*block.Block)) *Worker {
	return &Worker{
		candidate:  candidate,
		txData:     candidate.TransactionData(),
		done:       make(chan struct{}),
		onFinished: onFinished,
	}
}

// Start runs the search on a new goroutine.
func (w *Worker) Start() {
	go w.run()
}

// Cancel requests that the search stop at its next nonce check. It does
// not block for the goroutine to actually exit; use Done for that.
func (w *Worker) Cancel() {
	w.cancelled.Store(true)
}

// Done is closed once the worker goroutine has exited, whether it found
// a block or was cancelled first.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) run() {
	defer close(w.done)

	target := strings.Repeat("0", w.candidate.Difficulty)
	var nonce int64
	for {
		if w.cancelled.Load() {
			return
		}
		hash := block.HashAttempt(w.candidate.Timestamp, w.candidate.PreviousHash, nonce, w.txData)
		if strings.HasPrefix(hash, target) {
			w.candidate.Nonce = nonce
			w.candidate.Hash = hash
			if w.onFinished != nil {
				w.onFinished(w.candidate)
			}
			return
		}
		nonce++
	}
}
