package chain

import "github.com/votechain/votechain/tx"

// SpendableEmpty returns address's current spendable balance of empty
// tokens, excluding anything already claimed by a pending transaction.
func (e *Engine) SpendableEmpty(address string) (int64, error) {
	outs, err := e.UTXOsOfKind(address, tx.KindTransfer)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, o := range outs {
		total += *o.Value.Empty
	}
	return total, nil
}

// PendingBallots returns the unanswered ballot stubs currently held by
// address.
func (e *Engine) PendingBallots(address string) ([]tx.Output, error) {
	return e.UTXOsOfKind(address, tx.KindSerialize)
}

// SubmittedBallots counts ballots address has cast, whether still
// waiting in the mempool or already confirmed in a block.
func (e *Engine) SubmittedBallots(address string) (int, error) {
	e.mu.Lock()
	pending := 0
	for _, p := range e.pool {
		if p.Kind == tx.KindCast && p.FromAddress == address {
			pending++
		}
	}
	e.mu.Unlock()

	confirmed, err := e.store.ConfirmedVotes(address)
	if err != nil {
		return 0, err
	}
	return pending + confirmed, nil
}

// ConfirmedBallots counts address's ballots that have actually been
// committed in a block.
func (e *Engine) ConfirmedBallots(address string) (int, error) {
	return e.store.ConfirmedVotes(address)
}

// SerializedVotes counts how many ballots a poll address has issued.
func (e *Engine) SerializedVotes(pollAddress string) (int, error) {
	return e.store.SerializedVotes(pollAddress)
}

// Results returns every confirmed answer cast back to pollAddress, as
// raw answer indices in commit order.
func (e *Engine) Results(pollAddress string) ([]string, error) {
	outs, err := e.store.UTXOs(pollAddress, tx.KindCast)
	if err != nil {
		return nil, err
	}
	var answers []string
	for _, o := range outs {
		if o.Value.Token != nil {
			answers = append(answers, o.Value.Token.Ans)
		}
	}
	return answers, nil
}
