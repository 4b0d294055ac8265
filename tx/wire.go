package tx

import "encoding/json"

// WireIO is the on-the-wire shape of an Input or Output.
type WireIO struct {
	TxID      string          `json:"txid"`
	Index     int             `json:"index"`
	Value     json.RawMessage `json:"value"`
	Recipient string          `json:"recipient"`
	Sig       string          `json:"sig,omitempty"`
	Kind      Kind            `json:"kind"`
}

// WireTransaction is the on-the-wire shape of a Transaction, matching the
// external interface's {txid, timestamp, type, inputs, outputs, value}.
type WireTransaction struct {
	TxID        string          `json:"txid"`
	Timestamp   int64           `json:"timestamp"`
	Type        Kind            `json:"type"`
	FromAddress string          `json:"from_address,omitempty"`
	ToAddress   []string        `json:"to_address,omitempty"`
	Inputs      []WireIO        `json:"inputs"`
	Outputs     []WireIO        `json:"outputs"`
	Value       json.RawMessage `json:"value"`
}

// Wire renders the transaction into its wire form.
func (t *Transaction) Wire() (*WireTransaction, error) {
	value, err := t.Value.MarshalWire()
	if err != nil {
		return nil, err
	}
	w := &WireTransaction{
		TxID: t.TxID, Timestamp: t.Timestamp, Type: t.Kind,
		FromAddress: t.FromAddress, ToAddress: t.ToAddress, Value: value,
	}
	for _, in := range t.Inputs {
		v, err := in.Value.MarshalWire()
		if err != nil {
			return nil, err
		}
		w.Inputs = append(w.Inputs, WireIO{TxID: in.TxID, Index: in.Index, Value: v, Recipient: in.Recipient, Sig: in.Sig, Kind: in.Kind})
	}
	for _, out := range t.Outputs {
		v, err := out.Value.MarshalWire()
		if err != nil {
			return nil, err
		}
		w.Outputs = append(w.Outputs, WireIO{TxID: out.TxID, Index: out.Index, Value: v, Recipient: out.Recipient, Sig: out.Sig, Kind: out.Kind})
	}
	return w, nil
}

// FromWire reconstructs a Transaction from its wire form.
func FromWire(w *WireTransaction) (*Transaction, error) {
	value, err := DecodeAmount(w.Type, w.Value)
	if err != nil {
		return nil, err
	}
	t := &Transaction{
		TxID: w.TxID, Timestamp: w.Timestamp, Kind: w.Type,
		FromAddress: w.FromAddress, ToAddress: w.ToAddress, Value: value,
	}
	for _, in := range w.Inputs {
		v, err := DecodeAmount(in.Kind, in.Value)
		if err != nil {
			return nil, err
		}
		t.Inputs = append(t.Inputs, Input{TxID: in.TxID, Index: in.Index, Value: v, Recipient: in.Recipient, Sig: in.Sig, Kind: in.Kind})
	}
	for _, out := range w.Outputs {
		v, err := DecodeAmount(out.Kind, out.Value)
		if err != nil {
			return nil, err
		}
		t.Outputs = append(t.Outputs, Output{TxID: out.TxID, Index: out.Index, Value: v, Recipient: out.Recipient, Sig: out.Sig, Kind: out.Kind})
	}
	return t, nil
}
