package tx

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/votechain/votechain/token"
)

// MiningRewardSentinel is the literal value carried by a coinbase
// transaction's single input, in place of a numeric amount.
const MiningRewardSentinel = "Mining Reward"

// Amount is the tagged union carried by every input and output value: a
// plain count of empty tokens, a ballot token, or the coinbase sentinel.
// Go has no dynamically-typed dict the way the original implementation
// does, so the three shapes are modelled explicitly instead of shoved
// into an interface{}.
type Amount struct {
	Empty  *int64
	Token  *token.Token
	Reward bool
}

// EmptyAmount wraps a fungible balance of empty tokens.
func EmptyAmount(v int64) Amount { return Amount{Empty: &v} }

// TokenAmount wraps a ballot token.
func TokenAmount(t *token.Token) Amount { return Amount{Token: t} }

// RewardAmount is the coinbase's "Mining Reward" placeholder input value.
func RewardAmount() Amount { return Amount{Reward: true} }

// String renders the amount the way it is folded into hashed and signed
// strings: the decimal value, the token's Go representation, or the
// sentinel, matching str(value) in the original implementation.
func (a Amount) String() string {
	switch {
	case a.Reward:
		return MiningRewardSentinel
	case a.Token != nil:
		return fmt.Sprintf("%+v", *a.Token)
	case a.Empty != nil:
		return strconv.FormatInt(*a.Empty, 10)
	default:
		return ""
	}
}

// MarshalWire renders the amount into the JSON shape used on the wire and
// in the store: a bare number, a token object, or the sentinel string.
func (a Amount) MarshalWire() (json.RawMessage, error) {
	switch {
	case a.Reward:
		return json.Marshal(MiningRewardSentinel)
	case a.Token != nil:
		return json.Marshal(a.Token)
	case a.Empty != nil:
		return json.Marshal(*a.Empty)
	default:
		return json.Marshal(nil)
	}
}

// Encode renders the amount as the TEXT the store persists: the same
// JSON shape MarshalWire produces, since sqlite has no native variant
// column type and JSON already disambiguates number/string/object.
func (a Amount) Encode() (string, error) {
	raw, err := a.MarshalWire()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeAmount parses a wire/store value back into an Amount, given the
// kind it was carried under (kind alone disambiguates token vs. plain
// values; the sentinel is only ever seen on a coinbase's kind-0 input).
func DecodeAmount(kind Kind, raw json.RawMessage) (Amount, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Amount{}, nil
	}

	if kind == KindSerialize || kind == KindCast {
		var tk token.Token
		if err := json.Unmarshal(raw, &tk); err == nil && tk.TKID != "" {
			return TokenAmount(&tk), nil
		}
	}

	var sentinel string
	if err := json.Unmarshal(raw, &sentinel); err == nil {
		if sentinel == MiningRewardSentinel {
			return RewardAmount(), nil
		}
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return EmptyAmount(n), nil
	}

	return Amount{}, fmt.Errorf("decode amount: unrecognised shape for kind %d", kind)
}
