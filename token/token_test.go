package token

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/votechain/votechain/crypto"
)

func TestNewTokenIsUnanswered(t *testing.T) {
	tk := New("poll-addr", "voter-addr", "favourite colour?", []string{"red", "blue"}, 1000)
	require.NotEmpty(t, tk.TKID)
	require.False(t, tk.Verify())
}

func TestCastAndVerify(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.NewLocalSigner(priv)

	tk := New("poll-addr", signer.Address(), "favourite colour?", []string{"red", "blue"}, 1000)
	require.NoError(t, tk.Cast(1, signer))
	require.True(t, tk.Verify())
}

func TestCastRejectsOutOfRangeAnswer(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.NewLocalSigner(priv)

	tk := New("poll-addr", signer.Address(), "q", []string{"a", "b"}, 1000)
	require.Error(t, tk.Cast(5, signer))
}

func TestVerifyRejectsTamperedAnswer(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.NewLocalSigner(priv)

	tk := New("poll-addr", signer.Address(), "q", []string{"a", "b"}, 1000)
	require.NoError(t, tk.Cast(0, signer))
	tk.Ans = "1"
	require.False(t, tk.Verify())
}
