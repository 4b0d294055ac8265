package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	addr := Address(priv.PubKey())
	require.Len(t, addr, 66)

	sig, err := Sign(priv, []byte("ballot-data"))
	require.NoError(t, err)

	require.True(t, Verify(addr, []byte("ballot-data"), sig))
	require.False(t, Verify(addr, []byte("tampered-data"), sig))
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	require.False(t, Verify("not-hex", []byte("x"), "not-base64"))
	require.False(t, Verify("00", []byte("x"), ""))
}

func TestLocalSigner(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	signer := NewLocalSigner(priv)
	sig, err := signer.Sign([]byte("payload"))
	require.NoError(t, err)
	require.True(t, Verify(signer.Address(), []byte("payload"), sig))
}

func TestLegacyAddressHashIsStable(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	addr := Address(priv.PubKey())

	a, err := LegacyAddressHash(addr)
	require.NoError(t, err)
	b, err := LegacyAddressHash(addr)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 20)
}

func TestDeriveChildKeyIsDeterministic(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)

	a, err := DeriveChildKey(priv, 3)
	require.NoError(t, err)
	b, err := DeriveChildKey(priv, 3)
	require.NoError(t, err)
	c, err := DeriveChildKey(priv, 4)
	require.NoError(t, err)

	require.Equal(t, a.Serialize(), b.Serialize())
	require.NotEqual(t, a.Serialize(), c.Serialize())
}
