package signer

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestEOASignerRecoversSameAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := crypto.FromECDSA(key)

	s, err := NewEOASigner(hexEncode(hexKey))
	require.NoError(t, err)
	require.Equal(t, KindEOA, s.Kind())

	hash := make([]byte, 32)
	for i := range hash {
		hash[i] = byte(i)
	}

	sig, err := s.Sign(context.Background(), hash)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(t, err)
	require.Equal(t, s.GetAddress(), crypto.PubkeyToAddress(*pub).Hex())
}

func TestEOASignerRejectsWrongLengthPayload(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := NewEOASigner(hexEncode(crypto.FromECDSA(key)))
	require.NoError(t, err)

	_, err = s.Sign(context.Background(), []byte("too short"))
	require.Error(t, err)
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
