package secret

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripAllMethods(t *testing.T) {
	for _, method := range []Method{MethodConcat, MethodXOR, MethodShamir} {
		t.Run(string(method), func(t *testing.T) {
			original := "super-secret-api-key-0123456789"
			shard1, shard2, err := Split(method, original)
			require.NoError(t, err)

			got, err := Reconstruct(method, shard1, shard2)
			require.NoError(t, err)
			require.Equal(t, original, got)
		})
	}
}

func TestWrongMethodFailsToReconstruct(t *testing.T) {
	shard1, shard2, err := Split(MethodXOR, "another-secret-value")
	require.NoError(t, err)

	_, err = Reconstruct(MethodShamir, shard1, shard2)
	require.Error(t, err)
}

func TestInvalidShareFormat(t *testing.T) {
	_, err := Reconstruct(MethodXOR, "not-hex!!", "also-not-hex")
	require.ErrorIs(t, err, ErrInvalidShareFormat)

	_, err = Reconstruct(MethodShamir, "badshare", "alsobad")
	require.ErrorIs(t, err, ErrInvalidShareFormat)
}
