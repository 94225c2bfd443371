package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNopEncryptorReturnsPayloadUnchanged(t *testing.T) {
	payload := []byte("hello")
	got, err := NopEncryptor{}.Encrypt(payload)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
