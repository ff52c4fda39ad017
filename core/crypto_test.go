package core_test

import (
	"testing"

	"juxction/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoService_KeyLength(t *testing.T) {
	_, err := core.NewCryptoService("too-short")
	assert.ErrorIs(t, err, core.ErrInvalidEncryptionKey)

	_, err = core.NewCryptoService("0123456789abcdef0123456789abcdef")
	assert.NoError(t, err)
}

func TestCryptoService_EncryptDecrypt(t *testing.T) {
	cs, err := core.NewCryptoService("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	a, err := cs.Encrypt([]byte("refresh-token"))
	require.NoError(t, err)
	b, err := cs.Encrypt([]byte("refresh-token"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonce is random")

	plain, err := cs.Decrypt(a)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token", string(plain))
}

func TestCryptoService_DerivedKeys(t *testing.T) {
	one, err := core.NewCryptoServiceFromSecret("passphrase", "machine-a")
	require.NoError(t, err)
	same, err := core.NewCryptoServiceFromSecret("passphrase", "machine-a")
	require.NoError(t, err)
	other, err := core.NewCryptoServiceFromSecret("passphrase", "machine-b")
	require.NoError(t, err)

	sealed, err := one.Encrypt([]byte("session"))
	require.NoError(t, err)

	plain, err := same.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "session", string(plain))

	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, core.ErrInvalidCiphertext)

	_, err = core.NewCryptoServiceFromSecret("", "salt")
	assert.ErrorIs(t, err, core.ErrInvalidEncryptionKey)
}

func TestCryptoService_TruncatedCiphertext(t *testing.T) {
	cs, err := core.NewCryptoService("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	_, err = cs.Decrypt("AAAA")
	assert.ErrorIs(t, err, core.ErrInvalidCiphertext)
}
