package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestSHA256KnownVector(t *testing.T) {
	d, err := Digest(SHA256, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", ToHex(d))
}

func TestAESGCMRoundTrip(t *testing.T) {
	key, err := GenerateAESGCMKey()
	require.NoError(t, err)

	plaintext := []byte("alert(1)")
	ciphertext, err := key.Encrypt(nil, nil, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := key.Decrypt(nil, nil, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestAESGCMTamperedCiphertextFails(t *testing.T) {
	key, _ := GenerateAESGCMKey()
	ciphertext, _ := key.Encrypt(nil, nil, []byte("data"))
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err := key.Decrypt(nil, nil, ciphertext)
	assert.Error(t, err)
}

func TestImportAESGCMKeyRejectsBadLength(t *testing.T) {
	_, err := ImportAESGCMKey(make([]byte, 10))
	assert.Error(t, err)
}

func TestHMACSignVerify(t *testing.T) {
	key := []byte("secret-key")
	sig, err := SignHMAC(SHA256, key, []byte("message"))
	require.NoError(t, err)

	ok, err := VerifyHMAC(SHA256, key, []byte("message"), sig)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyHMAC(SHA256, key, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeriveBitsHKDFDeterministic(t *testing.T) {
	a, err := DeriveBitsHKDF(SHA256, []byte("ikm"), []byte("salt"), []byte("info"), 32)
	require.NoError(t, err)
	b, err := DeriveBitsHKDF(SHA256, []byte("ikm"), []byte("salt"), []byte("info"), 32)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestRandomUUIDLooksLikeUUID(t *testing.T) {
	id := RandomUUID()
	assert.Len(t, id, 36)
}
