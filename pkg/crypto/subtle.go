// Package crypto implements the host side of the script-visible Web Crypto
// surface: getRandomValues, randomUUID, and the subtle_* digest/encrypt/
// decrypt/sign/verify/deriveKey family. Primitive
// cryptography is delegated to golang.org/x/crypto and the standard
// library crypto packages per its non-goal on implementing
// cryptographic primitives directly.
//
// Generalized from a comparable pkg/core/crypto package, which used
// AES-256-GCM with an HKDF/PBKDF2-derived key for at-rest file encryption;
// the same primitive choices back the generic subtle.encrypt/decrypt and
// subtle.deriveBits operations here, parameterized over algorithm name
// instead of being hard-wired to one file-encryption scheme.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"hash"

	"github.com/andromeda-rt/andromeda/internal/errs"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// DigestAlgorithm names a supported subtle.digest hash.
type DigestAlgorithm string

const (
	SHA256 DigestAlgorithm = "SHA-256"
	SHA384 DigestAlgorithm = "SHA-384"
	SHA512 DigestAlgorithm = "SHA-512"
)

func hasherFor(alg DigestAlgorithm) (func() hash.Hash, error) {
	switch alg {
	case SHA256:
		return sha256.New, nil
	case SHA384:
		return sha512.New384, nil
	case SHA512:
		return sha512.New, nil
	default:
		return nil, errs.New(errs.InvalidInput, "unsupported digest algorithm: "+string(alg))
	}
}

// Digest computes the hash of data under alg, used both by subtle_digest
// and by Subresource Integrity's strongest-present-algorithm comparison.
func Digest(alg DigestAlgorithm, data []byte) ([]byte, error) {
	newHash, err := hasherFor(alg)
	if err != nil {
		return nil, err
	}
	h := newHash()
	h.Write(data)
	return h.Sum(nil), nil
}

// GetRandomValues fills buf with cryptographically secure random bytes,
// mirroring crypto.getRandomValues.
func GetRandomValues(buf []byte) error {
	if _, err := rand.Read(buf); err != nil {
		return errs.Wrap(errs.Internal, "reading random bytes", err)
	}
	return nil
}

// RandomUUID returns a random (v4) UUID string for crypto.randomUUID.
func RandomUUID() string {
	return uuid.New().String()
}

// AESGCMKey is an imported/generated AES-GCM symmetric key (128, 192, or
// 256 bits; GenerateAESGCMKey always makes a 256-bit one), the
// concrete type backing subtle_generateKey/importKey for the
// "AES-GCM" algorithm.
type AESGCMKey struct {
	raw []byte
}

// GenerateAESGCMKey generates a fresh 256-bit AES-GCM key via
// crypto/rand, for subtle_generateKey({name: "AES-GCM", length: 256}).
func GenerateAESGCMKey() (*AESGCMKey, error) {
	key := make([]byte, 32)
	if err := GetRandomValues(key); err != nil {
		return nil, err
	}
	return &AESGCMKey{raw: key}, nil
}

// ImportAESGCMKey wraps raw key bytes (exactly 16, 24, or 32 bytes) for
// subtle_importKey({name: "AES-GCM"}, "raw", ...).
func ImportAESGCMKey(raw []byte) (*AESGCMKey, error) {
	switch len(raw) {
	case 16, 24, 32:
		cp := append([]byte(nil), raw...)
		return &AESGCMKey{raw: cp}, nil
	default:
		return nil, errs.New(errs.InvalidInput, "AES-GCM key must be 128, 192, or 256 bits")
	}
}

// ExportRaw returns the key's raw bytes for subtle_exportKey(..., "raw").
func (k *AESGCMKey) ExportRaw() []byte {
	return append([]byte(nil), k.raw...)
}

// Encrypt performs AES-GCM encryption, returning ciphertext||tag for
// subtle_encrypt({name: "AES-GCM", iv}, key, plaintext). If iv is
// empty, a fresh random nonce is generated and prepended to the output
// (nonce||ciphertext||tag);
// callers supplying their own iv (per the Web Crypto API shape) get it
// used directly and it is the caller's responsibility to avoid reuse.
func (k *AESGCMKey) Encrypt(iv, aad, plaintext []byte) ([]byte, error) {
	gcm, err := k.gcm()
	if err != nil {
		return nil, err
	}
	nonce := iv
	prependNonce := false
	if len(nonce) == 0 {
		nonce = make([]byte, gcm.NonceSize())
		if err := GetRandomValues(nonce); err != nil {
			return nil, err
		}
		prependNonce = true
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, errs.New(errs.InvalidInput, "invalid AES-GCM iv length")
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, aad)
	if prependNonce {
		return append(nonce, ciphertext...), nil
	}
	return ciphertext, nil
}

// Decrypt performs AES-GCM decryption. If iv is empty the first
// NonceSize bytes of ciphertext are treated as a prepended nonce,
// mirroring Encrypt's self-describing output format.
func (k *AESGCMKey) Decrypt(iv, aad, ciphertext []byte) ([]byte, error) {
	gcm, err := k.gcm()
	if err != nil {
		return nil, err
	}
	nonce := iv
	if len(nonce) == 0 {
		if len(ciphertext) < gcm.NonceSize() {
			return nil, errs.New(errs.InvalidInput, "ciphertext too short for a prepended nonce")
		}
		nonce, ciphertext = ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errs.Wrap(errs.IntegrityFailure, "AES-GCM authentication failed", err)
	}
	return plaintext, nil
}

func (k *AESGCMKey) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.raw)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "constructing AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "constructing GCM mode", err)
	}
	return gcm, nil
}

// DeriveBitsHKDF implements subtle_deriveBits for {name: "HKDF"}: expands
// ikm under salt/info into length bytes of key material.
func DeriveBitsHKDF(alg DigestAlgorithm, ikm, salt, info []byte, length int) ([]byte, error) {
	newHash, err := hasherFor(alg)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	r := hkdf.New(newHash, ikm, salt, info)
	if _, err := r.Read(out); err != nil {
		return nil, errs.Wrap(errs.Internal, "HKDF expand", err)
	}
	return out, nil
}

// DeriveBitsPBKDF2 implements subtle_deriveBits for {name: "PBKDF2"}.
func DeriveBitsPBKDF2(alg DigestAlgorithm, password, salt []byte, iterations, length int) ([]byte, error) {
	newHash, err := hasherFor(alg)
	if err != nil {
		return nil, err
	}
	if iterations <= 0 {
		return nil, errs.New(errs.InvalidInput, "PBKDF2 iterations must be positive")
	}
	return pbkdf2.Key(password, salt, iterations, length, newHash), nil
}

// SignHMAC implements subtle_sign for {name: "HMAC"}.
func SignHMAC(alg DigestAlgorithm, key, data []byte) ([]byte, error) {
	newHash, err := hasherFor(alg)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(newHash, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

// VerifyHMAC implements subtle_verify for {name: "HMAC"} using a
// constant-time comparison, the same discipline integrity-digest
// comparison uses, applied here to signature verification.
func VerifyHMAC(alg DigestAlgorithm, key, data, signature []byte) (bool, error) {
	expected, err := SignHMAC(alg, key, data)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(expected, signature) == 1, nil
}

// DeriveKey implements subtle_deriveKey: derive bits via HKDF under
// salt/info, then import the result as a fresh AES-GCM key, so a script
// can go from a shared secret straight to a usable symmetric key without
// a separate deriveBits + importKey round trip.
func DeriveKey(alg DigestAlgorithm, ikm, salt, info []byte) (*AESGCMKey, error) {
	bits, err := DeriveBitsHKDF(alg, ikm, salt, info, 32)
	if err != nil {
		return nil, err
	}
	return ImportAESGCMKey(bits)
}

// WrapKey implements subtle_wrapKey: encrypts target's raw key bytes
// under wrappingKey using AES-GCM, the same way Encrypt protects any
// other plaintext.
func WrapKey(wrappingKey *AESGCMKey, iv, aad []byte, target *AESGCMKey) ([]byte, error) {
	return wrappingKey.Encrypt(iv, aad, target.ExportRaw())
}

// UnwrapKey implements subtle_unwrapKey: decrypts wrapped under
// wrappingKey and imports the recovered bytes as a fresh AES-GCM key.
func UnwrapKey(wrappingKey *AESGCMKey, iv, aad, wrapped []byte) (*AESGCMKey, error) {
	raw, err := wrappingKey.Decrypt(iv, aad, wrapped)
	if err != nil {
		return nil, err
	}
	return ImportAESGCMKey(raw)
}

// ToHex is a convenience formatter for rendering a digest as lowercase
// hex (SRI compares digests by base64, not hex).
func ToHex(b []byte) string { return hex.EncodeToString(b) }
