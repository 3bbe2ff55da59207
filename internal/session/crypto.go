package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	keyLength        = 32
	saltLength       = 16
)

// cipherKey derives (or, for an ephemeral key, generates) the symmetric key
// used to encrypt session records at rest.
type cipherKey struct {
	key       []byte
	salt      []byte
	ephemeral bool
}

// deriveKey derives a key from secret via PBKDF2-SHA256, generating a fresh
// random salt. Pass the persisted salt back in on subsequent loads via
// deriveKeyWithSalt so re-derivation reproduces the same key.
func deriveKey(secret string) (cipherKey, error) {
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return cipherKey{}, err
	}
	return deriveKeyWithSalt(secret, salt), nil
}

func deriveKeyWithSalt(secret string, salt []byte) cipherKey {
	key := pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, keyLength, sha256.New)
	return cipherKey{key: key, salt: salt}
}

// randomKey generates a process-local key with no derivation, used when no
// secret is configured. Sessions encrypted under it are unreadable once the
// process exits.
func randomKey() (cipherKey, error) {
	key := make([]byte, keyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return cipherKey{}, err
	}
	return cipherKey{key: key, ephemeral: true}, nil
}

func encrypt(k cipherKey, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(k cipherKey, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, sealed, nil)
}
