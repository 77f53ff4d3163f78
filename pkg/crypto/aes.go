package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

// EnvKey names the environment variable holding the AES key used to encrypt
// target credentials at rest.
const EnvKey = "IDXP_ENC_KEY"

func keyBytes() ([]byte, error) {
	k := os.Getenv(EnvKey)
	if len(k) == 0 {
		return nil, fmt.Errorf("%s not set", EnvKey)
	}
	b := []byte(k)
	if l := len(b); l != 16 && l != 24 && l != 32 {
		return nil, fmt.Errorf("invalid key length %d", l)
	}
	return b, nil
}

// CheckEnv verifies that the encryption key is present and well formed.
func CheckEnv() error {
	_, err := keyBytes()
	return err
}

// Encrypt encrypts plaintext using AES-GCM with the key from IDXP_ENC_KEY.
func Encrypt(plain []byte) ([]byte, error) {
	key, err := keyBytes()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
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
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt decrypts ciphertext using AES-GCM with the key from IDXP_ENC_KEY.
func Decrypt(ciphertext []byte) ([]byte, error) {
	key, err := keyBytes()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	return gcm.Open(nil, nonce, ct, nil)
}
