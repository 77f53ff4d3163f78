package crypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	t.Setenv(EnvKey, "0123456789abcdef0123456789abcdef")
	plain := []byte("postgres://maint:pw@db1:5432/app")
	enc, err := Encrypt(plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(enc, []byte("maint:pw")) {
		t.Fatal("ciphertext leaks plaintext")
	}
	dec, err := Decrypt(enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(dec, plain) {
		t.Fatalf("round trip mismatch: %q != %q", dec, plain)
	}
}

func TestCheckEnvMissing(t *testing.T) {
	t.Setenv(EnvKey, "")
	if err := CheckEnv(); err == nil {
		t.Fatal("expected error when key missing")
	}
}

func TestDecryptTruncated(t *testing.T) {
	t.Setenv(EnvKey, "0123456789abcdef")
	if _, err := Decrypt([]byte("short")); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
}
