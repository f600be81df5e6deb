package secrets

import (
	"strings"
	"testing"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNewCipherValidation(t *testing.T) {
	if _, err := NewCipher("not-hex"); err == nil {
		t.Fatalf("expected error for non-hex key")
	}
	if _, err := NewCipher("00ff"); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher(testMasterKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const key = "3QJmnh8sXirhwEzpGHe7MkPKJR8mn2SheDM9bJFJna2p"
	sealed, err := c.Encrypt(key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		t.Fatalf("expected three segments, got %d", len(parts))
	}
	if len(parts[0]) != nonceLength*2 || len(parts[1]) != tagLength*2 {
		t.Fatalf("unexpected segment lengths: %d %d", len(parts[0]), len(parts[1]))
	}

	opened, err := c.Decrypt(sealed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened != key {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c, err := NewCipher(testMasterKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, _ := c.Encrypt("payload")
	b, _ := c.Encrypt("payload")
	if a == b {
		t.Fatalf("expected distinct ciphertexts for repeated encryption")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, err := NewCipher(testMasterKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sealed, err := c.Encrypt("payload")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := c.Decrypt("deadbeef"); err == nil {
		t.Fatalf("expected error for malformed ciphertext")
	}

	parts := strings.Split(sealed, ":")
	flipped := []byte(parts[2])
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	tampered := parts[0] + ":" + parts[1] + ":" + string(flipped)
	if _, err := c.Decrypt(tampered); err == nil {
		t.Fatalf("expected error for tampered ciphertext")
	}
}

func TestSelfTest(t *testing.T) {
	c, err := NewCipher(testMasterKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.SelfTest(); err != nil {
		t.Fatalf("self test failed: %v", err)
	}
}
