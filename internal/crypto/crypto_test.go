package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor("hive-passphrase")
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}

	sealed, err := enc.Encrypt("sk-provider-key")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if sealed == "sk-provider-key" {
		t.Fatal("ciphertext must not equal plaintext")
	}

	opened, err := enc.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if opened != "sk-provider-key" {
		t.Errorf("round trip lost data: %q", opened)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	enc, _ := NewEncryptor("hive-passphrase")

	a, _ := enc.Encrypt("same input")
	b, _ := enc.Encrypt("same input")
	if a == b {
		t.Error("each encryption must use a fresh nonce")
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	enc, _ := NewEncryptor("hive-passphrase")
	other, _ := NewEncryptor("different-passphrase")

	sealed, _ := enc.Encrypt("sk-provider-key")
	if _, err := other.Decrypt(sealed); err == nil {
		t.Error("decryption with the wrong key must fail")
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, _ := NewEncryptor("hive-passphrase")

	for _, input := range []string{"", "not base64 !!!", "aGk="} {
		if _, err := enc.Decrypt(input); err == nil {
			t.Errorf("decrypting %q must fail", input)
		}
	}
}

func TestHashAPIKey(t *testing.T) {
	a := HashAPIKey("sk-one")
	if a != HashAPIKey("sk-one") {
		t.Error("hash must be deterministic")
	}
	if a == HashAPIKey("sk-two") {
		t.Error("distinct keys must hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected a hex sha256 digest, got %d chars", len(a))
	}
}
