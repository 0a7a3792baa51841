package crypto

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("Failed to generate master key: %v", err)
	}

	svc, err := NewEncryptionService(masterKey)
	if err != nil {
		t.Fatalf("Failed to create encryption service: %v", err)
	}

	plaintext := []byte(`{"access_token":"ya29.secret","refresh_token":"1//refresh"}`)
	ciphertext, err := svc.Encrypt("owner-1", plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if ciphertext == string(plaintext) {
		t.Fatal("Ciphertext should not equal plaintext")
	}

	decrypted, err := svc.Decrypt("owner-1", ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("Round trip mismatch: got %q", decrypted)
	}
}

func TestDecryptWrongOwnerFails(t *testing.T) {
	masterKey, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("Failed to generate master key: %v", err)
	}

	svc, err := NewEncryptionService(masterKey)
	if err != nil {
		t.Fatalf("Failed to create encryption service: %v", err)
	}

	ciphertext, err := svc.Encrypt("owner-1", []byte("token material"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err := svc.Decrypt("owner-2", ciphertext); err == nil {
		t.Fatal("Decrypt with a different owner key should fail")
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	masterKey, _ := GenerateMasterKey()
	svc, err := NewEncryptionService(masterKey)
	if err != nil {
		t.Fatalf("Failed to create encryption service: %v", err)
	}

	a, err := svc.Encrypt("owner-1", []byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := svc.Encrypt("owner-1", []byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if a == b {
		t.Error("Two encryptions of the same plaintext should differ (random nonce)")
	}
}

func TestNewEncryptionServiceRejectsBadKeys(t *testing.T) {
	if _, err := NewEncryptionService(""); err == nil {
		t.Error("Empty master key should be rejected")
	}
	if _, err := NewEncryptionService("not-hex"); err == nil {
		t.Error("Non-hex master key should be rejected")
	}
	if _, err := NewEncryptionService("abcd1234"); err == nil {
		t.Error("Short master key should be rejected")
	}
}
