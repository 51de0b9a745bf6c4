package secretstore

import "testing"

func TestMemoryStoreRoundTrips(t *testing.T) {
	m, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	if !m.IsAvailable() {
		t.Fatal("expected IsAvailable to be true")
	}

	ciphertext, err := m.Encrypt([]byte("super-secret-token"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	plaintext, err := m.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "super-secret-token" {
		t.Fatalf("got %q, want %q", plaintext, "super-secret-token")
	}
}

func TestMemoryStoreRejectsTamperedCiphertext(t *testing.T) {
	m, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	ciphertext, err := m.Encrypt([]byte("token"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF

	if _, err := m.Decrypt(ciphertext); err == nil {
		t.Fatal("expected decrypt of tampered ciphertext to fail")
	}
}

func TestMemoryStoreRejectsTruncatedCiphertext(t *testing.T) {
	m, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	if _, err := m.Decrypt([]byte("short")); err == nil {
		t.Fatal("expected decrypt of truncated ciphertext to fail")
	}
}

func TestTwoStoresUseIndependentKeys(t *testing.T) {
	a, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	b, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}

	ciphertext, err := a.Encrypt([]byte("token"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := b.Decrypt(ciphertext); err == nil {
		t.Fatal("expected decrypt with a different store's key to fail")
	}
}
