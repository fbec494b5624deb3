package auth

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Errorf("Hash() = %q, want a bcrypt hash", hash)
	}
	if !h.Verify("secret1", hash) {
		t.Error("Verify() rejected the correct password")
	}
	if h.Verify("secret2", hash) {
		t.Error("Verify() accepted a wrong password")
	}
	if h.Verify("secret1", "") {
		t.Error("Verify() accepted an empty hash")
	}

	again, err := h.Hash("secret1")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if again == hash {
		t.Error("Hash() should salt each hash")
	}
}

func TestBcryptHasher_LongPasswords(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	// bcrypt alone only looks at the first 72 bytes
	long := strings.Repeat("a", 100)
	hash, err := h.Hash(long)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if h.Verify(long[:72]+"b", hash) {
		t.Error("passwords differing after byte 72 must not match")
	}
	if !h.Verify(long, hash) {
		t.Error("Verify() rejected the correct long password")
	}
}

func TestNewBcryptHasher_CostBounds(t *testing.T) {
	if got := NewBcryptHasher(0).cost; got != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want default %d", got, bcrypt.DefaultCost)
	}
	if got := NewBcryptHasher(bcrypt.MaxCost + 1).cost; got != bcrypt.DefaultCost {
		t.Errorf("cost = %d, want default %d", got, bcrypt.DefaultCost)
	}
}
