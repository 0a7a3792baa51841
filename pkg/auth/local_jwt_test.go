package auth

import (
	"testing"
	"time"
)

func TestExtractToken(t *testing.T) {
	token, err := ExtractToken("Bearer abc123")
	if err != nil {
		t.Fatalf("ExtractToken failed: %v", err)
	}
	if token != "abc123" {
		t.Errorf("Expected abc123, got %q", token)
	}

	if _, err := ExtractToken(""); err == nil {
		t.Error("Empty header should fail")
	}
	if _, err := ExtractToken("abc123"); err == nil {
		t.Error("Header without scheme should fail")
	}
	if _, err := ExtractToken("Basic abc123"); err == nil {
		t.Error("Non-bearer scheme should fail")
	}
	if _, err := ExtractToken("Bearer "); err == nil {
		t.Error("Empty token should fail")
	}
}

func TestGenerateAndVerifyToken(t *testing.T) {
	a, err := NewLocalJWTAuth("test-secret-key", 0)
	if err != nil {
		t.Fatalf("NewLocalJWTAuth failed: %v", err)
	}
	if a.AccessTokenExpiry != 15*time.Minute {
		t.Errorf("Expected 15m default expiry, got %v", a.AccessTokenExpiry)
	}

	token, err := a.GenerateToken("owner-1", "owner@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	user, err := a.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if user.ID != "owner-1" || user.Email != "owner@example.com" {
		t.Errorf("Unexpected user: %+v", user)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a, _ := NewLocalJWTAuth("secret-one", 0)
	b, _ := NewLocalJWTAuth("secret-two", 0)

	token, err := a.GenerateToken("owner-1", "owner@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := b.VerifyAccessToken(token); err == nil {
		t.Error("Token signed with another secret must be rejected")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	a, _ := NewLocalJWTAuth("test-secret-key", -time.Minute)

	token, err := a.GenerateToken("owner-1", "owner@example.com")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := a.VerifyAccessToken(token); err == nil {
		t.Error("Expired token must be rejected")
	}
}

func TestNewLocalJWTAuthRequiresSecret(t *testing.T) {
	if _, err := NewLocalJWTAuth("", 0); err == nil {
		t.Error("Empty secret should be rejected")
	}
}
