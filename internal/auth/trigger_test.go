package auth

import (
	"testing"
	"time"
)

func TestTriggerSignerRoundTrip(t *testing.T) {
	s := NewTriggerSigner("test-secret")
	token, err := s.Sign("market-open")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	claims, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Scope != "market-open" {
		t.Fatalf("scope = %q, want market-open", claims.Scope)
	}
}

func TestTriggerSignerRejectsWrongSecret(t *testing.T) {
	token, err := NewTriggerSigner("secret-a").Sign("market-close")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := NewTriggerSigner("secret-b").Verify(token); err == nil {
		t.Fatal("token signed with another secret must not verify")
	}
}

func TestTriggerSignerRejectsExpired(t *testing.T) {
	s := TriggerSigner{Secret: []byte("test-secret"), TokenTTL: -time.Minute}
	token, err := s.Sign("market-update")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := s.Verify(token); err == nil {
		t.Fatal("expired token must not verify")
	}
}
