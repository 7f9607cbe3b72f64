package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"bourse/internal/auth"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"Bearer  abc123 ", "abc123"},
		{"Basic abc123", ""},
		{"abc123", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := bearerToken(tc.header); got != tc.want {
			t.Fatalf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

func newTriggerTestServer(secret string) *Server {
	return &Server{
		log:     slog.Default(),
		trigger: auth.NewTriggerSigner(secret),
	}
}

func TestTriggerHandlerAcceptsValidToken(t *testing.T) {
	s := newTriggerTestServer("trigger-secret")
	enqueued := false
	h := s.triggerHandler("market-open", func() error {
		enqueued = true
		return nil
	})

	token, err := s.trigger.Sign("market-open")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/triggers/market-open", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if !enqueued {
		t.Fatal("trigger did not enqueue")
	}
}

func TestTriggerHandlerRejectsMissingToken(t *testing.T) {
	s := newTriggerTestServer("trigger-secret")
	h := s.triggerHandler("market-open", func() error {
		t.Fatal("must not enqueue")
		return nil
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/triggers/market-open", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestTriggerHandlerRejectsScopeMismatch(t *testing.T) {
	s := newTriggerTestServer("trigger-secret")
	h := s.triggerHandler("market-close", func() error {
		t.Fatal("must not enqueue")
		return nil
	})

	token, err := s.trigger.Sign("market-open")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/triggers/market-close", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestTriggerHandlerRejectsForgedToken(t *testing.T) {
	s := newTriggerTestServer("trigger-secret")
	h := s.triggerHandler("market-update", func() error {
		t.Fatal("must not enqueue")
		return nil
	})

	forged, err := auth.NewTriggerSigner("other-secret").Sign("market-update")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/triggers/market-update", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
