package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestVerifyAccessTokenSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Fatalf("authorization = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Fatalf("apikey = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"user-1","email":"p@example.com"}`))
	}))
	defer srv.Close()

	c := NewIdentityClient(srv.URL, "anon-key")
	user, err := c.VerifyAccessToken(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if user.ID != "user-1" || user.Email != "p@example.com" {
		t.Fatalf("user = %+v", user)
	}
}

func TestVerifyAccessTokenDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
	}))
	defer srv.Close()

	c := NewIdentityClient(srv.URL, "anon-key")
	_, err := c.VerifyAccessToken(context.Background(), "bad")
	if !errors.Is(err, ErrIdentityDenied) {
		t.Fatalf("err = %v, want ErrIdentityDenied", err)
	}
	if !strings.Contains(err.Error(), "invalid JWT") {
		t.Fatalf("err = %v, want provider message", err)
	}
}

func TestVerifyAccessTokenProviderDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewIdentityClient(srv.URL, "anon-key")
	_, err := c.VerifyAccessToken(context.Background(), "tok-1")
	if !errors.Is(err, ErrIdentityUnavailable) {
		t.Fatalf("err = %v, want ErrIdentityUnavailable", err)
	}
}

func TestVerifyAccessTokenEmptyUserDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewIdentityClient(srv.URL, "anon-key")
	_, err := c.VerifyAccessToken(context.Background(), "tok-1")
	if !errors.Is(err, ErrIdentityDenied) {
		t.Fatalf("err = %v, want ErrIdentityDenied", err)
	}
}

func TestLoginDeniedCarriesProviderReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" || r.URL.Query().Get("grant_type") != "password" {
			t.Fatalf("url = %s", r.URL.String())
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_description":"Invalid login credentials"}`))
	}))
	defer srv.Close()

	c := NewIdentityClient(srv.URL, "anon-key")
	_, err := c.Login(context.Background(), "p@example.com", "wrong")
	if !errors.Is(err, ErrIdentityDenied) {
		t.Fatalf("err = %v, want ErrIdentityDenied", err)
	}
	if !strings.Contains(err.Error(), "Invalid login credentials") {
		t.Fatalf("err = %v, want provider reason", err)
	}
}

func TestSignUpReturnsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/signup" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","refresh_token":"rt","user":{"id":"user-2","email":"n@example.com"}}`))
	}))
	defer srv.Close()

	c := NewIdentityClient(srv.URL, "anon-key")
	sess, err := c.SignUp(context.Background(), "n@example.com", "pw")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if sess.AccessToken != "at" || sess.User.ID != "user-2" {
		t.Fatalf("session = %+v", sess)
	}
}
