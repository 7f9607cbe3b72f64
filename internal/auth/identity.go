package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Identity failures come in two kinds the API layer treats differently:
// the provider refused the credentials or token, or the provider itself
// could not be reached. Everything the client returns wraps one of
// these.
var (
	ErrIdentityDenied      = errors.New("identity provider rejected the request")
	ErrIdentityUnavailable = errors.New("identity provider unavailable")
)

// IdentityClient talks to the hosted identity provider. The engine
// never stores credentials itself; it verifies access tokens and maps
// them to player profiles.
type IdentityClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func NewIdentityClient(baseURL, apiKey string) *IdentityClient {
	return &IdentityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *IdentityClient) SignUp(ctx context.Context, email, password string) (Session, error) {
	return c.authenticate(ctx, "/auth/v1/signup", email, password)
}

func (c *IdentityClient) Login(ctx context.Context, email, password string) (Session, error) {
	return c.authenticate(ctx, "/auth/v1/token?grant_type=password", email, password)
}

func (c *IdentityClient) authenticate(ctx context.Context, path, email, password string) (Session, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return Session{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out Session
	if err := c.do(req, &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

func (c *IdentityClient) VerifyAccessToken(ctx context.Context, accessToken string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var user User
	if err := c.do(req, &user); err != nil {
		return User{}, err
	}
	if user.ID == "" {
		return User{}, fmt.Errorf("%w: token resolved to no user", ErrIdentityDenied)
	}
	return user, nil
}

// do sends the request and classifies the outcome: a 4xx means the
// provider refused this request, anything else that goes wrong means
// the provider is unreachable or broken.
func (c *IdentityClient) do(req *http.Request, out any) error {
	req.Header.Set("apikey", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		if msg := providerMessage(resp.Body); msg != "" {
			return fmt.Errorf("%w: %s", ErrIdentityDenied, msg)
		}
		return fmt.Errorf("%w: status %d", ErrIdentityDenied, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrIdentityUnavailable, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode identity response: %w", err)
	}
	return nil
}

// providerMessage pulls the human-readable reason out of the
// provider's error payload, whichever of its known fields carries it.
func providerMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	var p struct {
		Description string `json:"error_description"`
		Msg         string `json:"msg"`
		Message     string `json:"message"`
	}
	if json.Unmarshal(b, &p) == nil {
		for _, s := range []string{p.Description, p.Msg, p.Message} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(b))
}
