package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dvloznov/multibank/internal/domain"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

var (
	// ErrNoToken means the context carries no access token.
	ErrNoToken = errors.New("no access token in context")
	// ErrSessionExpired means the access token's exp claim has passed.
	ErrSessionExpired = errors.New("session expired")
	// ErrRejected means the auth service refused the access token.
	ErrRejected = errors.New("access token rejected")
)

// HTTPClient talks to a GoTrue-compatible auth endpoint. The access token is
// taken from the request context (see WithToken).
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	jwtSecret  []byte
	now        func() time.Time
}

// NewHTTPClient creates a client for the auth service at baseURL.
func NewHTTPClient(baseURL, apiKey string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		now:        time.Now,
	}
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// WithJWTSecret sets the HS256 secret access tokens are signed with. Without
// it CurrentSession never reports a session.
func (c *HTTPClient) WithJWTSecret(secret string) *HTTPClient {
	c.jwtSecret = []byte(secret)
	return c
}

// CurrentUser implements Client by calling GET /auth/v1/user. A 401 or 403
// answer wraps ErrRejected.
func (c *HTTPClient) CurrentUser(ctx context.Context) (*domain.AuthIdentity, error) {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return nil, ErrNoToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("CurrentUser: building request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("CurrentUser: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("CurrentUser: status %d: %w", resp.StatusCode, ErrRejected)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("CurrentUser: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var u userResponse
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("CurrentUser: decoding response: %w", err)
	}
	if u.ID == "" {
		return nil, nil
	}
	return &domain.AuthIdentity{ID: u.ID, Email: u.Email}, nil
}

type sessionClaims struct {
	Subject   string `json:"sub"`
	Email     string `json:"email"`
	ExpiresAt int64  `json:"exp"`
}

// CurrentSession implements Client by verifying the access token's HS256
// signature against the configured secret and reading its claims. It only
// bridges the window before CurrentUser answers.
func (c *HTTPClient) CurrentSession(ctx context.Context) (*Session, error) {
	token, ok := TokenFromContext(ctx)
	if !ok {
		return nil, ErrNoToken
	}
	if len(c.jwtSecret) == 0 {
		return nil, nil
	}

	payload, err := jws.Verify([]byte(token), jws.WithKey(jwa.HS256, c.jwtSecret))
	if err != nil {
		return nil, fmt.Errorf("CurrentSession: verifying token: %w", err)
	}

	var claims sessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("CurrentSession: decoding claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, nil
	}

	sess := &Session{
		AccessToken: token,
		User:        domain.AuthIdentity{ID: claims.Subject, Email: claims.Email},
	}
	if claims.ExpiresAt > 0 {
		sess.ExpiresAt = time.Unix(claims.ExpiresAt, 0)
		sess.User.ExpiresAt = sess.ExpiresAt
		if !c.now().Before(sess.ExpiresAt) {
			return nil, ErrSessionExpired
		}
	}
	return sess, nil
}

var _ Client = (*HTTPClient)(nil)
