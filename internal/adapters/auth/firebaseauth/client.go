package firebaseauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"

	"github.com/socialme/messenger/internal/domain"
)

// signInEndpoint is the Identity Toolkit password sign-in REST endpoint. The
// Admin SDK manages users and verifies tokens but does not check passwords,
// so password sign-in goes through the same REST surface web clients use.
const signInEndpoint = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithPassword"

// Client implements domain.Authenticator on Firebase Auth.
type Client struct {
	auth   *auth.Client
	apiKey string
	http   *http.Client
}

func NewClient(ctx context.Context, projectID, apiKey string) (*Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firebase auth")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("web API key is required for password sign-in")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("creating firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating firebase auth client: %w", err)
	}

	return &Client{
		auth:   authClient,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *Client) SignUpWithPassword(ctx context.Context, email, password string) (*domain.Identity, error) {
	params := (&auth.UserToCreate{}).Email(email).Password(password)

	u, err := c.auth.CreateUser(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("sign-up failed: %w", err)
	}
	return identityFromRecord(u), nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domain.Identity, error) {
	body, err := json.Marshal(map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signInEndpoint+"?key="+c.apiKey, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sign-in request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, fmt.Errorf("sign-in rejected: %s", friendlyAuthError(errResp.Error.Message))
	}

	var ok struct {
		LocalID string `json:"localId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
		return nil, fmt.Errorf("sign-in response decode: %w", err)
	}

	u, err := c.auth.GetUser(ctx, ok.LocalID)
	if err != nil {
		return nil, fmt.Errorf("loading signed-in user: %w", err)
	}
	return identityFromRecord(u), nil
}

func (c *Client) SignInWithGoogle(ctx context.Context, idToken string) (*domain.Identity, error) {
	tok, err := c.auth.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("federated token rejected: %w", err)
	}

	u, err := c.auth.GetUser(ctx, tok.UID)
	if err != nil {
		return nil, fmt.Errorf("loading federated user: %w", err)
	}
	return identityFromRecord(u), nil
}

// SignOut ends the local session. Firebase sessions are client-held tokens;
// nothing needs revoking server-side for a single-device sign-out.
func (c *Client) SignOut(ctx context.Context) error {
	return nil
}

func identityFromRecord(u *auth.UserRecord) *domain.Identity {
	return &domain.Identity{
		UID:         domain.UserID(u.UID),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
	}
}

func friendlyAuthError(code string) string {
	switch code {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS":
		return "invalid email or password"
	case "USER_DISABLED":
		return "this account has been disabled"
	case "TOO_MANY_ATTEMPTS_TRY_LATER":
		return "too many attempts, try again later"
	default:
		if code == "" {
			return "authentication service unavailable"
		}
		return code
	}
}
