package upstox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// AuthError reports a failed feed authorization. Status is zero when the
// request never got an HTTP answer.
type AuthError struct {
	Status int
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authorize market data feed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("authorize market data feed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

type authorizeResponse struct {
	Status string `json:"status"`
	Data   struct {
		AuthorizedRedirectURI      string `json:"authorized_redirect_uri"`
		AuthorizedRedirectURICamel string `json:"authorizedRedirectUri"`
	} `json:"data"`
}

// Authorize exchanges the access token for a one-time websocket URL.
func (c *Client) Authorize(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.AuthorizeURL, nil)
	if err != nil {
		return "", &AuthError{Err: err}
	}

	resp, err := c.do(req, "authorize", "")
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return "", &AuthError{Status: se.Status, Err: err}
		}
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	var body authorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &AuthError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	uri := body.Data.AuthorizedRedirectURI
	if uri == "" {
		uri = body.Data.AuthorizedRedirectURICamel
	}
	if uri == "" {
		return "", &AuthError{Status: resp.StatusCode, Err: errors.New("response has no authorized_redirect_uri")}
	}
	return uri, nil
}
