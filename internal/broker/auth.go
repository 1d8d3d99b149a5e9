package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"wheelhouse/internal/config"
)

// RefreshTokens exchanges the stored refresh token for a fresh token pair.
// The caller persists the result with config.SaveTokens.
func RefreshTokens(ctx context.Context, cfg config.Schwab, refreshToken string) (*config.Tokens, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(cfg.AppKey + ":" + cfg.AppSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("token refresh: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: "token refresh", Code: resp.StatusCode}
	}

	var auth struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &auth); err != nil {
		return nil, fmt.Errorf("token refresh: decoding response: %w", err)
	}
	if auth.AccessToken == "" || auth.RefreshToken == "" {
		return nil, fmt.Errorf("token refresh: response missing tokens")
	}
	return &config.Tokens{
		RefreshToken: auth.RefreshToken,
		AccessToken:  auth.AccessToken,
	}, nil
}
