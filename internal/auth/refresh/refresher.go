// Package refresh exchanges the stored refresh token for a new access token
// and rewrites the token store as a whole.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/suhailma1ik/clipify/internal/auth/autherr"
	"github.com/suhailma1ik/clipify/internal/auth/models"
	"github.com/suhailma1ik/clipify/internal/auth/store"
	"github.com/suhailma1ik/clipify/internal/config"
	"github.com/suhailma1ik/clipify/internal/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const refreshPath = "/api/v1/auth/refresh"

// ErrNoRefreshToken means there is nothing to exchange; the user must log in.
var ErrNoRefreshToken = errors.New("no refresh token available")

// Refresher performs the refresh-token exchange. Concurrent callers share a
// single in-flight exchange; every waiter gets the same outcome.
type Refresher struct {
	store   *store.Store
	client  *http.Client
	baseURL string
	group   singleflight.Group
	now     func() time.Time
}

type Params struct {
	fx.In

	Store  *store.Store
	Config *config.Config
}

func NewRefresher(params Params) *Refresher {
	timeout := params.Config.API.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Refresher{
		store:   params.Store,
		client:  &http.Client{Timeout: timeout},
		baseURL: params.Config.API.BaseURL,
		now:     time.Now,
	}
}

// Refresh renews the stored access token. A nil return means the store now
// holds a fresh record. An autherr-typed return means the refresh token was
// rejected and the credential set has been wiped; any other error is
// transient and leaves stored credentials untouched.
func (r *Refresher) Refresh(ctx context.Context) error {
	_, err, shared := r.group.Do("refresh", func() (interface{}, error) {
		// The exchange is shared by every joined waiter, so it must not die
		// with the first caller's context. The HTTP client timeout bounds it.
		return nil, r.refresh(context.WithoutCancel(ctx))
	})
	if shared {
		logger.Debug("Joined in-flight token refresh")
	}
	return err
}

func (r *Refresher) refresh(ctx context.Context) error {
	refreshToken := r.store.GetRefreshToken()
	if refreshToken == "" {
		return ErrNoRefreshToken
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+refreshPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+refreshToken)

	resp, err := r.client.Do(req)
	if err != nil {
		// Transient by definition: never destroy credentials on a flaky network.
		return fmt.Errorf("refresh request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("Failed to close refresh response body", zap.Error(closeErr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The refresh token itself is dead. Wipe everything so callers see a
		// clean unauthenticated state instead of retry loops.
		logger.Warn("Refresh token rejected, clearing stored credentials",
			zap.Int("status", resp.StatusCode))
		if clearErr := r.store.ClearAllTokens(); clearErr != nil {
			logger.Error("Failed to clear tokens after refresh rejection", zap.Error(clearErr))
		}
		return autherr.New(autherr.KindRefreshFailed, "refresh",
			fmt.Errorf("refresh endpoint answered %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("refresh endpoint answered %d", resp.StatusCode)
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}

	record, err := parsed.toRecord(refreshToken, r.now())
	if err != nil {
		return err
	}
	if err := r.store.StoreTokenInfo(record); err != nil {
		return fmt.Errorf("failed to store refreshed tokens: %w", err)
	}
	if parsed.User != nil {
		if err := r.store.StoreUserProfile(parsed.User); err != nil {
			logger.Warn("Failed to store refreshed user profile", zap.Error(err))
		}
	}

	logger.Info("Access token refreshed", zap.Int64("expires_at", record.ExpiresAt))
	return nil
}

// refreshResponse tolerates both field spellings the identity service has
// used over time.
type refreshResponse struct {
	AccessToken  string              `json:"access_token"`
	Token        string              `json:"token"`
	RefreshToken string              `json:"refresh_token"`
	ExpiresIn    int64               `json:"expires_in"`
	ExpiresInAlt int64               `json:"expiresIn"`
	TokenType    string              `json:"token_type"`
	Scope        string              `json:"scope"`
	User         *models.UserProfile `json:"user,omitempty"`
}

func (p *refreshResponse) toRecord(priorRefreshToken string, now time.Time) (*models.TokenRecord, error) {
	accessToken := p.AccessToken
	if accessToken == "" {
		accessToken = p.Token
	}
	if accessToken == "" {
		return nil, fmt.Errorf("refresh response carried no access token")
	}

	record := &models.TokenRecord{
		AccessToken:  accessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		Scope:        p.Scope,
		IssuedAt:     now.Unix(),
	}
	if record.RefreshToken == "" {
		// The server rotates refresh tokens only sometimes; keep the prior
		// one when no replacement was issued.
		record.RefreshToken = priorRefreshToken
	}
	if record.TokenType == "" {
		record.TokenType = "Bearer"
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = p.ExpiresInAlt
	}
	if expiresIn > 0 {
		record.ExpiresAt = now.Add(time.Duration(expiresIn) * time.Second).Unix()
	}
	return record, nil
}

// Module provides the refresh service dependencies
var Module = fx.Module("refresh",
	fx.Provide(
		NewRefresher,
	),
)
