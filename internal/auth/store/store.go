// Package store persists access and refresh tokens, token metadata, and the
// user profile, preferring the platform keyring and degrading to an
// owner-only file when that capability is missing.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suhailma1ik/clipify/internal/auth/models"
	"github.com/suhailma1ik/clipify/internal/config"
	"github.com/suhailma1ik/clipify/internal/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Logical vault keys. Callers go through the Store; the layout is an
// internal contract shared only with older client versions.
const (
	keyAccessToken   = "access_token"
	keyRefreshToken  = "refresh_token"
	keyTokenMetadata = "token_metadata"
	keyUserInfo      = "user_info"
)

// DefaultExpiryBuffer is subtracted from the stored expiry when the config
// does not set one.
const DefaultExpiryBuffer = 5 * time.Minute

type tokenMetadata struct {
	TokenType string `json:"tokenType"`
	Scope     string `json:"scope,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	IssuedAt  int64  `json:"issuedAt,omitempty"`
}

type storedProfile struct {
	models.UserProfile
	StoredAt int64 `json:"storedAt"`
}

// Store is the single durable home of the credential set. It has no
// cross-call locking; concurrent writers are last-writer-wins.
type Store struct {
	vault  Vault
	buffer time.Duration
	now    func() time.Time
}

type Params struct {
	fx.In

	Vault  Vault
	Config *config.Config
}

// NewStore creates a token store over the given vault.
func NewStore(params Params) *Store {
	buffer := params.Config.Auth.ExpiryBuffer
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	return &Store{
		vault:  params.Vault,
		buffer: buffer,
		now:    time.Now,
	}
}

// StoreTokenInfo replaces the persisted credential set with the given record.
// The record is written as one logical transaction; vaults without batch
// support carry a small partial-failure window between the underlying writes.
func (s *Store) StoreTokenInfo(record *models.TokenRecord) error {
	if record == nil || record.AccessToken == "" {
		return fmt.Errorf("access token must be a non-empty string")
	}
	// JWT-shaped tokens must have exactly header.payload.signature.
	if strings.Contains(record.AccessToken, ".") && len(strings.Split(record.AccessToken, ".")) != 3 {
		return fmt.Errorf("access token looks like a JWT but is malformed")
	}

	issuedAt := record.IssuedAt
	if issuedAt == 0 {
		issuedAt = s.now().Unix()
	}
	meta := tokenMetadata{
		TokenType: record.TokenType,
		Scope:     record.Scope,
		ExpiresAt: record.ExpiresAt,
		IssuedAt:  issuedAt,
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal token metadata: %w", err)
	}

	entries := map[string]*string{
		keyAccessToken:   &record.AccessToken,
		keyTokenMetadata: ptr(string(rawMeta)),
		keyRefreshToken:  nil,
	}
	if record.RefreshToken != "" {
		entries[keyRefreshToken] = &record.RefreshToken
	}
	return s.writeAll(entries)
}

// StoreUserProfile persists the profile annotated with a storedAt timestamp.
func (s *Store) StoreUserProfile(profile *models.UserProfile) error {
	if profile == nil {
		return s.vault.Delete(keyUserInfo)
	}
	raw, err := json.Marshal(storedProfile{UserProfile: *profile, StoredAt: s.now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal user profile: %w", err)
	}
	return s.vault.Set(keyUserInfo, string(raw))
}

// GetAccessToken returns the stored token, or "" when no token is stored or
// the stored one is within the expiry buffer of its deadline.
func (s *Store) GetAccessToken() string {
	token, err := s.vault.Get(keyAccessToken)
	if errors.Is(err, ErrNotFound) {
		return ""
	}
	if err != nil {
		logger.Warn("Failed to read access token", zap.Error(err))
		return ""
	}

	meta := s.metadata()
	if meta != nil && meta.ExpiresAt != 0 {
		record := models.TokenRecord{ExpiresAt: meta.ExpiresAt}
		if record.Expired(s.now(), s.buffer) {
			logger.Debug("Stored access token is expired", zap.Int64("expires_at", meta.ExpiresAt))
			return ""
		}
	}
	return token
}

// HasValidAccessToken reports whether a non-expired access token is stored.
func (s *Store) HasValidAccessToken() bool {
	return s.GetAccessToken() != ""
}

// GetRefreshToken returns the stored refresh token, or "" when absent.
func (s *Store) GetRefreshToken() string {
	token, err := s.vault.Get(keyRefreshToken)
	if errors.Is(err, ErrNotFound) {
		return ""
	}
	if err != nil {
		logger.Warn("Failed to read refresh token", zap.Error(err))
		return ""
	}
	return token
}

// HasRefreshToken reports whether a refresh token is stored.
func (s *Store) HasRefreshToken() bool {
	return s.GetRefreshToken() != ""
}

// GetTokenRecord reconstructs the stored record regardless of expiry.
// Refresh needs the raw credential set even when the access token is stale.
func (s *Store) GetTokenRecord() *models.TokenRecord {
	token, err := s.vault.Get(keyAccessToken)
	if err != nil {
		return nil
	}
	record := &models.TokenRecord{
		AccessToken:  token,
		RefreshToken: s.GetRefreshToken(),
		TokenType:    "Bearer",
	}
	if meta := s.metadata(); meta != nil {
		if meta.TokenType != "" {
			record.TokenType = meta.TokenType
		}
		record.Scope = meta.Scope
		record.ExpiresAt = meta.ExpiresAt
		record.IssuedAt = meta.IssuedAt
	}
	return record
}

// GetUserProfile returns the stored profile, or nil when absent or unreadable.
func (s *Store) GetUserProfile() *models.UserProfile {
	raw, err := s.vault.Get(keyUserInfo)
	if err != nil {
		return nil
	}
	var stored storedProfile
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		logger.Warn("Stored user profile is not valid JSON", zap.Error(err))
		return nil
	}
	profile := stored.UserProfile
	return &profile
}

// ClearAllTokens deletes the full credential set. Idempotent.
func (s *Store) ClearAllTokens() error {
	return s.writeAll(map[string]*string{
		keyAccessToken:   nil,
		keyRefreshToken:  nil,
		keyTokenMetadata: nil,
		keyUserInfo:      nil,
	})
}

func (s *Store) metadata() *tokenMetadata {
	raw, err := s.vault.Get(keyTokenMetadata)
	if err != nil {
		return nil
	}
	var meta tokenMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		logger.Warn("Stored token metadata is not valid JSON", zap.Error(err))
		return nil
	}
	return &meta
}

func (s *Store) writeAll(entries map[string]*string) error {
	if batch, ok := s.vault.(BatchVault); ok {
		return batch.SetAll(entries)
	}
	for key, value := range entries {
		var err error
		if value == nil {
			err = s.vault.Delete(key)
		} else {
			err = s.vault.Set(key, *value)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	return nil
}

func ptr(s string) *string { return &s }

// Module provides the token store dependencies
var Module = fx.Module("store",
	fx.Provide(
		func(cfg *config.Config) (Vault, error) {
			return NewVault(&cfg.Storage)
		},
		NewStore,
	),
)
