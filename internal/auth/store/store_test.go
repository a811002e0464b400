package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suhailma1ik/clipify/internal/auth/models"
	"github.com/suhailma1ik/clipify/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	vault, err := newFileVault(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	return &Store{vault: vault, buffer: 5 * time.Minute, now: time.Now}
}

func TestStoreTokenInfo_Validation(t *testing.T) {
	tests := []struct {
		name    string
		record  *models.TokenRecord
		wantErr bool
	}{
		{name: "nil record", record: nil, wantErr: true},
		{name: "empty access token", record: &models.TokenRecord{}, wantErr: true},
		{name: "opaque token", record: &models.TokenRecord{AccessToken: "opaque-token"}},
		{name: "well formed JWT", record: &models.TokenRecord{AccessToken: "aaa.bbb.ccc"}},
		{name: "JWT with two segments", record: &models.TokenRecord{AccessToken: "aaa.bbb"}, wantErr: true},
		{name: "JWT with four segments", record: &models.TokenRecord{AccessToken: "a.b.c.d"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			err := s.StoreTokenInfo(tt.record)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.StoreTokenInfo(&models.TokenRecord{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Scope:        "clips",
		ExpiresAt:    now.Add(time.Hour).Unix(),
	}))

	assert.Equal(t, "access-1", s.GetAccessToken())
	assert.Equal(t, "refresh-1", s.GetRefreshToken())
	assert.True(t, s.HasValidAccessToken())
	assert.True(t, s.HasRefreshToken())

	record := s.GetTokenRecord()
	require.NotNil(t, record)
	assert.Equal(t, "Bearer", record.TokenType)
	assert.Equal(t, "clips", record.Scope)
	assert.Equal(t, now.Add(time.Hour).Unix(), record.ExpiresAt)
	assert.NotZero(t, record.IssuedAt)
}

func TestStore_WholeRecordReplacement(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.StoreTokenInfo(&models.TokenRecord{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}))
	// Replacing with a record that has no refresh token must not leave the
	// old refresh token behind.
	require.NoError(t, s.StoreTokenInfo(&models.TokenRecord{
		AccessToken: "access-2",
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}))

	assert.Equal(t, "access-2", s.GetAccessToken())
	assert.False(t, s.HasRefreshToken())
}

func TestGetAccessToken_ExpiryBuffer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	buffer := 300 * time.Second

	tests := []struct {
		name      string
		expiresAt int64
		want      string
	}{
		{name: "already expired", expiresAt: now.Unix() - 10, want: ""},
		{name: "inside the buffer", expiresAt: now.Unix() + 299, want: ""},
		{name: "exactly at the buffer edge", expiresAt: now.Unix() + 300, want: ""},
		{name: "outside the buffer", expiresAt: now.Unix() + 301, want: "access-1"},
		{name: "non-expiring", expiresAt: 0, want: "access-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			s.buffer = buffer
			require.NoError(t, s.StoreTokenInfo(&models.TokenRecord{
				AccessToken: "access-1",
				ExpiresAt:   tt.expiresAt,
			}))
			s.now = func() time.Time { return now }

			assert.Equal(t, tt.want, s.GetAccessToken())
			assert.Equal(t, tt.want != "", s.HasValidAccessToken())
		})
	}
}

func TestClearAllTokens(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.StoreTokenInfo(&models.TokenRecord{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	}))
	require.NoError(t, s.StoreUserProfile(&models.UserProfile{ID: "u1", Email: "a@b.com"}))

	require.NoError(t, s.ClearAllTokens())
	assert.Empty(t, s.GetAccessToken())
	assert.False(t, s.HasRefreshToken())
	assert.Nil(t, s.GetUserProfile())

	// Clearing an empty store is not an error.
	assert.NoError(t, s.ClearAllTokens())
}

func TestStoreUserProfile(t *testing.T) {
	s := newTestStore(t)

	profile := &models.UserProfile{ID: "u1", Email: "a@b.com", Name: "Ada", Plan: "pro"}
	require.NoError(t, s.StoreUserProfile(profile))

	got := s.GetUserProfile()
	require.NotNil(t, got)
	assert.Equal(t, profile, got)

	// Nil deletes the profile without touching tokens.
	require.NoError(t, s.StoreTokenInfo(&models.TokenRecord{AccessToken: "access-1"}))
	require.NoError(t, s.StoreUserProfile(nil))
	assert.Nil(t, s.GetUserProfile())
	assert.Equal(t, "access-1", s.GetAccessToken())
}

func TestFileVault(t *testing.T) {
	t.Run("delete absent key is not an error", func(t *testing.T) {
		vault, err := newFileVault(filepath.Join(t.TempDir(), "credentials.json"))
		require.NoError(t, err)
		assert.NoError(t, vault.Delete("missing"))
	})

	t.Run("persists across reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.json")
		vault, err := newFileVault(path)
		require.NoError(t, err)
		require.NoError(t, vault.Set("k", "v"))

		reopened, err := newFileVault(path)
		require.NoError(t, err)
		got, err := reopened.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("corrupt file resets instead of failing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.json")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

		vault, err := newFileVault(path)
		require.NoError(t, err)
		_, err = vault.Get("k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("batch write replaces and deletes together", func(t *testing.T) {
		vault, err := newFileVault(filepath.Join(t.TempDir(), "credentials.json"))
		require.NoError(t, err)
		require.NoError(t, vault.Set("stale", "old"))

		fresh := "new"
		require.NoError(t, vault.SetAll(map[string]*string{
			"stale": nil,
			"fresh": &fresh,
		}))

		_, err = vault.Get("stale")
		assert.ErrorIs(t, err, ErrNotFound)
		got, err := vault.Get("fresh")
		require.NoError(t, err)
		assert.Equal(t, "new", got)
	})
}

func TestNewVault_FileFallback(t *testing.T) {
	vault, err := NewVault(&config.StorageConfig{
		ServiceName:    "clipify-test",
		Dir:            t.TempDir(),
		DisableKeyring: true,
	})
	require.NoError(t, err)
	_, ok := vault.(*fileVault)
	assert.True(t, ok)
}
