package requester_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suhailma1ik/clipify/internal/auth/autherr"
	"github.com/suhailma1ik/clipify/internal/auth/models"
	"github.com/suhailma1ik/clipify/internal/auth/store"
	"github.com/suhailma1ik/clipify/internal/config"
	"github.com/suhailma1ik/clipify/internal/requester"
)

type fakeRefresher struct {
	calls atomic.Int32
	fn    func(ctx context.Context) error
}

func (r *fakeRefresher) Refresh(ctx context.Context) error {
	r.calls.Add(1)
	if r.fn != nil {
		return r.fn(ctx)
	}
	return nil
}

type fakeHandler struct {
	calls atomic.Int32
	last  error
}

func (h *fakeHandler) Handle(ctx context.Context, err error, where string) {
	h.calls.Add(1)
	h.last = err
}

type fixture struct {
	client    *requester.Client
	store     *store.Store
	refresher *fakeRefresher
	handler   *fakeHandler
}

func newFixture(t *testing.T, baseURL string) *fixture {
	t.Helper()
	cfg := &config.Config{
		API:     config.APIConfig{BaseURL: baseURL, Timeout: 2 * time.Second},
		Auth:    config.AuthConfig{ExpiryBuffer: 5 * time.Minute},
		Storage: config.StorageConfig{ServiceName: "clipify-test", Dir: t.TempDir(), DisableKeyring: true},
	}
	vault, err := store.NewVault(&cfg.Storage)
	require.NoError(t, err)
	st := store.NewStore(store.Params{Vault: vault, Config: cfg})

	refresher := &fakeRefresher{}
	handler := &fakeHandler{}
	client := requester.NewClient(requester.Params{
		Store:     st,
		Refresher: refresher,
		Failures:  handler,
		Config:    cfg,
	})
	return &fixture{client: client, store: st, refresher: refresher, handler: handler}
}

func seedToken(t *testing.T, st *store.Store, token string) {
	t.Helper()
	require.NoError(t, st.StoreTokenInfo(&models.TokenRecord{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour).Unix(),
	}))
}

func TestDo_AttachesBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	seedToken(t, f.store, "access-1")

	resp, err := f.client.Get(context.Background(), "/api/v1/clips")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestDo_FailsFastWithoutToken(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)

	_, err := f.client.Get(context.Background(), "/api/v1/clips")
	require.Error(t, err)
	assert.True(t, autherr.IsAuthError(err))
	assert.Equal(t, int32(0), hits.Load(), "no network call without a credential")
	assert.Equal(t, int32(0), f.refresher.calls.Load())
}

func TestDo_SkipAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL) // empty store

	_, err := f.client.Do(context.Background(), "/api/v1/health", requester.Options{SkipAuth: true})
	assert.NoError(t, err)
}

func TestDo_RefreshAndRetryOn401(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch hits.Add(1) {
		case 1:
			assert.Equal(t, "Bearer stale", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
		default:
			assert.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	seedToken(t, f.store, "stale")
	f.refresher.fn = func(ctx context.Context) error {
		seedToken(t, f.store, "fresh")
		return nil
	}

	resp, err := f.client.Get(context.Background(), "/api/v1/clips")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int32(1), f.refresher.calls.Load())
	assert.Equal(t, int32(0), f.handler.calls.Load())
}

func TestDo_RefreshFailureEscalates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	seedToken(t, f.store, "stale")
	f.refresher.fn = func(ctx context.Context) error {
		return autherr.New(autherr.KindRefreshFailed, "refresh", nil)
	}

	_, err := f.client.Get(context.Background(), "/api/v1/clips")
	require.Error(t, err)
	assert.True(t, autherr.IsAuthError(err))
	assert.Equal(t, int32(1), hits.Load(), "no retry after a failed refresh")
	assert.Equal(t, int32(1), f.handler.calls.Load())
}

func TestDo_SecondUnauthorizedIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	seedToken(t, f.store, "stale")
	f.refresher.fn = func(ctx context.Context) error {
		seedToken(t, f.store, "fresh")
		return nil
	}

	_, err := f.client.Get(context.Background(), "/api/v1/clips")
	require.Error(t, err)
	assert.True(t, autherr.IsAuthError(err))
	assert.Equal(t, int32(2), hits.Load(), "exactly one retry, never a refresh loop")
	assert.Equal(t, int32(1), f.refresher.calls.Load())
	assert.Equal(t, int32(1), f.handler.calls.Load())
}

func TestDo_StatusCategories(t *testing.T) {
	tests := []struct {
		status   int
		category string
	}{
		{status: http.StatusInternalServerError, category: "server error"},
		{status: http.StatusBadGateway, category: "server error"},
		{status: http.StatusForbidden, category: "access denied"},
		{status: http.StatusNotFound, category: "not found"},
		{status: http.StatusUnprocessableEntity, category: "request error"},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			f := newFixture(t, srv.URL)
			seedToken(t, f.store, "access-1")

			_, err := f.client.Get(context.Background(), "/api/v1/clips")
			require.Error(t, err)

			var apiErr *requester.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.category, apiErr.Category)
			assert.Equal(t, "nope", apiErr.Detail()["message"])
		})
	}
}

func TestPost_SendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)
	seedToken(t, f.store, "access-1")

	resp, err := f.client.Post(context.Background(), "/api/v1/clips", map[string]string{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}
