// Package auth owns the login/logout lifecycle and is the single source of
// truth for the client's authentication state.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/suhailma1ik/clipify/internal/auth/deeplink"
	"github.com/suhailma1ik/clipify/internal/auth/models"
	"github.com/suhailma1ik/clipify/internal/auth/store"
	"github.com/suhailma1ik/clipify/internal/browser"
	"github.com/suhailma1ik/clipify/internal/config"
	"github.com/suhailma1ik/clipify/internal/logger"
	"github.com/suhailma1ik/clipify/internal/notify"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	logoutPath   = "/api/v1/auth/logout"
	callbackPath = "auth/callback"
)

// State is the authentication state published to subscribers. Snapshots are
// value copies; mutating one never affects the authoritative state.
type State struct {
	IsAuthenticated bool
	IsLoading       bool
	User            *models.UserProfile
	Error           string
}

func (s State) clone() State {
	if s.User != nil {
		user := *s.User
		s.User = &user
	}
	return s
}

// Listener receives state snapshots. Listeners are invoked after the
// mutating call has released the service lock, so a listener may call back
// into the Service. A panicking listener is isolated and logged.
type Listener func(State)

// Opener opens a URL in the user's default browser.
type Opener interface {
	OpenURL(url string) error
}

// Service coordinates browser-delegated login, callback consumption, token
// persistence, and logout. One instance exists per process.
type Service struct {
	mu        sync.Mutex
	state     State
	session   string // current login session identifier, "" when none in flight
	listeners map[int]Listener
	nextID    int

	store    *store.Store
	opener   Opener
	notifier notify.Notifier
	client   *http.Client

	baseURL   string
	loginPath string
	scheme    string
	now       func() time.Time
}

type Params struct {
	fx.In

	Store    *store.Store
	Opener   Opener
	Notifier notify.Notifier
	Config   *config.Config
}

func NewService(params Params) *Service {
	timeout := params.Config.API.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		listeners: make(map[int]Listener),
		store:     params.Store,
		opener:    params.Opener,
		notifier:  params.Notifier,
		client:    &http.Client{Timeout: timeout},
		baseURL:   params.Config.API.BaseURL,
		loginPath: params.Config.Auth.LoginPath,
		scheme:    params.Config.Auth.Scheme,
		now:       time.Now,
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (s *Service) Subscribe(listener Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = listener

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// CurrentState returns a snapshot of the authentication state.
func (s *Service) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Login starts a fresh login attempt, invalidating any prior in-flight
// session, and opens the external login page. Browser failures surface
// through the state, never as a returned error.
func (s *Service) Login() {
	s.mu.Lock()
	s.session = newSessionID(s.now())
	s.state.IsLoading = true
	s.state.Error = ""
	session := s.session
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()

	loginURL := s.buildLoginURL(session)
	logger.Info("Starting login", zap.String("session", session))

	if err := s.opener.OpenURL(loginURL); err != nil {
		logger.Error("Failed to open login page", zap.Error(err))
		s.mu.Lock()
		s.state.IsLoading = false
		s.state.Error = "Could not open the browser for login"
		notify = s.publishLocked()
		s.mu.Unlock()
		notify()
	}
}

// CancelLogin abandons the in-flight attempt. A callback for the cancelled
// session is later dropped as stale. Idempotent.
func (s *Service) CancelLogin() {
	s.mu.Lock()
	if s.session != "" {
		logger.Info("Login cancelled", zap.String("session", s.session))
	}
	s.session = ""
	s.state.IsLoading = false
	s.state.Error = ""
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()
}

// HandleCallback consumes a deep-link callback URI. Callbacks arriving with
// no live session are dropped without any state change: the attempt was
// cancelled or superseded, and that is not an error.
func (s *Service) HandleCallback(uri string) error {
	s.mu.Lock()
	if s.session == "" {
		s.mu.Unlock()
		logger.Info("Dropping stale login callback, no session in flight")
		return nil
	}
	s.mu.Unlock()

	payload, parseErr := deeplink.Parse(uri)

	s.mu.Lock()
	// The session may have been cancelled while parsing.
	if s.session == "" {
		s.mu.Unlock()
		logger.Info("Dropping stale login callback, session ended during parse")
		return nil
	}

	// A callback for a superseded attempt echoes the old session identifier.
	if payload != nil && payload.State != "" && payload.State != s.session {
		s.mu.Unlock()
		logger.Info("Dropping stale login callback for superseded session",
			zap.String("callback_session", payload.State))
		return nil
	}

	if parseErr != nil {
		// A failed attempt must not log out an already-authenticated user,
		// so IsAuthenticated stays untouched.
		s.state.IsLoading = false
		s.state.Error = parseErr.Error()
		notify := s.publishLocked()
		s.mu.Unlock()
		notify()
		s.notifier.LoginFailed(parseErr.Error())
		return parseErr
	}

	record := &models.TokenRecord{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenType:    payload.TokenType,
		Scope:        payload.Scope,
		IssuedAt:     s.now().Unix(),
		ExpiresAt:    s.now().Add(time.Duration(payload.ExpiresIn) * time.Second).Unix(),
	}
	if err := s.store.StoreTokenInfo(record); err != nil {
		logger.Error("Failed to persist login tokens", zap.Error(err))
		s.state.IsLoading = false
		s.state.Error = "Failed to save login credentials"
		notify := s.publishLocked()
		s.mu.Unlock()
		notify()
		s.notifier.LoginFailed("Failed to save login credentials")
		return err
	}
	if err := s.store.StoreUserProfile(payload.User); err != nil {
		logger.Warn("Failed to persist user profile", zap.Error(err))
	}

	logger.Info("Login callback consumed", zap.String("session", s.session))
	s.session = ""
	// The authoritative state keeps its own profile copy; the payload's
	// pointer goes to the notifier and may be mutated there.
	s.state = State{
		IsAuthenticated: true,
		IsLoading:       false,
		User:            payload.User,
		Error:           "",
	}.clone()
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()
	s.notifier.LoginSucceeded(payload.User)
	s.notifier.RaiseMainWindow()
	return nil
}

// Logout tears down the session. The remote logout call is best effort; the
// local state always ends unauthenticated.
func (s *Service) Logout(ctx context.Context) {
	s.mu.Lock()
	s.state.IsLoading = true
	notify := s.publishLocked()
	token := s.store.GetAccessToken()
	s.mu.Unlock()
	notify()

	if token != "" {
		s.remoteLogout(ctx, token)
	}

	s.mu.Lock()
	s.session = ""
	s.state = State{IsAuthenticated: false, IsLoading: false}
	if err := s.store.ClearAllTokens(); err != nil {
		// Stored credentials may survive until the next startup check, but
		// the in-memory session is gone either way.
		logger.Error("Failed to clear stored credentials on logout", zap.Error(err))
		s.state.Error = "Logout completed with errors"
	}
	notify = s.publishLocked()
	s.mu.Unlock()
	notify()
	logger.Info("Logged out")
}

func (s *Service) remoteLogout(ctx context.Context, token string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+logoutPath, nil)
	if err != nil {
		logger.Warn("Failed to build remote logout request", zap.Error(err))
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Warn("Remote logout failed, continuing with local logout", zap.Error(err))
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("Remote logout answered non-2xx, continuing with local logout",
			zap.Int("status", resp.StatusCode))
	}
}

// CheckExistingAuth hydrates the state from storage at startup, without any
// network traffic. Run once, before subscribers attach.
func (s *Service) CheckExistingAuth() {
	s.mu.Lock()
	if !s.store.HasValidAccessToken() {
		s.mu.Unlock()
		logger.Debug("No valid stored session found at startup")
		return
	}

	s.state = State{
		IsAuthenticated: true,
		User:            s.store.GetUserProfile(),
	}
	notify := s.publishLocked()
	s.mu.Unlock()
	notify()
	logger.Info("Restored authenticated session from storage")
}

func (s *Service) buildLoginURL(session string) string {
	redirect := fmt.Sprintf("%s://%s", s.scheme, callbackPath)
	return fmt.Sprintf("%s%s?redirect=%s&source=desktop&state=%s",
		s.baseURL, s.loginPath, url.QueryEscape(redirect), url.QueryEscape(session))
}

// publishLocked captures a snapshot and the current listener set. Callers
// hold s.mu and run the returned function after releasing it; listeners never
// run under the lock, so they may call back into the Service.
func (s *Service) publishLocked() func() {
	snapshot := s.state.clone()
	ids := make([]int, 0, len(s.listeners))
	fns := make([]Listener, 0, len(s.listeners))
	for id, listener := range s.listeners {
		ids = append(ids, id)
		fns = append(fns, listener)
	}
	return func() {
		for i, listener := range fns {
			s.invoke(ids[i], listener, snapshot)
		}
	}
}

func (s *Service) invoke(id int, listener Listener, snapshot State) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Auth state listener panicked",
				zap.Int("listener", id),
				zap.Any("panic", r))
		}
	}()
	listener(snapshot)
}

func newSessionID(now time.Time) string {
	return fmt.Sprintf("login_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

// Module provides the auth service dependencies
var Module = fx.Module("auth",
	fx.Provide(
		NewService,
		fx.Annotate(
			browser.NewLauncher,
			fx.As(new(Opener)),
		),
	),
)
