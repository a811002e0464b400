// Package autherr classifies authentication-class failures and funnels
// concurrent handling attempts into a single forced logout.
package autherr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/suhailma1ik/clipify/internal/logger"
	"go.uber.org/zap"
)

// Kind identifies why authentication broke.
type Kind int

const (
	// KindUnauthorized covers 401/403 answers on protected requests.
	KindUnauthorized Kind = iota + 1
	// KindTokenExpired covers locally detected expiry with no way to renew.
	KindTokenExpired
	// KindRefreshFailed covers a refresh-token exchange that did not yield
	// a usable access token.
	KindRefreshFailed
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindTokenExpired:
		return "token_expired"
	case KindRefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

// Error is an authentication failure produced at the point where it was
// detected, replacing the old message-sniffing classification.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as an authentication failure of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// legacyVocabulary matches auth failures that cross untyped boundaries, for
// example errors stringified through an IPC layer. Typed errors are the
// primary signal; this keeps the old trigger conditions working.
var legacyVocabulary = []string{
	"authentication_required",
	"unauthorized",
	"invalid or expired token",
	"token refresh failed",
	"401",
	"403",
}

// IsAuthError reports whether err is an authentication-class failure.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var authErr *Error
	if errors.As(err, &authErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range legacyVocabulary {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// Session is the part of the login coordinator the handler needs.
type Session interface {
	Logout(ctx context.Context)
}

// Handler serializes concurrent auth-failure reports into one logout.
type Handler struct {
	session  Session
	handling atomic.Bool
}

func NewHandler(session Session) *Handler {
	return &Handler{session: session}
}

// Handle triggers a logout for recognized auth errors. Reports arriving
// while a logout is already underway are dropped; the guard is released in a
// defer so a panicking logout cannot wedge it open.
func (h *Handler) Handle(ctx context.Context, err error, where string) {
	if !IsAuthError(err) {
		return
	}
	if !h.handling.CompareAndSwap(false, true) {
		logger.Debug("Auth error already being handled, skipping", zap.String("where", where))
		return
	}
	defer h.handling.Store(false)

	logger.Warn("Authentication failure, forcing logout",
		zap.String("where", where),
		zap.Error(err),
	)
	h.session.Logout(ctx)
}
