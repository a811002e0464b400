// Package deeplink decodes custom-scheme login callbacks
// (clipify://auth/callback?...) into structured payloads.
package deeplink

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/suhailma1ik/clipify/internal/auth/models"
	"github.com/suhailma1ik/clipify/internal/logger"
	"go.uber.org/zap"
)

// defaultExpiresIn applies when the callback does not carry an expiry.
const defaultExpiresIn = 24 * 60 * 60

// ErrNoAccessToken is returned when the callback carries neither a token nor
// an explicit error parameter. The message is surfaced to the user as-is.
var ErrNoAccessToken = errors.New("No access token found in callback")

// CallbackError is the structured form of an explicit error callback
// (?error=<code>&error_description=<text>).
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("Auth error: %s - %s", e.Code, e.Description)
}

// tokenParams are query keys whose values must never reach the logs.
var tokenParams = map[string]bool{
	"token":         true,
	"refresh_token": true,
}

// Parse decodes a callback URI into a payload or a structured error. It has
// no side effects beyond redacted diagnostic logging.
func Parse(rawURI string) (*models.CallbackPayload, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("malformed callback URI: %w", err)
	}

	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("malformed callback query: %w", err)
	}

	logParams(u.Scheme, q)

	if code := q.Get("error"); code != "" {
		return nil, &CallbackError{Code: code, Description: q.Get("error_description")}
	}

	token := q.Get("token")
	if token == "" {
		return nil, ErrNoAccessToken
	}

	payload := &models.CallbackPayload{
		AccessToken:  token,
		RefreshToken: q.Get("refresh_token"),
		TokenType:    q.Get("token_type"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
		ExpiresIn:    defaultExpiresIn,
	}
	if payload.TokenType == "" {
		payload.TokenType = "Bearer"
	}
	if raw := q.Get("expires_in"); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs > 0 {
			payload.ExpiresIn = secs
		}
	}

	payload.User = parseUser(q)
	return payload, nil
}

// parseUser supports two encodings: a URL-encoded JSON object under "user",
// and discrete user_id/email/name/plan parameters as a fallback. A callback
// without profile data is valid.
func parseUser(q url.Values) *models.UserProfile {
	if raw := q.Get("user"); raw != "" {
		var user models.UserProfile
		if err := json.Unmarshal([]byte(raw), &user); err == nil && user.ID != "" {
			return &user
		}
		logger.Warn("Callback user parameter is not valid JSON, trying discrete parameters")
	}

	id := q.Get("user_id")
	email := q.Get("email")
	if id == "" || email == "" {
		return nil
	}

	name := q.Get("name")
	if name == "" {
		// Fall back to the mailbox portion of the email address.
		if at := strings.Index(email, "@"); at > 0 {
			name = email[:at]
		}
	}

	return &models.UserProfile{
		ID:    id,
		Email: email,
		Name:  name,
		Plan:  q.Get("plan"),
	}
}

func logParams(scheme string, q url.Values) {
	fields := make([]zap.Field, 0, len(q)+1)
	fields = append(fields, zap.String("scheme", scheme))
	for key := range q {
		if tokenParams[key] {
			fields = append(fields, logger.Redacted(key, q.Get(key)))
		} else {
			fields = append(fields, zap.String(key, q.Get(key)))
		}
	}
	logger.Debug("Parsed deep link callback", fields...)
}
