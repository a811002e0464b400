// Package notify is the boundary to the host UI layer: login outcome
// notifications and window-visibility requests cross it, nothing else.
package notify

import (
	"github.com/suhailma1ik/clipify/internal/auth/models"
	"github.com/suhailma1ik/clipify/internal/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Notifier is implemented by the host window/tray glue. Implementations must
// tolerate being called from any goroutine.
type Notifier interface {
	// LoginSucceeded announces a completed login. user may be nil when the
	// callback carried no profile.
	LoginSucceeded(user *models.UserProfile)

	// LoginFailed announces a failed login attempt with a user-facing reason.
	LoginFailed(reason string)

	// RaiseMainWindow asks the host to bring the main window to the
	// foreground. Issued once per successful login.
	RaiseMainWindow()
}

// LogNotifier is the headless default used when no UI host is attached.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) LoginSucceeded(user *models.UserProfile) {
	if user != nil {
		logger.Info("Login succeeded", zap.String("user_id", user.ID))
		return
	}
	logger.Info("Login succeeded")
}

func (n *LogNotifier) LoginFailed(reason string) {
	logger.Warn("Login failed", zap.String("reason", reason))
}

func (n *LogNotifier) RaiseMainWindow() {
	logger.Debug("Window foreground requested without an attached UI host")
}

// Module provides the host bridge dependencies
var Module = fx.Module("notify",
	fx.Provide(
		fx.Annotate(
			NewLogNotifier,
			fx.As(new(Notifier)),
		),
	),
)
