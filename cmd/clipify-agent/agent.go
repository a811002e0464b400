package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/suhailma1ik/clipify/internal/auth"
	"github.com/suhailma1ik/clipify/internal/config"
	"github.com/suhailma1ik/clipify/internal/logger"
	"github.com/suhailma1ik/clipify/internal/utils"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// startAgent wires the agent lifecycle: restore any stored session, then
// listen on the loopback port for forwarded deep-link callbacks.
func startAgent(lc fx.Lifecycle, svc *auth.Service, cfg *config.Config) {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			utils.WriteError(w, "method_not_allowed", "use POST", http.StatusMethodNotAllowed)
			return
		}
		uri := r.FormValue("uri")
		if uri == "" {
			utils.WriteError(w, "missing_uri", "form field 'uri' is required", http.StatusBadRequest)
			return
		}
		if err := svc.HandleCallback(uri); err != nil {
			logger.Warn("Forwarded callback was not consumed", zap.Error(err))
		}
		utils.WriteJSON(w, map[string]string{"status": "accepted"})
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			svc.CheckExistingAuth()

			// Loopback only: forwarded callbacks never leave the machine.
			addr := fmt.Sprintf("127.0.0.1:%d", cfg.Agent.CallbackPort)
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to bind callback listener on %s: %w", addr, err)
			}
			logger.Info("Agent listening for deep-link callbacks", zap.String("addr", addr))

			go func() {
				if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
					logger.Error("Callback listener stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			err := server.Shutdown(shutdownCtx)
			_ = logger.Sync()
			return err
		},
	})
}
