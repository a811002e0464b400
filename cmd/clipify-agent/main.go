package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/suhailma1ik/clipify/internal/auth"
	"github.com/suhailma1ik/clipify/internal/auth/autherr"
	"github.com/suhailma1ik/clipify/internal/auth/refresh"
	"github.com/suhailma1ik/clipify/internal/auth/store"
	"github.com/suhailma1ik/clipify/internal/config"
	"github.com/suhailma1ik/clipify/internal/logger"
	"github.com/suhailma1ik/clipify/internal/notify"
	"github.com/suhailma1ik/clipify/internal/requester"
	"go.uber.org/fx"
)

func main() {
	_ = godotenv.Load()
	Execute()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "clipify-agent",
	Short: "Background agent for the Clipify desktop client",
	Long: `Clipify Agent keeps the desktop client signed in. It performs
browser-delegated login, receives deep-link callbacks, persists tokens in the
system keyring, and keeps the access token fresh for API calls.`,
	Run: runAgent,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func init() {
	config.InitFlags()
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(handleURLCmd)
	rootCmd.AddCommand(initConfigCmd)
}

// runAgent assembles the agent through the fx composition root and blocks
// until shutdown.
func runAgent(cmd *cobra.Command, args []string) {
	app := fx.New(
		fx.NopLogger,
		fx.Provide(config.Load),
		fx.Provide(func(s *auth.Service) *autherr.Handler {
			return autherr.NewHandler(s)
		}),
		store.Module,
		refresh.Module,
		auth.Module,
		requester.Module,
		notify.Module,
		fx.Invoke(func(cfg *config.Config) error {
			return logger.InitLogger(&cfg.Logging)
		}),
		fx.Invoke(startAgent),
	)

	app.Run()

	if err := app.Err(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

// handleURLCmd forwards a deep-link callback URI to the running agent. The
// OS URI-scheme handler registration points at this command.
var handleURLCmd = &cobra.Command{
	Use:   "handle-url <uri>",
	Short: "Forward a clipify:// callback to the running agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		endpoint := fmt.Sprintf("http://127.0.0.1:%d/callback", cfg.Agent.CallbackPort)
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.PostForm(endpoint, url.Values{"uri": {args[0]}})
		if err != nil {
			return fmt.Errorf("could not reach the clipify agent, is it running? %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("agent rejected the callback (status %d)", resp.StatusCode)
		}
		pterm.Success.Println("Callback delivered")
		return nil
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config [path]",
	Short: "Write a starter config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		pterm.Success.Printfln("Wrote default config to %s", path)
		return nil
	},
}
