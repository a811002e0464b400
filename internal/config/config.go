package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("clipify-agent version %s, commit %s, built at %s", version, commit, date)
}

type Config struct {
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
}

// APIConfig describes the remote Clipify API this client talks to.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AuthConfig describes the browser login flow and token handling knobs.
type AuthConfig struct {
	// Scheme is the custom URI scheme the OS routes back into the app,
	// e.g. "clipify" for clipify://auth/callback.
	Scheme    string `mapstructure:"scheme" yaml:"scheme"`
	LoginPath string `mapstructure:"login_path" yaml:"login_path"`
	// ExpiryBuffer is subtracted from the stored expiry so a token is
	// treated as expired slightly before it truly is.
	ExpiryBuffer time.Duration `mapstructure:"expiry_buffer" yaml:"expiry_buffer"`
}

// StorageConfig describes where tokens and the user profile are persisted.
type StorageConfig struct {
	// ServiceName namespaces keyring entries and the fallback file.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	// Dir overrides the fallback file location; defaults to the user config dir.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// DisableKeyring forces the file fallback, mainly for tests and headless hosts.
	DisableKeyring bool `mapstructure:"disable_keyring" yaml:"disable_keyring"`
}

type LoggingConfig struct {
	Level             string `mapstructure:"level" yaml:"level"`
	Format            string `mapstructure:"format" yaml:"format"`
	Color             bool   `mapstructure:"color" yaml:"color"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace" yaml:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path" yaml:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file" yaml:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console" yaml:"disable_console"`
}

// AgentConfig configures the local agent process itself.
type AgentConfig struct {
	// CallbackPort is the loopback port secondary invocations use to forward
	// deep-link URIs to the running agent.
	CallbackPort int `mapstructure:"callback_port" yaml:"callback_port"`
}

const (
	defaultAPIBaseURL   = "https://api.clipify.space"
	defaultScheme       = "clipify"
	defaultLoginPath    = "/auth/login"
	defaultServiceName  = "clipify-desktop"
	defaultCallbackPort = 47923
)

// InitFlags initializes command line flags (without parsing)
func InitFlags() {
	pflag.String("api.base_url", "", "Base URL of the Clipify API")
	pflag.String("logging.level", "", "Log level (debug|info|warn|error)")
	pflag.Bool("storage.disable_keyring", false, "Skip the system keyring and use file storage")
	// Note: no pflag.Parse() here as it's called in main.go
}

func Load() (*Config, error) {
	viper.Reset() // Ensure clean state

	viper.SetEnvPrefix("CLIPIFY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(dir, "clipify"))
	}

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, everything has defaults.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url is required, please adjust the config or pass --api.base_url or CLIPIFY_API_BASE_URL environment variable")
	}
	config.API.BaseURL = strings.TrimRight(config.API.BaseURL, "/")

	if config.Auth.ExpiryBuffer < 0 {
		return nil, fmt.Errorf("auth.expiry_buffer must not be negative")
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("api.base_url", defaultAPIBaseURL)
	viper.SetDefault("api.timeout", 30*time.Second)
	viper.SetDefault("auth.scheme", defaultScheme)
	viper.SetDefault("auth.login_path", defaultLoginPath)
	viper.SetDefault("auth.expiry_buffer", 5*time.Minute)
	viper.SetDefault("storage.service_name", defaultServiceName)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("agent.callback_port", defaultCallbackPort)
}

// WriteDefault writes a starter config file with all defaults filled in.
// Existing files are never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	cfg := Config{
		API:  APIConfig{BaseURL: defaultAPIBaseURL, Timeout: 30 * time.Second},
		Auth: AuthConfig{Scheme: defaultScheme, LoginPath: defaultLoginPath, ExpiryBuffer: 5 * time.Minute},
		Storage: StorageConfig{
			ServiceName: defaultServiceName,
		},
		Logging: LoggingConfig{Level: "info", Format: "console", Color: true},
		Agent:   AgentConfig{CallbackPort: defaultCallbackPort},
	}

	raw, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, raw, 0o644)
}
