package cmd

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tally-ai/tally/internal/ai"
	"github.com/tally-ai/tally/internal/waitlist"
)

const (
	app       = "tally"
	envPrefix = "TALLY"
)

type Config struct {
	APIURL    string                `mapstructure:"api-url"`
	SiteURL   string                `mapstructure:"site-url"`
	UserAgent string                `mapstructure:"user-agent"`
	StateDir  string                `mapstructure:"state-dir"`
	Survey    *SurveyConfig         `mapstructure:"survey"`
	Auth      *AuthConfig           `mapstructure:"auth"`
	Chat      ai.Config             `mapstructure:"chat"`
	Gemini    *GeminiConfig         `mapstructure:"gemini"`
	Serve     waitlist.ServerConfig `mapstructure:"serve"`
}

type SurveyConfig struct {
	// Backend is "waitlist" or "local".
	Backend                 string        `mapstructure:"backend"`
	TransitionDelay         time.Duration `mapstructure:"transition-delay"`
	AllowBackFromDone       bool          `mapstructure:"allow-back-from-done"`
	RequireEmailForLinkedin bool          `mapstructure:"require-email-for-linkedin"`
}

type AuthConfig struct {
	URL         string `mapstructure:"url"`
	APIKey      string `mapstructure:"api-key"`
	APIKeyFile  string `mapstructure:"api-key-file"`
	RedirectURL string `mapstructure:"redirect-url"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "tally is a cli for the Tally onboarding survey, resumes and assistant",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is tally.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

// setDefaults registers every key so TALLY_* variables are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	chat := ai.DefaultConfig()

	v.SetDefault("api-url", "http://localhost:8000")
	v.SetDefault("site-url", "http://localhost:3000")
	v.SetDefault("user-agent", "")
	v.SetDefault("state-dir", "")

	v.SetDefault("survey.backend", "waitlist")
	v.SetDefault("survey.transition-delay", time.Second)
	v.SetDefault("survey.allow-back-from-done", false)
	v.SetDefault("survey.require-email-for-linkedin", true)

	v.SetDefault("auth.url", "")
	v.SetDefault("auth.api-key", "")
	v.SetDefault("auth.api-key-file", "")
	v.SetDefault("auth.redirect-url", "http://localhost:3000/auth/callback")

	v.SetDefault("chat.provider", chat.Provider)
	v.SetDefault("chat.model", chat.Model)
	v.SetDefault("chat.temperature", chat.Temperature)
	v.SetDefault("chat.max-tokens", chat.MaxTokens)
	v.SetDefault("chat.max-retries", chat.MaxRetries)
	v.SetDefault("chat.system-prompt", "")

	v.SetDefault("gemini.api-key", "")
	v.SetDefault("gemini.api-key-file", "")

	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("serve.allowed-origins", []string{})
	v.SetDefault("serve.dsn", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	if err := readConfig(viper.GetViper(), cfgFile); err != nil {
		log.Fatal(err)
	}
}

// readConfig reads an explicit config file, or tally.yaml from the working
// directory when it exists.
func readConfig(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
		return v.ReadInConfig()
	}

	v.AddConfigPath(".")
	v.SetConfigName(app)
	v.SetConfigType("yaml")

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func getConfig() (*Config, error) {
	return decodeConfig(viper.GetViper())
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	var config *Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Survey == nil {
		config.Survey = &SurveyConfig{Backend: "waitlist", RequireEmailForLinkedin: true}
	}
	if config.Auth == nil {
		config.Auth = &AuthConfig{}
	}
	if config.Gemini == nil {
		config.Gemini = &GeminiConfig{}
	}

	return config, nil
}

// stateDir returns where sessions and survey progress are kept.
func (c *Config) stateDir() (string, error) {
	if c.StateDir != "" {
		return c.StateDir, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(base, app), nil
}
