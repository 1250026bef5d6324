package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/auth"
	"github.com/tally-ai/tally/internal/logger"
	"github.com/tally-ai/tally/internal/secrets"
	"github.com/tally-ai/tally/internal/survey"
	"github.com/tally-ai/tally/internal/tally"
)

const (
	surveyStateFile = "survey.json"
	loginHint       = "run tally login"
)

// stateFs backs every file written by the cli.
var stateFs = afero.NewOsFs()

// setup builds the logger and decodes the configuration. It exits on failure.
func setup(cmd *cobra.Command) (*zap.Logger, *Config) {
	logger, err := logger.New(logger.Options{
		JSON:    viper.GetBool("json"),
		Debug:   viper.GetBool("debug"),
		Command: cmd.CommandPath(),
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	return logger, config
}

func newSessionManager(config *Config, logger *zap.Logger) (*auth.Manager, error) {
	if config.Auth.URL == "" {
		return nil, errors.New("identity provider url is not configured (set auth.url or TALLY_AUTH_URL)")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "identity api key",
		Value: config.Auth.APIKey,
		File:  config.Auth.APIKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set auth.api-key or TALLY_AUTH_API_KEY)", err)
	}

	dir, err := config.stateDir()
	if err != nil {
		return nil, err
	}

	client := auth.New(logger, config.Auth.URL, apiKey)
	if config.Auth.RedirectURL != "" {
		client.RedirectURL = config.Auth.RedirectURL
	}

	return auth.NewManager(client, auth.NewSessionStore(stateFs, dir), logger), nil
}

func newTallyClient(config *Config, logger *zap.Logger, token string) *tally.Client {
	client := tally.New(logger, token)

	if config.APIURL != "" {
		client.APIURL = config.APIURL
	}
	if config.SiteURL != "" {
		client.SiteURL = config.SiteURL
	}
	if config.UserAgent != "" {
		client.UserAgent = config.UserAgent
	}

	return client
}

// authorizedClient returns a backend client carrying a valid session token.
func authorizedClient(ctx context.Context, config *Config, logger *zap.Logger) (*tally.Client, *auth.Session, error) {
	manager, err := newSessionManager(config, logger)
	if err != nil {
		return nil, nil, err
	}

	session, err := manager.Current(ctx)
	if err != nil {
		return nil, nil, err
	}

	return newTallyClient(config, logger, session.AccessToken), session, nil
}

// optionalClient attaches a session token when one is available.
func optionalClient(ctx context.Context, config *Config, logger *zap.Logger) *tally.Client {
	client, _, err := authorizedClient(ctx, config, logger)
	if err != nil {
		logger.Debug("continuing without a session", zap.Error(err))
		return newTallyClient(config, logger, "")
	}
	return client
}

func newSurveyMachine(ctx context.Context, config *Config, logger *zap.Logger) (*survey.Machine, error) {
	client := optionalClient(ctx, config, logger)

	backend, err := tally.NewSurveyBackend(client, config.Survey.Backend)
	if err != nil {
		return nil, err
	}

	dir, err := config.stateDir()
	if err != nil {
		return nil, err
	}

	store := survey.NewFileStore(stateFs, filepath.Join(dir, surveyStateFile))
	opts := survey.Options{
		TransitionDelay:         config.Survey.TransitionDelay,
		AllowBackFromDone:       config.Survey.AllowBackFromDone,
		RequireEmailForLinkedin: config.Survey.RequireEmailForLinkedin,
	}

	return survey.New(store, backend, logger, opts)
}

// fatal exits with a login hint when the session is missing.
func fatal(logger *zap.Logger, msg string, err error) {
	if errors.Is(err, auth.ErrNoSession) {
		logger.Fatal(msg, zap.Error(err), zap.String("hint", loginHint))
	}
	if tally.IsUnauthorized(err) {
		logger.Fatal(msg, zap.Error(err), zap.String("hint", "session was rejected, "+loginHint))
	}
	logger.Fatal(msg, zap.Error(err))
}
