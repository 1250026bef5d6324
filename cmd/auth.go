package cmd

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/auth"
	"github.com/tally-ai/tally/internal/survey"
	"github.com/tally-ai/tally/internal/tally"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password, or start an OAuth sign in",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		logger, config := setup(cmd)

		manager, err := newSessionManager(config, logger)
		if err != nil {
			logger.Fatal("preparing the identity client", zap.Error(err))
		}

		if provider, _ := cmd.Flags().GetString("oauth"); provider != "" {
			link, err := manager.BeginOAuth(provider)
			if err != nil {
				logger.Fatal("starting oauth sign in", zap.Error(err))
			}

			fmt.Printf("Open this link to continue with %s:\n\n  %s\n\n", provider, link)
			fmt.Println("Then run: tally callback --code <code>")
			return
		}

		email, password, err := credentials(cmd)
		if err != nil {
			logger.Fatal("reading credentials", zap.Error(err))
		}

		session, err := manager.Login(ctx, email, password)
		if err != nil {
			logger.Fatal("signing in", zap.Error(err))
		}

		fmt.Printf("Signed in as %s\n", session.Email())
	},
}

var callbackCmd = &cobra.Command{
	Use:   "callback",
	Short: "Finish an OAuth sign in with the code from the redirect",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, config := setup(cmd)

		manager, err := newSessionManager(config, logger)
		if err != nil {
			logger.Fatal("preparing the identity client", zap.Error(err))
		}

		code, _ := cmd.Flags().GetString("code")
		session, err := manager.CompleteOAuth(cmd.Context(), code)
		if err != nil {
			logger.Fatal("completing oauth sign in", zap.Error(err))
		}

		fmt.Printf("Signed in as %s\n", session.Email())
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, config := setup(cmd)

		manager, err := newSessionManager(config, logger)
		if err != nil {
			logger.Fatal("preparing the identity client", zap.Error(err))
		}

		email, password, err := credentials(cmd)
		if err != nil {
			logger.Fatal("reading credentials", zap.Error(err))
		}

		result, err := manager.SignUp(cmd.Context(), email, password)
		if err != nil {
			logger.Fatal("signing up", zap.Error(err))
		}

		if result.NeedsConfirmation() {
			fmt.Printf("Check %s for a confirmation link, then run tally login\n", email)
			return
		}

		fmt.Printf("Account created, signed in as %s\n", result.Session.Email())
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the local session",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, config := setup(cmd)

		manager, err := newSessionManager(config, logger)
		if err != nil {
			logger.Fatal("preparing the identity client", zap.Error(err))
		}

		if err := manager.Logout(cmd.Context()); err != nil {
			logger.Fatal("signing out", zap.Error(err))
		}

		logger.Info("signed out")
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed in user as the backend knows it",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, config := setup(cmd)

		client, session, err := authorizedClient(cmd.Context(), config, logger)
		if err != nil {
			fatal(logger, "loading the session", err)
		}

		user, err := client.SyncUser(cmd.Context(), identityOf(session))
		if err != nil {
			fatal(logger, "syncing the user", err)
		}

		fmt.Printf("email: %s\n", user.Email)
		if user.Name != "" {
			fmt.Printf("name:  %s\n", user.Name)
		}
		fmt.Printf("role:  %s\n", user.Role)
		if user.Provisional {
			fmt.Println("(not stored by the backend yet)")
		}
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, callbackCmd, signupCmd, logoutCmd, whoamiCmd)

	for _, c := range []*cobra.Command{loginCmd, signupCmd} {
		c.Flags().StringP("email", "e", "", "account email, prompted when empty")
		c.Flags().StringP("password", "p", "", "account password, prompted when empty")
	}

	loginCmd.Flags().String("oauth", "", "sign in with an OAuth provider instead, e.g. google")
	callbackCmd.Flags().String("code", "", "authorization code from the redirect")
	callbackCmd.MarkFlagRequired("code")
}

func identityOf(session *auth.Session) tally.Identity {
	identity := tally.Identity{Email: session.Email()}
	if session.User != nil {
		identity.ID = session.User.ID
		identity.FullName = session.User.FullName()
	}
	return identity
}

// credentials reads email and password from flags, prompting for the missing ones.
func credentials(cmd *cobra.Command) (string, string, error) {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")

	if email == "" {
		prompt := promptui.Prompt{Label: "Email", Validate: survey.ValidateEmail}
		value, err := prompt.Run()
		if err != nil {
			return "", "", err
		}
		email = value
	}

	if password == "" {
		prompt := promptui.Prompt{
			Label: "Password",
			Mask:  '*',
			Validate: func(s string) error {
				if s == "" {
					return errors.New("password is required")
				}
				return nil
			},
		}
		value, err := prompt.Run()
		if err != nil {
			return "", "", err
		}
		password = value
	}

	return email, password, nil
}
