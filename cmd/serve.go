package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/secrets"
	"github.com/tally-ai/tally/internal/waitlist"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the service behind /api/add-email and /api/add-linkedin",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, config := setup(cmd)

		dsn, err := secrets.Load(secrets.Source{
			Name:  "database dsn",
			Value: config.Serve.DSN,
			Env:   "DATABASE_URL",
		})
		if err != nil {
			logger.Fatal("loading the database dsn", zap.Error(err), zap.String("hint", "set serve.dsn or TALLY_SERVE_DSN"))
		}

		repo, err := waitlist.Open(dsn, logger)
		if err != nil {
			logger.Fatal("opening the database", zap.Error(err))
		}
		defer repo.Close()

		if !viper.GetBool("debug") {
			gin.SetMode(gin.ReleaseMode)
		}

		router := waitlist.NewRouter(waitlist.NewHandler(repo, logger), config.Serve, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := waitlist.Serve(ctx, config.Serve.Addr, router, logger); err != nil {
			logger.Error("serving", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
}
